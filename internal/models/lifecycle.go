package models

import "time"

// LifecycleState is a stream's position in the Lifecycle Manager's (G)
// per-stream state machine (§4.7).
type LifecycleState string

const (
	LifecycleIdle       LifecycleState = "idle"
	LifecycleConnecting LifecycleState = "connecting"
	LifecycleRunning    LifecycleState = "running"
	LifecycleBackoff    LifecycleState = "backoff"
	LifecycleStopping   LifecycleState = "stopping"
	LifecycleFailed     LifecycleState = "failed"
)

// LifecycleRecord is the Lifecycle Manager's in-memory (non-persisted)
// bookkeeping for one stream's quartet of collaborators (Stream Reader,
// MP4 Segmenter, HLS Writer and Detection Tap) and the Packet Ring
// between them. It is
// rebuilt on startup from the Config Store and never written to the
// Catalog directly.
type LifecycleRecord struct {
	StreamID string
	State    LifecycleState

	LastErrorKind Kind
	LastError     string

	Attempt      int
	NextRetryAt  time.Time
}

// CanTransition reports whether moving from the current state to next is
// a legal edge in the lifecycle state machine.
func (r *LifecycleRecord) CanTransition(next LifecycleState) bool {
	switch r.State {
	case LifecycleIdle:
		return next == LifecycleConnecting || next == LifecycleStopping
	case LifecycleConnecting:
		return next == LifecycleRunning || next == LifecycleBackoff || next == LifecycleStopping
	case LifecycleRunning:
		return next == LifecycleBackoff || next == LifecycleStopping
	case LifecycleBackoff:
		return next == LifecycleConnecting || next == LifecycleStopping || next == LifecycleFailed
	case LifecycleStopping:
		return next == LifecycleIdle
	case LifecycleFailed:
		return next == LifecycleConnecting || next == LifecycleStopping
	default:
		return false
	}
}
