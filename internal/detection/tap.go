// Package detection implements the Detection Tap (D): a throttled,
// best-effort observer of key-frame packets that forwards still-encoded
// snapshots to an external detection collaborator and records positive
// results as Catalog events. The core never decodes pixels (§1
// Non-goals); the collaborator receives the same container-level bytes
// the Segmenter and HLS Writer consume.
package detection

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensensor/lightnvr/internal/breaker"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
)

// Snapshot is the still-encoded key frame handed to the collaborator.
type Snapshot struct {
	StreamID  string
	Codec     string
	Payload   []byte
	Timestamp time.Time
}

// Result is a positive detection returned by the collaborator. A nil
// *Result (with a nil error) means no detection was made; the Tap writes
// nothing to the Catalog in that case.
type Result struct {
	Label      string
	Confidence float64
	BBox       models.BoundingBox
}

// Collaborator is the external detection service contract.
type Collaborator interface {
	Detect(ctx context.Context, snap Snapshot) (*Result, error)
}

// EventWriter is the Recording Catalog (F) surface the Tap needs: durably
// recording a positive detection result.
type EventWriter interface {
	InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) error
}

// Config controls sampling rate, the per-call time budget, and the
// breaker guarding the collaborator.
type Config struct {
	Cooldown       time.Duration
	RequestTimeout time.Duration
	Breaker        breaker.Config
}

// Tap drains one stream's ring.Cursor, samples key frames at Cooldown
// intervals, and forwards each sample to the collaborator.
type Tap struct {
	streamName    string
	cursor        *ring.Cursor
	collaborator  Collaborator
	events        EventWriter
	cfg           Config
	cb            *breaker.CircuitBreaker
	log           *slog.Logger
	currentSegID  func() string
}

// New creates a Detection Tap for one stream. currentSegID is consulted
// at detection time to stamp the active Segment onto any resulting
// event; it may return "" if no segment is currently open, in which case
// a positive detection is logged but not recorded (it has nothing to be
// parented to).
func New(streamName string, cursor *ring.Cursor, collaborator Collaborator, events EventWriter, cfg Config, currentSegID func() string, log *slog.Logger) *Tap {
	return &Tap{
		streamName:   streamName,
		cursor:       cursor,
		collaborator: collaborator,
		events:       events,
		cfg:          cfg,
		cb:           breaker.New(cfg.Breaker),
		currentSegID: currentSegID,
		log:          log.With("stream", streamName, "component", "detection"),
	}
}

// Run drains the cursor until it reports shutdown or ctx is done.
// Detection never blocks the Segmenter or HLS Writer: this loop only
// ever reads from its own cursor, a private view onto the ring, and
// every collaborator call is bounded by RequestTimeout.
func (t *Tap) Run(ctx context.Context) error {
	var lastSample time.Time

	for {
		pkt, err := t.cursor.Next(ctx)
		if err != nil {
			kind, _ := models.KindOf(err)
			switch kind {
			case models.KindShutdown:
				return nil
			case models.KindRingLagged:
				// A missed key frame just means the next one is sampled
				// normally; lag carries no special meaning for detection.
				continue
			default:
				return err
			}
		}

		if pkt.IsAudio() || !pkt.IsKeyFrame() {
			continue
		}
		if !lastSample.IsZero() && time.Since(lastSample) < t.cfg.Cooldown {
			continue
		}
		lastSample = time.Now()

		t.sample(ctx, pkt)
	}
}

func (t *Tap) sample(ctx context.Context, pkt *models.Packet) {
	if !t.cb.Allow() {
		t.log.Debug("collaborator circuit open, discarding snapshot")
		return
	}

	snap := Snapshot{
		StreamID:  t.streamName,
		Codec:     pkt.Codec,
		Payload:   pkt.Clone().Payload,
		Timestamp: time.Now(),
	}

	callCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	result, err := t.collaborator.Detect(callCtx, snap)
	if err != nil {
		t.cb.RecordFailure()
		t.log.Warn("detection call failed, discarding snapshot", "error", err)
		return
	}
	t.cb.RecordSuccess()

	if result == nil {
		return
	}

	segID := ""
	if t.currentSegID != nil {
		segID = t.currentSegID()
	}
	if segID == "" {
		t.log.Debug("positive detection with no active segment, dropping event", "label", result.Label)
		return
	}

	ev := &models.DetectionEvent{
		StreamID:   t.streamName,
		SegmentID:  segID,
		Timestamp:  snap.Timestamp,
		Label:      result.Label,
		Confidence: result.Confidence,
		BBox:       result.BBox,
	}
	if err := t.events.InsertDetectionEvent(ctx, ev); err != nil {
		t.log.Error("failed to record detection event", "error", err)
	}
}
