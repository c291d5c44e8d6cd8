package reader

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential-with-full-jitter reconnect delays for the
// Stream Reader (E), bounded between Min and Max (§4.4). Full jitter
// (AWS architecture blog's recommended strategy) avoids every stream's
// readers retrying in lockstep after a shared outage (e.g. a NAS
// reboot that serves several cameras' RTSP endpoints).
type Backoff struct {
	Min      time.Duration
	Max      time.Duration
	attempt  int
}

// NewBackoff creates a Backoff bounded to [min, max].
func NewBackoff(min, max time.Duration) *Backoff {
	return &Backoff{Min: min, Max: max}
}

// Next returns the delay before the next reconnect attempt and advances
// the internal attempt counter.
func (b *Backoff) Next() time.Duration {
	ceiling := b.Min * time.Duration(1<<uint(min(b.attempt, 20)))
	if ceiling > b.Max || ceiling <= 0 {
		ceiling = b.Max
	}
	b.attempt++
	if ceiling <= b.Min {
		return b.Min
	}
	return b.Min + time.Duration(rand.Int64N(int64(ceiling-b.Min)))
}

// Reset clears the attempt counter, called after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of attempts since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
