// Package ring implements the Packet Ring (A): a per-stream, bounded,
// multi-consumer buffer of demuxed packets sitting between the Stream
// Reader (E) and its downstream consumers (MP4 Segmenter, HLS Writer,
// Detection Tap). It is a single-producer/multi-consumer structure:
// exactly one Stream Reader publishes; any number of cursors read.
//
// Grounded on the cyclic-buffer-with-per-client-cursor pattern in
// relay/cyclic_buffer.go, generalized from byte chunks to models.Packet
// and from a pure size/time eviction policy to a byte-capacity ring with
// explicit lag reporting (§4.1, §7 ring_lagged).
package ring

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensensor/lightnvr/internal/models"
)

// Ring is a bounded, multi-consumer buffer of packets for one stream.
type Ring struct {
	capacityBytes int64

	mu       sync.RWMutex
	packets  []*models.Packet
	size     int64
	sequence atomic.Uint64
	closed   bool

	cursorsMu sync.RWMutex
	cursors   map[uuid.UUID]*Cursor
}

// New creates a Ring bounded to capacityBytes of packet payload.
func New(capacityBytes int64) *Ring {
	return &Ring{
		capacityBytes: capacityBytes,
		cursors:       make(map[uuid.UUID]*Cursor),
	}
}

// Publish appends a packet to the ring, evicting the oldest packets
// (drop-oldest) if the byte capacity is exceeded, and wakes any cursor
// blocked in Next. The Stream Reader is the ring's sole producer.
func (r *Ring) Publish(pkt *models.Packet) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.NewError("ring.Publish", models.KindShutdown, nil)
	}

	pkt.Sequence = r.sequence.Add(1)
	r.packets = append(r.packets, pkt)
	r.size += int64(len(pkt.Payload))
	r.evict()
	r.mu.Unlock()

	r.notifyCursors()
	return nil
}

// evict drops the oldest packets until the ring is within capacity.
// Must be called with mu held.
func (r *Ring) evict() {
	for r.capacityBytes > 0 && r.size > r.capacityBytes && len(r.packets) > 1 {
		removed := r.packets[0]
		r.packets = r.packets[1:]
		r.size -= int64(len(removed.Payload))
	}
}

// oldestSequence returns the lowest sequence number still retained, or 0
// if the ring is empty. Must be called with mu held for reading.
func (r *Ring) oldestSequence() uint64 {
	if len(r.packets) == 0 {
		return 0
	}
	return r.packets[0].Sequence
}

func (r *Ring) notifyCursors() {
	r.cursorsMu.RLock()
	defer r.cursorsMu.RUnlock()
	for _, c := range r.cursors {
		c.notify()
	}
}

// Subscribe creates a new Cursor starting at the ring's current tail, so
// the consumer only sees packets published after subscription.
func (r *Ring) Subscribe() *Cursor {
	r.mu.RLock()
	start := r.sequence.Load()
	r.mu.RUnlock()

	c := &Cursor{
		id:     uuid.New(),
		ring:   r,
		waitCh: make(chan struct{}, 1),
	}
	c.lastSeq.Store(start)

	r.cursorsMu.Lock()
	r.cursors[c.id] = c
	r.cursorsMu.Unlock()

	return c
}

// Unsubscribe removes a cursor, releasing its resources.
func (r *Ring) Unsubscribe(c *Cursor) {
	r.cursorsMu.Lock()
	delete(r.cursors, c.id)
	r.cursorsMu.Unlock()
}

// Close marks the ring closed and wakes all blocked cursors so they can
// observe shutdown rather than block forever.
func (r *Ring) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.notifyCursors()
}

// Cursor is one consumer's read position into a Ring.
type Cursor struct {
	id      uuid.UUID
	ring    *Ring
	lastSeq atomic.Uint64
	waitCh  chan struct{}
}

func (c *Cursor) notify() {
	select {
	case c.waitCh <- struct{}{}:
	default:
	}
}

// Next returns the next packet after the cursor's position, blocking
// until one is published or ctx is done. If the cursor has fallen behind
// the ring's retained window (the producer evicted packets the cursor
// had not yet read), Next returns a ring_lagged CoreError and silently
// re-synchronizes the cursor to the oldest retained packet so the
// consumer can keep making progress on its next call.
func (c *Cursor) Next(ctx context.Context) (*models.Packet, error) {
	for {
		pkt, lagged, closed := c.poll()
		if closed {
			return nil, models.NewError("ring.Next", models.KindShutdown, nil)
		}
		if lagged {
			return nil, models.NewError("ring.Next", models.KindRingLagged, nil)
		}
		if pkt != nil {
			return pkt, nil
		}

		select {
		case <-c.waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Cursor) poll() (pkt *models.Packet, lagged bool, closed bool) {
	c.ring.mu.RLock()
	defer c.ring.mu.RUnlock()

	if c.ring.closed {
		return nil, false, true
	}

	last := c.lastSeq.Load()
	oldest := c.ring.oldestSequence()
	if oldest != 0 && last < oldest-1 {
		c.lastSeq.Store(oldest - 1)
		return nil, true, false
	}

	for _, p := range c.ring.packets {
		if p.Sequence > last {
			c.lastSeq.Store(p.Sequence)
			return p, false, false
		}
	}
	return nil, false, false
}

// Lag reports how many packets the cursor is behind the ring's head.
func (c *Cursor) Lag() uint64 {
	head := c.ring.sequence.Load()
	last := c.lastSeq.Load()
	if head < last {
		return 0
	}
	return head - last
}
