package detection

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/breaker"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
)

type fakeCollaborator struct {
	mu      sync.Mutex
	calls   int
	result  *Result
	err     error
	delay   time.Duration
}

func (f *fakeCollaborator) Detect(ctx context.Context, snap Snapshot) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEventWriter struct {
	mu     sync.Mutex
	events []*models.DetectionEvent
}

func (f *fakeEventWriter) InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func keyframePacket(ptsMicros int64) *models.Packet {
	return &models.Packet{
		PTSMicros: ptsMicros,
		Codec:     "h264",
		Flags:     models.FlagKeyFrame,
		Payload:   []byte{0x65, 0x88, 0x84, 0x00},
	}
}

func newTestTap(t *testing.T, collaborator Collaborator, events EventWriter, cfg Config, segID func() string) (*Tap, *ring.Ring) {
	t.Helper()
	r := ring.New(1 << 20)
	cursor := r.Subscribe()
	tap := New("cam1", cursor, collaborator, events, cfg, segID, testLogger())
	return tap, r
}

func TestTap_RecordsPositiveDetection(t *testing.T) {
	collab := &fakeCollaborator{result: &Result{Label: "person", Confidence: 0.9}}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Hour,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second},
	}, func() string { return "seg-1" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	require.NoError(t, r.Publish(keyframePacket(1000)))

	require.Eventually(t, func() bool { return events.count() == 1 }, time.Second, 5*time.Millisecond)

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, "seg-1", events.events[0].SegmentID)
	assert.Equal(t, "person", events.events[0].Label)
}

func TestTap_DiscardsOnNegativeResult(t *testing.T) {
	collab := &fakeCollaborator{result: nil}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Hour,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second},
	}, func() string { return "seg-1" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	require.NoError(t, r.Publish(keyframePacket(1000)))
	time.Sleep(30 * time.Millisecond)

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, 0, events.count())
}

func TestTap_SkipsEventWhenNoActiveSegment(t *testing.T) {
	collab := &fakeCollaborator{result: &Result{Label: "person", Confidence: 0.5}}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Hour,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second},
	}, func() string { return "" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	require.NoError(t, r.Publish(keyframePacket(1000)))
	time.Sleep(30 * time.Millisecond)

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, 0, events.count())
}

func TestTap_ThrottlesSamplesByCooldown(t *testing.T) {
	collab := &fakeCollaborator{result: nil}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Hour,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second},
	}, func() string { return "seg-1" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	require.NoError(t, r.Publish(keyframePacket(1000)))
	require.NoError(t, r.Publish(keyframePacket(2000)))
	require.NoError(t, r.Publish(keyframePacket(3000)))
	time.Sleep(30 * time.Millisecond)

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, 1, collab.callCount(), "only the first key frame within the cooldown window should be sampled")
}

func TestTap_OpensCircuitAfterRepeatedFailures(t *testing.T) {
	collab := &fakeCollaborator{err: errors.New("collaborator unreachable")}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Millisecond,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour},
	}, func() string { return "seg-1" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Publish(keyframePacket(int64(1000*(i+1)))))
		time.Sleep(5 * time.Millisecond)
	}

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, breaker.Open, tap.cb.State())
	assert.Less(t, collab.callCount(), 5, "the breaker should have started rejecting calls before all 5 samples were attempted")
}

func TestTap_IgnoresNonKeyframesAndAudio(t *testing.T) {
	collab := &fakeCollaborator{result: &Result{Label: "x"}}
	events := &fakeEventWriter{}
	tap, r := newTestTap(t, collab, events, Config{
		Cooldown:       time.Millisecond,
		RequestTimeout: time.Second,
		Breaker:        breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second},
	}, func() string { return "seg-1" })

	done := make(chan error, 1)
	go func() { done <- tap.Run(context.Background()) }()

	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 1000, Codec: "h264", Payload: []byte{0x41}}))
	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 1001, Codec: "h264", Flags: models.FlagAudio | models.FlagKeyFrame, Payload: []byte{0x01}}))
	time.Sleep(20 * time.Millisecond)

	r.Close()
	require.NoError(t, <-done)

	assert.Equal(t, 0, collab.callCount())
}
