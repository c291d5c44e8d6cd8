package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/models"
)

func TestRing_PublishAndNext(t *testing.T) {
	r := New(1024)
	c := r.Subscribe()

	err := r.Publish(&models.Packet{Payload: []byte("a")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pkt, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pkt.Sequence)
}

func TestRing_SubscribeOnlySeesFuturePackets(t *testing.T) {
	r := New(1024)
	require.NoError(t, r.Publish(&models.Packet{Payload: []byte("a")}))

	c := r.Subscribe()
	require.NoError(t, r.Publish(&models.Packet{Payload: []byte("b")}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pkt, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pkt.Sequence)
}

func TestRing_NextBlocksUntilPublish(t *testing.T) {
	r := New(1024)
	c := r.Subscribe()

	done := make(chan *models.Packet, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pkt, err := c.Next(ctx)
		if err == nil {
			done <- pkt
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Publish(&models.Packet{Payload: []byte("x")}))

	select {
	case pkt := <-done:
		assert.Equal(t, uint64(1), pkt.Sequence)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Publish")
	}
}

func TestRing_DropOldestEvictsUnderCapacity(t *testing.T) {
	r := New(10) // 10 bytes capacity

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Publish(&models.Packet{Payload: []byte("1234")}))
	}

	r.mu.RLock()
	size := r.size
	count := len(r.packets)
	r.mu.RUnlock()

	assert.LessOrEqual(t, size, int64(10)+4, "ring should have evicted down near capacity")
	assert.Less(t, count, 5, "ring should have dropped some packets")
}

func TestCursor_LaggedWhenEvicted(t *testing.T) {
	r := New(8) // small capacity forces fast eviction
	c := r.Subscribe()

	// Publish several packets that exceed capacity, evicting the ones the
	// cursor has not read yet.
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Publish(&models.Packet{Payload: []byte("1234")}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Next(ctx)
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, models.KindRingLagged, kind)

	// After observing the lag, the cursor should be able to keep reading.
	pkt, err := c.Next(ctx)
	require.NoError(t, err)
	assert.NotNil(t, pkt)
}

func TestRing_CloseWakesCursors(t *testing.T) {
	r := New(1024)
	c := r.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
		kind, ok := models.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, models.KindShutdown, kind)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestRing_Unsubscribe(t *testing.T) {
	r := New(1024)
	c := r.Subscribe()

	r.cursorsMu.RLock()
	_, ok := r.cursors[c.id]
	r.cursorsMu.RUnlock()
	assert.True(t, ok)

	r.Unsubscribe(c)

	r.cursorsMu.RLock()
	_, ok = r.cursors[c.id]
	r.cursorsMu.RUnlock()
	assert.False(t, ok)
}
