package hls

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
)

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func keyframePayload() []byte {
	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	idr := []byte{0x65, 0x88, 0x84, 0x00}
	return annexB(sps, pps, idr)
}

func nonKeyframePayload() []byte {
	return annexB([]byte{0x41, 0x9a, 0x02})
}

func newTestWriter(t *testing.T, cfg Config) (*Writer, *ring.Ring, string) {
	t.Helper()
	r := ring.New(1 << 20)
	cursor := r.Subscribe()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := New("cam1", cursor, dir, cfg, log)
	return w, r, dir
}

func TestWriter_WritesInitOnFirstKeyframe(t *testing.T) {
	w, r, dir := newTestWriter(t, Config{WindowSegments: 3, SegmentDuration: time.Hour})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 1000, Codec: "h264", Flags: models.FlagKeyFrame, Payload: keyframePayload()}))

	time.Sleep(50 * time.Millisecond)
	r.Close()
	require.NoError(t, <-done)

	data, err := os.ReadFile(filepath.Join(dir, "init.mp4"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestWriter_PublishesSegmentAndManifestOnShutdown(t *testing.T) {
	w, r, dir := newTestWriter(t, Config{WindowSegments: 3, SegmentDuration: time.Hour})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 1000, Codec: "h264", Flags: models.FlagKeyFrame, Payload: keyframePayload()}))
	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 33000, Codec: "h264", Payload: nonKeyframePayload()}))

	time.Sleep(50 * time.Millisecond)
	r.Close()
	require.NoError(t, <-done)

	manifest, err := os.ReadFile(filepath.Join(dir, "index.m3u8"))
	require.NoError(t, err)
	text := string(manifest)
	assert.Contains(t, text, "#EXTM3U")
	assert.Contains(t, text, "#EXT-X-MAP:URI=\"init.mp4\"")
	assert.Contains(t, text, "0.m4s")
	assert.Contains(t, text, "#EXT-X-ENDLIST")

	_, err = os.Stat(filepath.Join(dir, "0.m4s"))
	require.NoError(t, err)
}

func TestWriter_EvictsSegmentsBeyondWindow(t *testing.T) {
	w, r, dir := newTestWriter(t, Config{WindowSegments: 2, SegmentDuration: 0})
	w.cfg.SegmentDuration = time.Nanosecond // rotate on every key frame

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Publish(&models.Packet{
			PTSMicros: int64(1000 * (i + 1)),
			Codec:     "h264",
			Flags:     models.FlagKeyFrame,
			Payload:   keyframePayload(),
		}))
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	r.Close()
	require.NoError(t, <-done)

	manifest, err := os.ReadFile(filepath.Join(dir, "index.m3u8"))
	require.NoError(t, err)
	segmentLines := 0
	for _, line := range strings.Split(string(manifest), "\n") {
		if strings.HasSuffix(line, ".m4s") {
			segmentLines++
		}
	}
	assert.LessOrEqual(t, segmentLines, 2, "manifest should never list more than WindowSegments entries")
}

func TestWriter_DiscontinuityRotatesSegment(t *testing.T) {
	w, r, _ := newTestWriter(t, Config{WindowSegments: 3, SegmentDuration: time.Hour})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 1000, Codec: "h264", Flags: models.FlagKeyFrame, Payload: keyframePayload()}))
	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 2000, Codec: "h264", Flags: models.FlagDiscontinuity, Payload: nonKeyframePayload()}))
	require.NoError(t, r.Publish(&models.Packet{PTSMicros: 3000, Codec: "h264", Flags: models.FlagKeyFrame, Payload: keyframePayload()}))

	time.Sleep(50 * time.Millisecond)
	r.Close()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.window, 2)
	assert.False(t, w.window[0].discontinuity, "the segment closed by the discontinuity isn't itself discontinuous")
	assert.True(t, w.window[1].discontinuity, "the segment following the gap carries the tag")
}
