// Package hls implements the HLS Writer (C): a rolling live-playback
// window of small fMP4 segments plus an `index.m3u8` manifest, kept
// alongside the MP4 Segmenter's durable recordings but on an
// independent rotation schedule (§4.3).
package hls

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/opensensor/lightnvr/internal/codecutil"
	"github.com/opensensor/lightnvr/internal/fmp4io"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
	"github.com/opensensor/lightnvr/internal/storage"
)

// Config controls the live window's size and rotation cadence.
type Config struct {
	// WindowSegments is the number of segments kept in the live playlist.
	WindowSegments int
	// SegmentDuration is the nominal length of one live segment before
	// rotating onto the next key frame boundary.
	SegmentDuration time.Duration
}

// gracePeriod is how long an evicted segment file is kept on disk after
// leaving the playlist window, so a client mid-fetch can still finish.
func (c Config) gracePeriod() time.Duration {
	return 2 * c.SegmentDuration
}

// Writer drains one stream's ring.Cursor into a live HLS window under
// baseDir, e.g. "<storage_root>/recordings/hls/<stream>".
type Writer struct {
	streamName string
	cursor     *ring.Cursor
	baseDir    string
	cfg        Config
	log        *slog.Logger

	sandbox *storage.Sandbox

	mu       sync.Mutex
	window   []segmentEntry
	mediaSeq uint64
}

type segmentEntry struct {
	sequence      uint64
	name          string
	duration      time.Duration
	discontinuity bool
}

// New creates an HLS Writer for one stream.
func New(streamName string, cursor *ring.Cursor, baseDir string, cfg Config, log *slog.Logger) *Writer {
	return &Writer{
		streamName: streamName,
		cursor:     cursor,
		baseDir:    baseDir,
		cfg:        cfg,
		log:        log.With("stream", streamName, "component", "hls"),
	}
}

type openSegment struct {
	sequence      uint64
	name          string
	path          string
	f             *os.File
	frag          *fmp4io.FragmentWriter
	startTime     time.Time
	discontinuity bool
}

// Run drains the cursor, producing rotating live segments until the
// cursor reports shutdown or ctx is done, at which point the final
// manifest carries an ENDLIST tag.
func (w *Writer) Run(ctx context.Context) error {
	sandbox, err := storage.NewSandbox(w.baseDir)
	if err != nil {
		return fmt.Errorf("create hls directory: %w", err)
	}
	w.sandbox = sandbox

	var cur *openSegment
	var initWritten bool
	var nextSeq uint64
	var nextFragSeq uint32 = 1
	var pendingDiscontinuity bool

	// finalize closes the in-progress segment; the #EXT-X-DISCONTINUITY
	// tag belongs on the *next* segment (the one whose timestamps jump),
	// not the one being closed, so discontinuities are tracked via
	// pendingDiscontinuity and consumed when the next segment opens.
	finalize := func() {
		if cur == nil {
			return
		}
		w.finalizeSegment(cur)
		cur = nil
	}

	defer func() {
		finalize()
		w.writeManifest(true)
	}()

	for {
		pkt, err := w.cursor.Next(ctx)
		if err != nil {
			kind, _ := models.KindOf(err)
			switch kind {
			case models.KindShutdown:
				return nil
			case models.KindRingLagged:
				w.log.Warn("ring lagged, rotating live segment early")
				finalize()
				pendingDiscontinuity = true
				continue
			default:
				return err
			}
		}

		if pkt.IsAudio() {
			continue
		}

		if !initWritten {
			if !pkt.IsKeyFrame() {
				continue
			}
			params := codecutil.ExtractParamSets(pkt.Codec, pkt.Payload)
			if params == nil {
				continue
			}
			if err := w.writeInit(pkt.Codec, params); err != nil {
				w.log.Error("failed to write hls init segment", "error", err)
				continue
			}
			initWritten = true
		}

		if cur == nil {
			if !pkt.IsKeyFrame() {
				continue
			}
			seg, err := w.openSegment(nextSeq, nextFragSeq)
			if err != nil {
				w.log.Error("failed to open live segment", "error", err)
				continue
			}
			nextSeq++
			seg.discontinuity = pendingDiscontinuity
			pendingDiscontinuity = false
			cur = seg
		}

		if pkt.IsDiscontinuity() {
			finalize()
			pendingDiscontinuity = true
			continue
		}

		if _, err := cur.frag.WriteAccessUnit(cur.f, pkt); err != nil {
			w.log.Error("live segment write failed, rotating", "error", err)
			finalize()
			continue
		}
		nextFragSeq = cur.frag.NextSequence()

		if pkt.IsKeyFrame() && time.Since(cur.startTime) >= w.cfg.SegmentDuration {
			finalize()
		}
	}
}

func (w *Writer) writeInit(codec string, params [][]byte) error {
	data, err := fmp4io.BuildInit(codec, params)
	if err != nil {
		return err
	}
	if err := w.sandbox.AtomicWrite("init.mp4", data); err != nil {
		return fmt.Errorf("write init.mp4: %w", err)
	}
	return nil
}

func (w *Writer) openSegment(sequence uint64, startFragSeq uint32) (*openSegment, error) {
	name := fmt.Sprintf("%d.m4s", sequence)
	path, err := w.sandbox.ResolvePath(name)
	if err != nil {
		return nil, fmt.Errorf("resolve live segment path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create live segment file: %w", err)
	}
	return &openSegment{
		sequence:  sequence,
		name:      name,
		path:      path,
		f:         f,
		frag:      fmp4io.NewFragmentWriter(startFragSeq),
		startTime: time.Now(),
	}, nil
}

// finalizeSegment fsyncs and closes the segment file, appends it to the
// window, evicts anything beyond WindowSegments (scheduling a grace-
// period delete for each), and republishes the manifest. A segment with
// zero frames (e.g. immediately superseded by a discontinuity) is
// discarded rather than published.
func (w *Writer) finalizeSegment(cur *openSegment) {
	syncErr := cur.f.Sync()
	closeErr := cur.f.Close()
	if syncErr != nil || closeErr != nil {
		w.log.Error("failed to close live segment", "sync_error", syncErr, "close_error", closeErr, "path", cur.path)
		_ = os.Remove(cur.path)
		return
	}
	if cur.frag.Frames() == 0 {
		_ = os.Remove(cur.path)
		return
	}

	w.mu.Lock()
	w.window = append(w.window, segmentEntry{
		sequence:      cur.sequence,
		name:          cur.name,
		duration:      time.Since(cur.startTime),
		discontinuity: cur.discontinuity,
	})
	if len(w.window) == 1 {
		w.mediaSeq = cur.sequence
	}

	var evicted []segmentEntry
	for len(w.window) > w.cfg.WindowSegments {
		evicted = append(evicted, w.window[0])
		w.window = w.window[1:]
	}
	w.mu.Unlock()

	for _, e := range evicted {
		w.scheduleEviction(e)
	}

	w.writeManifest(false)
}

func (w *Writer) scheduleEviction(e segmentEntry) {
	path, err := w.sandbox.ResolvePath(e.name)
	if err != nil {
		w.log.Warn("failed to resolve expired live segment path", "name", e.name, "error", err)
		return
	}
	time.AfterFunc(w.cfg.gracePeriod(), func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.log.Warn("failed to unlink expired live segment", "path", path, "error", err)
		}
	})
}

// writeManifest rebuilds index.m3u8 from the current window and
// atomically renames it into place, so no reader ever observes a
// half-written playlist.
func (w *Writer) writeManifest(ended bool) {
	w.mu.Lock()
	segs := make([]segmentEntry, len(w.window))
	copy(segs, w.window)
	mediaSeq := w.mediaSeq
	w.mu.Unlock()

	if len(segs) == 0 && !ended {
		return
	}

	targetDuration := int(w.cfg.SegmentDuration.Round(time.Second).Seconds())
	if targetDuration < 1 {
		targetDuration = 1
	}

	var b []byte
	b = append(b, "#EXTM3U\n"...)
	b = append(b, "#EXT-X-VERSION:7\n"...)
	b = append(b, fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration)...)
	b = append(b, fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)...)
	b = append(b, "#EXT-X-MAP:URI=\"init.mp4\"\n"...)

	for _, seg := range segs {
		if seg.discontinuity {
			b = append(b, "#EXT-X-DISCONTINUITY\n"...)
		}
		b = append(b, fmt.Sprintf("#EXTINF:%.3f,\n", seg.duration.Seconds())...)
		b = append(b, seg.name+"\n"...)
	}
	if ended {
		b = append(b, "#EXT-X-ENDLIST\n"...)
	}

	if err := w.sandbox.AtomicWrite("index.m3u8", b); err != nil {
		w.log.Error("failed to write manifest", "error", err)
	}
}
