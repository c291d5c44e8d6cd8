// Package segmenter implements the MP4 Segmenter (B): the sole consumer
// that turns a stream's ring of packets into durable, catalog-tracked
// fMP4 recording files (§4.2).
//
// State machine: waiting-for-keyframe -> writing -> rotating -> closing.
// Entry to writing always requires a key frame carrying a full parameter
// set, so every standalone segment file is independently playable.
package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
)

// Catalog is the Recording Catalog (F) surface the Segmenter needs:
// durably persisting a just-closed segment row.
type Catalog interface {
	InsertSegment(ctx context.Context, seg *models.Segment) error
}

// Config controls rotation thresholds for one Segmenter.
type Config struct {
	TargetDuration time.Duration
	MaxBytes       int64
}

// Hooks lets the Lifecycle Manager (G) observe the Segmenter's terminal
// failure without a package-level dependency in either direction.
type Hooks struct {
	// OnFailed is called after three consecutive segment-open failures,
	// per §4.2's failure semantics.
	OnFailed func(err error)
}

// Segmenter drains one stream's ring.Cursor into a sequence of fMP4
// files under baseDir, finalizing each into the Catalog as it closes.
type Segmenter struct {
	streamName string
	cursor     *ring.Cursor
	baseDir    string
	cfg        Config
	catalog    Catalog
	hooks      Hooks
	log        *slog.Logger

	currentID atomic.Value // string, the ULID of the in-progress segment, "" when none
}

// New creates a Segmenter for one stream. baseDir is the per-stream
// recording root, e.g. "<storage_root>/recordings/mp4/<stream>".
func New(streamName string, cursor *ring.Cursor, baseDir string, cfg Config, catalog Catalog, hooks Hooks, log *slog.Logger) *Segmenter {
	s := &Segmenter{
		streamName: streamName,
		cursor:     cursor,
		baseDir:    baseDir,
		cfg:        cfg,
		catalog:    catalog,
		hooks:      hooks,
		log:        log.With("stream", streamName, "component", "segmenter"),
	}
	s.currentID.Store("")
	return s
}

// CurrentSegmentID reports the ULID of the in-progress segment, or "" if
// none is open. Safe to call concurrently with Run; the Detection Tap
// (D) uses this to parent a detection event to the segment that was
// open at the sampled timestamp.
func (s *Segmenter) CurrentSegmentID() string {
	return s.currentID.Load().(string)
}

type openSegment struct {
	id        models.ULID
	writer    *fileWriter
	path      string
	startTime time.Time
	codec     string
}

// Run drains the cursor until it returns a shutdown error (ring closed)
// or ctx is done, finalizing any in-progress segment on the way out.
func (s *Segmenter) Run(ctx context.Context) error {
	var cur *openSegment
	openFailures := 0

	closeCurrent := func(discontinuity bool) {
		if cur == nil {
			return
		}
		s.finalize(ctx, cur, discontinuity)
		cur = nil
		s.currentID.Store("")
	}

	for {
		pkt, err := s.cursor.Next(ctx)
		if err != nil {
			kind, _ := models.KindOf(err)
			switch kind {
			case models.KindShutdown:
				closeCurrent(false)
				return nil
			case models.KindRingLagged:
				// The ring dropped packets this cursor hadn't read yet;
				// the in-progress segment can no longer be trusted to
				// be contiguous, so close it early and wait for a fresh
				// key frame.
				s.log.Warn("ring lagged, closing segment early")
				closeCurrent(true)
				continue
			default:
				closeCurrent(false)
				return err
			}
		}

		if cur == nil {
			if !pkt.IsKeyFrame() {
				continue
			}
			params := extractParamSets(pkt.Codec, pkt.Payload)
			if params == nil {
				continue // key frame without a full parameter set; keep waiting
			}

			seg, openErr := s.openSegment(pkt, params)
			if openErr != nil {
				openFailures++
				s.log.Error("failed to open segment", "error", openErr, "attempt", openFailures)
				if openFailures >= 3 {
					if s.hooks.OnFailed != nil {
						s.hooks.OnFailed(openErr)
					}
					return openErr
				}
				continue
			}
			openFailures = 0
			cur = seg
			s.currentID.Store(seg.id.String())
		}

		if pkt.IsDiscontinuity() {
			closeCurrent(true)
			continue
		}

		if err := cur.writer.writeAccessUnit(pkt); err != nil {
			s.log.Error("write failed, closing segment", "error", err)
			closeCurrent(false)
			continue
		}

		if pkt.IsKeyFrame() && s.shouldRotate(cur) {
			closeCurrent(false)
		}
	}
}

func (s *Segmenter) shouldRotate(cur *openSegment) bool {
	if s.cfg.MaxBytes > 0 && cur.writer.size() >= s.cfg.MaxBytes {
		return true
	}
	if s.cfg.TargetDuration > 0 && time.Since(cur.startTime) >= s.cfg.TargetDuration {
		return true
	}
	return false
}

func (s *Segmenter) openSegment(pkt *models.Packet, params [][]byte) (*openSegment, error) {
	id := models.NewULID()
	now := time.Now().UTC()
	dir := filepath.Join(s.baseDir, now.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}
	path := filepath.Join(dir, id.String()+".mp4")

	fw, err := createFile(path)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	if err := fw.writeInit(pkt.Codec, params); err != nil {
		fw.f.Close()
		return nil, fmt.Errorf("write segment init: %w", err)
	}

	return &openSegment{id: id, writer: fw, path: path, startTime: now, codec: pkt.Codec}, nil
}

// finalize closes and fsyncs the segment file, then blocks until the
// Catalog has durably recorded it (or rejected it), per the finalize
// contract in §4.2. finalize never returns an error to the caller: a
// Catalog rejection is logged and the segmenter moves on, matching the
// teacher's never-block-the-pipeline posture for best-effort side
// effects.
func (s *Segmenter) finalize(ctx context.Context, cur *openSegment, discontinuity bool) {
	if err := cur.writer.closeSynced(); err != nil {
		s.log.Error("failed to close segment file", "error", err, "path", cur.path)
		return
	}
	if cur.writer.frames() == 0 {
		_ = os.Remove(cur.path)
		return
	}

	seg := &models.Segment{
		StreamID:  s.streamName,
		Path:      cur.path,
		Codec:     cur.codec,
		StartTime: cur.startTime,
		EndTime:   time.Now().UTC(),
		Bytes:     cur.writer.size(),
		Frames:    int64(cur.writer.frames()),
		Complete:  true,
	}
	seg.ID = cur.id

	if err := s.catalog.InsertSegment(ctx, seg); err != nil {
		kind, _ := models.KindOf(err)
		s.log.Error("catalog rejected segment", "error", err, "kind", kind, "path", cur.path)
		return
	}
	s.log.Info("segment finalized", "path", cur.path, "bytes", seg.Bytes, "frames", seg.Frames, "discontinuity", discontinuity)
}
