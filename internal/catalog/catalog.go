// Package catalog implements the Recording Catalog (F): the durable
// SQLite-backed record of every segment and detection event the core
// produces, plus the retention sweep that keeps storage within quota
// (§4.6).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/opensensor/lightnvr/internal/models"
)

// Store is the Catalog's GORM-backed implementation, satisfying the
// segmenter.Catalog and detection.EventWriter dangling interfaces those
// packages declare against it.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// New wraps an open database connection as a Catalog Store.
func New(db *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log.With("component", "catalog")}
}

// InsertSegment records a just-finalized segment. Implements
// segmenter.Catalog.
func (s *Store) InsertSegment(ctx context.Context, seg *models.Segment) error {
	if err := s.db.WithContext(ctx).Create(seg).Error; err != nil {
		return models.NewError("catalog.InsertSegment", classifyGormError(err), err)
	}
	return nil
}

// MarkComplete sets a segment's Complete flag. An id with no row is
// reported as KindNotFound.
func (s *Store) MarkComplete(ctx context.Context, id models.ULID, complete bool) error {
	res := s.db.WithContext(ctx).Model(&models.Segment{}).Where("id = ?", id).Update("complete", complete)
	if res.Error != nil {
		return models.NewError("catalog.MarkComplete", classifyGormError(res.Error), res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewError("catalog.MarkComplete", models.KindNotFound, models.ErrSegmentNotFound)
	}
	return nil
}

// InsertDetectionEvent records a positive detection result. Implements
// detection.EventWriter.
func (s *Store) InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return err
		}
		return tx.Model(&models.Segment{}).Where("id = ?", ev.SegmentID).Update("has_detection", true).Error
	})
	if err != nil {
		return models.NewError("catalog.InsertDetectionEvent", classifyGormError(err), err)
	}
	return nil
}

// UpsertStream writes a stream's descriptor through to the streams table,
// inserting it if stream.ID is zero and updating every column otherwise.
// This is the Config Store (I) mirror the retention loop's evictExpired/
// evictOverQuota already query for per-stream priority and age policy.
func (s *Store) UpsertStream(ctx context.Context, stream *models.StreamDescriptor) error {
	if err := s.db.WithContext(ctx).Save(stream).Error; err != nil {
		return models.NewError("catalog.UpsertStream", classifyGormError(err), err)
	}
	return nil
}

// GetStream retrieves one stream descriptor by name.
func (s *Store) GetStream(ctx context.Context, name string) (*models.StreamDescriptor, error) {
	var stream models.StreamDescriptor
	if err := s.db.WithContext(ctx).First(&stream, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewError("catalog.GetStream", models.KindNotFound, models.ErrStreamNotFound)
		}
		return nil, models.NewError("catalog.GetStream", classifyGormError(err), err)
	}
	return &stream, nil
}

// ListStreams returns every stream descriptor in the Config Store,
// ordered by name. Used at startup to repopulate the Lifecycle Manager's
// running quartets from durable state.
func (s *Store) ListStreams(ctx context.Context) ([]*models.StreamDescriptor, error) {
	var streams []*models.StreamDescriptor
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&streams).Error; err != nil {
		return nil, models.NewError("catalog.ListStreams", classifyGormError(err), err)
	}
	return streams, nil
}

// DeleteStream removes a stream's descriptor row. The caller is
// responsible for stopping the stream's running quartet first.
func (s *Store) DeleteStream(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.StreamDescriptor{})
	if res.Error != nil {
		return models.NewError("catalog.DeleteStream", classifyGormError(res.Error), res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewError("catalog.DeleteStream", models.KindNotFound, models.ErrStreamNotFound)
	}
	return nil
}

// SegmentQuery filters the segments listing. A zero value matches all
// non-tombstoned segments.
type SegmentQuery struct {
	StreamID        string
	Start           time.Time
	End             time.Time
	OnlyComplete    bool
	OnlyWithEvents  bool
	IncludeTombstoned bool
	Limit           int
	Offset          int
}

// Query lists segments matching q, newest first.
func (s *Store) Query(ctx context.Context, q SegmentQuery) ([]*models.Segment, error) {
	tx := s.db.WithContext(ctx).Model(&models.Segment{})
	if q.StreamID != "" {
		tx = tx.Where("stream_id = ?", q.StreamID)
	}
	if !q.Start.IsZero() {
		tx = tx.Where("start_time >= ?", q.Start)
	}
	if !q.End.IsZero() {
		tx = tx.Where("start_time <= ?", q.End)
	}
	if q.OnlyComplete {
		tx = tx.Where("complete = ?", true)
	}
	if q.OnlyWithEvents {
		tx = tx.Where("has_detection = ?", true)
	}
	if !q.IncludeTombstoned {
		tx = tx.Where("tombstoned = ?", false)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var segs []*models.Segment
	if err := tx.Order("start_time DESC").Find(&segs).Error; err != nil {
		return nil, models.NewError("catalog.Query", classifyGormError(err), err)
	}
	return segs, nil
}

// GetSegment retrieves one segment by id.
func (s *Store) GetSegment(ctx context.Context, id models.ULID) (*models.Segment, error) {
	var seg models.Segment
	if err := s.db.WithContext(ctx).First(&seg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewError("catalog.GetSegment", models.KindNotFound, models.ErrSegmentNotFound)
		}
		return nil, models.NewError("catalog.GetSegment", classifyGormError(err), err)
	}
	return &seg, nil
}

// QueryEvents lists detection events for a segment or stream, newest first.
func (s *Store) QueryEvents(ctx context.Context, streamID, segmentID string, limit int) ([]*models.DetectionEvent, error) {
	tx := s.db.WithContext(ctx).Model(&models.DetectionEvent{})
	if streamID != "" {
		tx = tx.Where("stream_id = ?", streamID)
	}
	if segmentID != "" {
		tx = tx.Where("segment_id = ?", segmentID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var events []*models.DetectionEvent
	if err := tx.Order("timestamp DESC").Find(&events).Error; err != nil {
		return nil, models.NewError("catalog.QueryEvents", classifyGormError(err), err)
	}
	return events, nil
}

// Tombstone marks a segment's row as tombstoned and removes its backing
// file from disk, e.g. when the retention loop evicts it or the vacuum
// pass finds its file missing.
func (s *Store) Tombstone(ctx context.Context, id models.ULID) error {
	seg, err := s.GetSegment(ctx, id)
	if err != nil {
		return err
	}

	if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove tombstoned segment file", "path", seg.Path, "error", err)
	}

	res := s.db.WithContext(ctx).Model(&models.Segment{}).Where("id = ?", id).Update("tombstoned", true)
	if res.Error != nil {
		return models.NewError("catalog.Tombstone", classifyGormError(res.Error), res.Error)
	}
	return nil
}

// Vacuum permanently deletes tombstoned rows older than olderThan, and
// reconciles any row left Complete=false whose segment file no longer
// exists on disk by tombstoning it.
// Implements §4.6's vacuum pass.
func (s *Store) Vacuum(ctx context.Context, olderThan time.Time) (purged int, orphaned int, err error) {
	var incomplete []*models.Segment
	if err := s.db.WithContext(ctx).Where("complete = ? AND tombstoned = ?", false, false).
		Where("created_at < ?", olderThan).Find(&incomplete).Error; err != nil {
		return 0, 0, models.NewError("catalog.Vacuum", classifyGormError(err), err)
	}
	for _, seg := range incomplete {
		if _, statErr := os.Stat(seg.Path); os.IsNotExist(statErr) {
			if err := s.Tombstone(ctx, seg.ID); err != nil {
				s.log.Error("failed to tombstone orphaned segment", "id", seg.ID.String(), "error", err)
				continue
			}
			orphaned++
		}
	}

	res := s.db.WithContext(ctx).Where("tombstoned = ? AND updated_at < ?", true, olderThan).Delete(&models.Segment{})
	if res.Error != nil {
		return purged, orphaned, models.NewError("catalog.Vacuum", classifyGormError(res.Error), res.Error)
	}
	purged = int(res.RowsAffected)

	return purged, orphaned, nil
}

// SelfCheck runs a structural integrity probe: SQLite's own PRAGMA
// integrity_check plus a row-count sanity pass, so a corrupt catalog is
// caught before it's trusted for serving or backup (§4.6).
func (s *Store) SelfCheck(ctx context.Context) error {
	var result string
	if err := s.db.WithContext(ctx).Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return models.NewError("catalog.SelfCheck", models.KindCatalogCorrupt, err)
	}
	if result != "ok" {
		return models.NewError("catalog.SelfCheck", models.KindCatalogCorrupt, fmt.Errorf("integrity check failed: %s", result))
	}

	for _, table := range []string{"streams", "segments", "detection_events"} {
		var count int64
		if err := s.db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			return models.NewError("catalog.SelfCheck", models.KindCatalogCorrupt, fmt.Errorf("probing table %s: %w", table, err))
		}
	}
	return nil
}

// classifyGormError maps SQLite/gorm failures onto the shared Kind
// taxonomy so callers never need to import gorm to branch on outcome.
func classifyGormError(err error) models.Kind {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindDeadlineExceeded
	}
	// SQLITE_BUSY/SQLITE_LOCKED surface as plain *errors.errorString from the
	// driver; gorm does not wrap them in a typed sentinel, so the message is
	// the only signal available without importing the sqlite driver's error
	// codes directly.
	if err != nil {
		msg := err.Error()
		if containsAny(msg, "database is locked", "SQLITE_BUSY", "SQLITE_LOCKED") {
			return models.KindCatalogBusy
		}
	}
	return models.KindIOError
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// sortSegmentsByPriority orders candidate eviction segments by ascending
// stream retention priority, oldest-first within the same priority: every
// segment of a lower-priority stream sorts ahead of any segment of a
// higher-priority stream, whatever their ages.
func sortSegmentsByPriority(segs []*models.Segment, priority map[string]int) {
	sort.Slice(segs, func(i, j int) bool {
		pi, pj := priority[segs[i].StreamID], priority[segs[j].StreamID]
		if pi != pj {
			return pi < pj
		}
		return segs[i].StartTime.Before(segs[j].StartTime)
	})
}
