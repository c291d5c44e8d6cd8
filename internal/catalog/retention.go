package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensensor/lightnvr/internal/models"
)

// RetentionConfig controls the periodic eviction sweep.
type RetentionConfig struct {
	// Cron schedules the sweep, e.g. "0 */10 * * * *" for every ten
	// minutes. Empty disables the loop.
	Cron string
	// VacuumGrace is how long an incomplete, non-tombstoned segment is
	// left alone before Vacuum treats it as an orphan candidate.
	VacuumGrace time.Duration
	// QuotaBytes caps total on-disk bytes across all streams; zero means
	// no quota enforcement (streams rely solely on their own MaxAgeSeconds).
	QuotaBytes int64
}

// RetentionLoop drives the Catalog's periodic eviction sweep on a single
// fixed schedule. Grounded on internal/scheduler/scheduler.go's use of
// robfig/cron/v3 and its cron.Recover(cron.DefaultLogger) panic-safety
// chain, but deliberately not on that package's Scheduler type: the
// teacher's scheduler is a DB-synced dispatcher juggling one cron entry
// per stream/EPG/proxy source plus a models.Job queue with dedup and
// catch-up-after-downtime semantics, built for N independently
// configurable ingestion schedules. Retention here has exactly one
// schedule shared by the whole catalog, so that whole per-source sync
// and job-queue apparatus has no counterpart to serve — only the bare
// cron library survives the adaptation.
type RetentionLoop struct {
	store  *Store
	cfg    RetentionConfig
	log    *slog.Logger
	cron   *cron.Cron
	stopCh chan struct{}
}

// NewRetentionLoop builds a retention loop. Call Start to begin running
// it on cfg.Cron.
func NewRetentionLoop(store *Store, cfg RetentionConfig, log *slog.Logger) *RetentionLoop {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
	)), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	return &RetentionLoop{
		store:  store,
		cfg:    cfg,
		log:    log.With("component", "catalog.retention"),
		cron:   c,
		stopCh: make(chan struct{}),
	}
}

// Start registers the sweep job and begins the cron scheduler. A no-op
// if cfg.Cron is empty.
func (r *RetentionLoop) Start(ctx context.Context) error {
	if r.cfg.Cron == "" {
		r.log.Info("retention loop disabled, no cron schedule configured")
		return nil
	}
	_, err := r.cron.AddFunc(r.cfg.Cron, func() { r.sweep(ctx) })
	if err != nil {
		return models.NewError("catalog.RetentionLoop.Start", models.KindInvalidConfig, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight sweep to
// finish.
func (r *RetentionLoop) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep synchronously, for callers (tests,
// manual admin triggers) that don't want to wait on cron.
func (r *RetentionLoop) RunOnce(ctx context.Context) error {
	return r.sweepErr(ctx)
}

func (r *RetentionLoop) sweep(ctx context.Context) {
	if err := r.sweepErr(ctx); err != nil {
		r.log.Error("retention sweep failed", "error", err)
	}
}

func (r *RetentionLoop) sweepErr(ctx context.Context) error {
	grace := r.cfg.VacuumGrace
	if grace <= 0 {
		grace = time.Hour
	}
	purged, orphaned, err := r.store.Vacuum(ctx, time.Now().Add(-grace))
	if err != nil {
		return err
	}
	if purged > 0 || orphaned > 0 {
		r.log.Info("vacuum pass complete", "purged", purged, "orphaned", orphaned)
	}

	if err := r.evictExpired(ctx); err != nil {
		return err
	}
	if r.cfg.QuotaBytes > 0 {
		if err := r.evictOverQuota(ctx); err != nil {
			return err
		}
	}
	return nil
}

// evictExpired tombstones every non-tombstoned segment, complete or not,
// whose start time is older than its own stream's
// RetentionPolicy.MaxAgeSeconds.
func (r *RetentionLoop) evictExpired(ctx context.Context) error {
	var streams []*models.StreamDescriptor
	if err := r.store.db.WithContext(ctx).Find(&streams).Error; err != nil {
		return models.NewError("catalog.evictExpired", classifyGormError(err), err)
	}

	now := time.Now()
	for _, stream := range streams {
		if stream.Retention.MaxAgeSeconds <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(stream.Retention.MaxAgeSeconds) * time.Second)

		var expired []*models.Segment
		err := r.store.db.WithContext(ctx).
			Where("stream_id = ? AND tombstoned = ? AND start_time < ?", stream.ID.String(), false, cutoff).
			Find(&expired).Error
		if err != nil {
			return models.NewError("catalog.evictExpired", classifyGormError(err), err)
		}

		for _, seg := range expired {
			if err := r.store.Tombstone(ctx, seg.ID); err != nil {
				r.log.Error("failed to tombstone expired segment", "id", seg.ID.String(), "stream", stream.Name, "error", err)
			}
		}
	}
	return nil
}

// evictOverQuota evicts segments of the lowest-priority streams first,
// oldest-first within a priority (see sortSegmentsByPriority), until total
// catalog bytes is at or under QuotaBytes.
func (r *RetentionLoop) evictOverQuota(ctx context.Context) error {
	var total int64
	if err := r.store.db.WithContext(ctx).Model(&models.Segment{}).
		Where("tombstoned = ?", false).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error; err != nil {
		return models.NewError("catalog.evictOverQuota", classifyGormError(err), err)
	}
	if total <= r.cfg.QuotaBytes {
		return nil
	}

	var streams []*models.StreamDescriptor
	if err := r.store.db.WithContext(ctx).Find(&streams).Error; err != nil {
		return models.NewError("catalog.evictOverQuota", classifyGormError(err), err)
	}
	priority := make(map[string]int, len(streams))
	for _, stream := range streams {
		priority[stream.ID.String()] = stream.Retention.Priority
	}

	var candidates []*models.Segment
	if err := r.store.db.WithContext(ctx).Where("tombstoned = ?", false).Find(&candidates).Error; err != nil {
		return models.NewError("catalog.evictOverQuota", classifyGormError(err), err)
	}
	sortSegmentsByPriority(candidates, priority)

	for _, seg := range candidates {
		if total <= r.cfg.QuotaBytes {
			break
		}
		if err := r.store.Tombstone(ctx, seg.ID); err != nil {
			r.log.Error("failed to tombstone segment over quota", "id", seg.ID.String(), "error", err)
			continue
		}
		total -= seg.Bytes
	}
	return nil
}
