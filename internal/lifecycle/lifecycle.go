// Package lifecycle implements the Lifecycle Manager (G): the
// per-stream state machine driver that owns the at-most-one quartet of
// collaborators (Packet Ring, Stream Reader, MP4 Segmenter, HLS Writer,
// Detection Tap) for every enabled stream, and exposes add/update/
// remove/list/status/drain over the Config Store's stream set (§4.7).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/opensensor/lightnvr/internal/detection"
	"github.com/opensensor/lightnvr/internal/hls"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/reader"
	"github.com/opensensor/lightnvr/internal/ring"
	"github.com/opensensor/lightnvr/internal/segmenter"
)

// Catalog is the Recording Catalog (F) surface the quartet needs: segment
// persistence for the Segmenter, event persistence for the Detection Tap,
// and the Config Store (I) mirror of the stream set itself, so AddStream/
// UpdateStream/RemoveStream survive a restart instead of living only in
// the in-memory entries map. Satisfied by *catalog.Store.
type Catalog interface {
	segmenter.Catalog
	detection.EventWriter

	UpsertStream(ctx context.Context, stream *models.StreamDescriptor) error
	DeleteStream(ctx context.Context, name string) error
	ListStreams(ctx context.Context) ([]*models.StreamDescriptor, error)
}

// Config holds the tunables shared by every stream's quartet. Per-
// stream overrides (retention, detection cooldown) live on
// models.StreamDescriptor itself.
type Config struct {
	StorageRoot       string
	RingCapacityBytes int64
	Reader            reader.Config
	Segmenter         segmenter.Config
	HLS               hls.Config
	DetectionURL      string
	Detection         detection.Config
	ShutdownDrain     time.Duration
}

// Manager owns every running stream's quartet and drives its lifecycle
// state machine. All exported methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	catalog Catalog
	cfg     Config
	log     *slog.Logger

	detectClient *http.Client
}

// New creates a Manager. catalog is shared by every stream's Segmenter
// and Detection Tap.
func New(catalog Catalog, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		entries:      make(map[string]*entry),
		catalog:      catalog,
		cfg:          cfg,
		log:          log.With("component", "lifecycle"),
		detectClient: &http.Client{Timeout: cfg.Detection.RequestTimeout},
	}
}

// entry is one stream's running quartet plus its lifecycle bookkeeping.
// The reader and writer (Segmenter/HLS/Detection) halves run under
// independent contexts so the Shutdown Coordinator (H) can quiesce them
// as separate tiers (§4.8: readers before writers, so a writer gets a
// chance to flush whatever the reader already handed it before it too is
// canceled).
type entry struct {
	mu     sync.Mutex
	stream *models.StreamDescriptor
	record *models.LifecycleRecord

	ring         *ring.Ring
	readerCancel context.CancelFunc
	writerCancel context.CancelFunc
	readerDone   chan struct{}
	writerDone   chan struct{}
	done         chan struct{} // closed once both halves have exited
}

func (e *entry) transition(log *slog.Logger, next models.LifecycleState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.record.CanTransition(next) {
		log.Warn("ignoring illegal lifecycle transition", "stream", e.stream.Name, "from", e.record.State, "to", next)
		return
	}
	e.record.State = next
}

func (e *entry) snapshot() models.LifecycleRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.record
}

// AddStream validates, persists, and starts a new stream's quartet.
// Returns models.ErrDuplicateStream if the stream is already running.
// The descriptor is written through to the Config Store before the
// quartet starts, so a crash immediately after AddStream returns still
// leaves the stream recoverable by Bootstrap.
func (m *Manager) AddStream(ctx context.Context, stream *models.StreamDescriptor) error {
	if err := stream.Validate(); err != nil {
		return models.NewError("lifecycle.AddStream", models.KindInvalidConfig, err)
	}

	m.mu.Lock()
	if _, exists := m.entries[stream.Name]; exists {
		m.mu.Unlock()
		return models.NewError("lifecycle.AddStream", models.KindConflict, models.ErrDuplicateStream)
	}
	m.mu.Unlock()

	if err := m.catalog.UpsertStream(ctx, stream); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.entries[stream.Name]; exists {
		m.mu.Unlock()
		return models.NewError("lifecycle.AddStream", models.KindConflict, models.ErrDuplicateStream)
	}
	e := &entry{
		stream: stream,
		record: &models.LifecycleRecord{StreamID: stream.Name, State: models.LifecycleIdle},
		done:   make(chan struct{}),
	}
	m.entries[stream.Name] = e
	m.mu.Unlock()

	m.start(ctx, e)
	return nil
}

// Bootstrap loads every persisted enabled stream from the Config Store
// and starts its quartet. Called once at process startup, after New, to
// resume recording across a restart.
func (m *Manager) Bootstrap(ctx context.Context) error {
	streams, err := m.catalog.ListStreams(ctx)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if !stream.Enabled {
			continue
		}
		m.mu.Lock()
		e := &entry{
			stream: stream,
			record: &models.LifecycleRecord{StreamID: stream.Name, State: models.LifecycleIdle},
			done:   make(chan struct{}),
		}
		m.entries[stream.Name] = e
		m.mu.Unlock()
		m.start(ctx, e)
	}
	return nil
}

// UpdateStream restarts the stream's quartet with a new descriptor,
// e.g. after a retention or detection policy change. The old quartet is
// drained before the new one starts, satisfying the at-most-one-quartet
// invariant.
func (m *Manager) UpdateStream(ctx context.Context, stream *models.StreamDescriptor) error {
	if err := stream.Validate(); err != nil {
		return models.NewError("lifecycle.UpdateStream", models.KindInvalidConfig, err)
	}

	m.mu.Lock()
	e, exists := m.entries[stream.Name]
	m.mu.Unlock()
	if !exists {
		return models.NewError("lifecycle.UpdateStream", models.KindNotFound, models.ErrStreamNotFound)
	}

	if err := m.catalog.UpsertStream(ctx, stream); err != nil {
		return err
	}

	m.stopEntry(e)

	m.mu.Lock()
	e = &entry{
		stream: stream,
		record: &models.LifecycleRecord{StreamID: stream.Name, State: models.LifecycleIdle},
		done:   make(chan struct{}),
	}
	m.entries[stream.Name] = e
	m.mu.Unlock()

	m.start(ctx, e)
	return nil
}

// RemoveStream stops the stream's quartet and deletes its Config Store
// row.
func (m *Manager) RemoveStream(streamID string) error {
	m.mu.Lock()
	e, exists := m.entries[streamID]
	if exists {
		delete(m.entries, streamID)
	}
	m.mu.Unlock()
	if !exists {
		return models.NewError("lifecycle.RemoveStream", models.KindNotFound, models.ErrStreamNotFound)
	}

	m.stopEntry(e)
	return m.catalog.DeleteStream(context.Background(), streamID)
}

// List returns a point-in-time snapshot of every managed stream's
// lifecycle record.
func (m *Manager) List() []models.LifecycleRecord {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]models.LifecycleRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Status returns the lifecycle record for one stream.
func (m *Manager) Status(streamID string) (models.LifecycleRecord, bool) {
	m.mu.Lock()
	e, exists := m.entries[streamID]
	m.mu.Unlock()
	if !exists {
		return models.LifecycleRecord{}, false
	}
	return e.snapshot(), true
}

// Drain stops every managed stream's quartet in one step (both reader
// and writer tiers together), waiting up to deadline (falling back to
// cfg.ShutdownDrain if zero) for each to finish before moving to the
// next. It does not tier readers before writers the way the Shutdown
// Coordinator does; RemoveStream and UpdateStream stop a single stream
// through stopEntry instead.
func (m *Manager) Drain(ctx context.Context, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = m.cfg.ShutdownDrain
	}

	entries := m.takeAllEntries()

	var errs []error
	for _, e := range entries {
		e.transition(m.log, models.LifecycleStopping)
		e.readerCancel()
		e.writerCancel()

		select {
		case <-e.done:
		case <-time.After(deadline):
			errs = append(errs, fmt.Errorf("stream %s did not drain within %s", e.stream.Name, deadline))
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	return errors.Join(errs...)
}

// QuiesceReaders cancels the Stream Reader half of every managed stream's
// quartet and waits up to deadline for each to stop, returning the
// stream names still running past the deadline ("leaked" components per
// §4.8). Does not touch the writer half, so the Segmenter/HLS Writer/
// Detection Tap can keep draining whatever the ring still holds. This is
// the readers tier of the Shutdown Coordinator's quiesce sequence.
func (m *Manager) QuiesceReaders(ctx context.Context, deadline time.Duration) []string {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.transition(m.log, models.LifecycleStopping)
		e.readerCancel()
	}
	return waitAll(ctx, entries, deadline, func(e *entry) chan struct{} { return e.readerDone })
}

// QuiesceWriters removes every stream from the entries map, cancels the
// Segmenter/HLS Writer/Detection Tap half of each quartet, and waits up
// to deadline for each to stop. Returns stream names still running past
// the deadline. Each stream's Ring is closed once both halves of its
// quartet have exited. This is the writers tier, run after
// QuiesceReaders by the Shutdown Coordinator.
func (m *Manager) QuiesceWriters(ctx context.Context, deadline time.Duration) []string {
	entries := m.takeAllEntries()

	for _, e := range entries {
		e.writerCancel()
	}
	return waitAll(ctx, entries, deadline, func(e *entry) chan struct{} { return e.writerDone })
}

func (m *Manager) takeAllEntries() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*entry, 0, len(m.entries))
	for id, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, id)
	}
	return entries
}

func waitAll(ctx context.Context, entries []*entry, deadline time.Duration, doneCh func(*entry) chan struct{}) []string {
	var leaked []string
	for _, e := range entries {
		select {
		case <-doneCh(e):
		case <-time.After(deadline):
			leaked = append(leaked, e.stream.Name)
		case <-ctx.Done():
			leaked = append(leaked, e.stream.Name)
		}
	}
	return leaked
}

func (m *Manager) stopEntry(e *entry) {
	e.transition(m.log, models.LifecycleStopping)
	e.readerCancel()
	e.writerCancel()
	<-e.done
}

// start builds the per-stream Ring and quartet and runs each
// collaborator in its own goroutine, wiring Reader hooks to drive the
// lifecycle state machine and the Segmenter's current-segment ID into
// the Detection Tap. The reader runs under its own context, independent
// of the writer (Segmenter/HLS/Detection) context, so the two can be
// quiesced as separate tiers (§4.8).
func (m *Manager) start(parent context.Context, e *entry) {
	readerCtx, readerCancel := context.WithCancel(parent)
	writerCtx, writerCancel := context.WithCancel(parent)
	e.readerCancel = readerCancel
	e.writerCancel = writerCancel
	e.readerDone = make(chan struct{})
	e.writerDone = make(chan struct{})

	capacity := m.cfg.RingCapacityBytes
	if capacity <= 0 {
		capacity = 64 << 20
	}
	e.ring = ring.New(capacity)

	segCursor := e.ring.Subscribe()
	hlsCursor := e.ring.Subscribe()

	mp4Dir := filepath.Join(m.cfg.StorageRoot, "recordings", "mp4", e.stream.Name)
	hlsDir := filepath.Join(m.cfg.StorageRoot, "recordings", "hls", e.stream.Name)

	seg := segmenter.New(e.stream.Name, segCursor, mp4Dir, m.cfg.Segmenter, m.catalog,
		segmenter.Hooks{
			OnFailed: func(err error) {
				e.transition(m.log, models.LifecycleBackoff)
				e.transition(m.log, models.LifecycleFailed)
				m.log.Error("segmenter failed terminally, stream stopped", "stream", e.stream.Name, "error", err)
				readerCancel()
				writerCancel()
			},
		},
		m.log)

	writer := hls.New(e.stream.Name, hlsCursor, hlsDir, m.cfg.HLS, m.log)

	var tapCursor *ring.Cursor
	var tap *detection.Tap
	if e.stream.Detection.Enabled {
		tapCursor = e.ring.Subscribe()
		collaborator := detection.NewHTTPCollaborator(m.cfg.DetectionURL, m.detectClient)
		tapCfg := m.cfg.Detection
		tapCfg.Cooldown = time.Duration(e.stream.Detection.CooldownMS) * time.Millisecond
		tap = detection.New(e.stream.Name, tapCursor, collaborator, m.catalog, tapCfg, seg.CurrentSegmentID, m.log)
	}

	readerHooks := reader.Hooks{
		OnConnecting: func() {
			e.transition(m.log, models.LifecycleConnecting)
		},
		OnConnected: func(codec string, width, height int) {
			e.mu.Lock()
			e.record.Attempt = 0
			e.mu.Unlock()
			e.transition(m.log, models.LifecycleRunning)
		},
		OnError: func(kind models.Kind, err error) {
			e.mu.Lock()
			e.record.LastErrorKind = kind
			if err != nil {
				e.record.LastError = err.Error()
			}
			e.record.Attempt++
			e.mu.Unlock()
			e.transition(m.log, models.LifecycleBackoff)
		},
		OnStall: func() {
			m.log.Warn("stream reader stalled", "stream", e.stream.Name)
		},
	}
	rd := reader.New(e.stream, e.ring, m.cfg.Reader, readerHooks, m.log)

	var readerWG, writerWG sync.WaitGroup
	runOn := func(wg *sync.WaitGroup, ctx context.Context, name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("quartet component exited with error", "stream", e.stream.Name, "component", name, "error", err)
			}
		}()
	}

	runOn(&readerWG, readerCtx, "reader", rd.Run)
	runOn(&writerWG, writerCtx, "segmenter", seg.Run)
	runOn(&writerWG, writerCtx, "hls", writer.Run)
	if tap != nil {
		runOn(&writerWG, writerCtx, "detection", tap.Run)
	}

	go func() {
		readerWG.Wait()
		close(e.readerDone)
	}()
	go func() {
		writerWG.Wait()
		close(e.writerDone)
	}()
	go func() {
		<-e.readerDone
		<-e.writerDone
		e.ring.Close()
		e.transition(m.log, models.LifecycleIdle)
		close(e.done)
	}()
}
