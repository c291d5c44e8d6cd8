package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/breaker"
	"github.com/opensensor/lightnvr/internal/catalog"
	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/database/migrations"
	"github.com/opensensor/lightnvr/internal/detection"
	"github.com/opensensor/lightnvr/internal/hls"
	httpapi "github.com/opensensor/lightnvr/internal/http"
	"github.com/opensensor/lightnvr/internal/lifecycle"
	"github.com/opensensor/lightnvr/internal/observability"
	"github.com/opensensor/lightnvr/internal/reader"
	"github.com/opensensor/lightnvr/internal/segmenter"
	"github.com/opensensor/lightnvr/internal/shutdown"
	"github.com/opensensor/lightnvr/internal/startup"
	"github.com/opensensor/lightnvr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording pipeline and HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Logging)
	observability.SetDefault(log)
	log.Info("starting nvrd", "version", version.Short())

	db, err := database.New(cfg.Database, log, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, log)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if removed, err := startup.CleanupStorageTempFiles(log, cfg.Storage.BaseDir); err != nil {
		log.Warn("startup temp-file cleanup failed", "error", err)
	} else if removed > 0 {
		log.Info("removed orphaned temp files from a previous crash", "count", removed)
	}

	store := catalog.New(db.DB, log)

	retentionCfg := bridgeRetentionConfig(cfg)
	retentionLoop := catalog.NewRetentionLoop(store, retentionCfg, log)
	if err := retentionLoop.Start(context.Background()); err != nil {
		return fmt.Errorf("starting retention loop: %w", err)
	}

	lifecycleCfg := lifecycle.Config{
		StorageRoot:       cfg.Storage.BaseDir,
		RingCapacityBytes: int64(cfg.Ring.CapacityBytes),
		Reader: reader.Config{
			ReconnectMinDelay: cfg.Reader.ReconnectMinDelay,
			ReconnectMaxDelay: cfg.Reader.ReconnectMaxDelay,
			StallTimeout:      cfg.Reader.StallTimeout,
		},
		Segmenter: segmenter.Config{
			TargetDuration: cfg.Segmenter.TargetDuration,
			MaxBytes:       int64(cfg.Segmenter.MaxBytes),
		},
		HLS: hls.Config{
			WindowSegments:  cfg.HLS.WindowSegments,
			SegmentDuration: cfg.HLS.SegmentDuration,
		},
		DetectionURL: cfg.Detection.CollaboratorURL,
		Detection: detection.Config{
			Cooldown:       cfg.Detection.Cooldown,
			RequestTimeout: detectionRequestTimeout,
			Breaker: breaker.Config{
				FailureThreshold: cfg.Detection.CircuitBreakerThreshold,
				SuccessThreshold: 1,
				Timeout:          cfg.Detection.CircuitBreakerTimeout,
			},
		},
		ShutdownDrain: cfg.Shutdown.WriterDeadline,
	}

	mgr := lifecycle.New(store, lifecycleCfg, log)
	if err := mgr.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrapping streams: %w", err)
	}

	serverCfg := httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     httpapi.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	srv := httpapi.NewServer(serverCfg, log, version.Short())
	httpapi.RegisterRoutes(srv, mgr, store, cfg.Storage.BaseDir, version.Short(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- srv.Start() }()

	select {
	case err := <-serverErrCh:
		if err != nil {
			log.Error("http server exited unexpectedly", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
	}

	// Tier order follows §4.8: stop accepting new AddStream/HTTP work
	// first (the Lifecycle Manager tier is represented here by closing
	// the HTTP listener, since that's the only path new streams arrive
	// through), then readers, then writers, then the catalog itself.
	coordinator := shutdown.New(log)
	coordinator.AddTier("lifecycle-manager", cfg.Shutdown.LifecycleDeadline,
		shutdown.WrapSimple("http-server", func(shutdownCtx context.Context) error {
			return srv.Shutdown(shutdownCtx)
		}))
	coordinator.AddTier("stream-readers", cfg.Shutdown.ReaderDeadline, mgr.QuiesceReaders)
	coordinator.AddTier("writers", cfg.Shutdown.WriterDeadline, mgr.QuiesceWriters)
	coordinator.AddTier("catalog", cfg.Shutdown.CatalogDeadline,
		shutdown.WrapSimple("retention-loop-and-db", func(shutdownCtx context.Context) error {
			if err := retentionLoop.Stop(shutdownCtx); err != nil {
				return err
			}
			return db.Close()
		}))

	leaked := coordinator.Run(context.Background())
	if len(leaked) > 0 {
		log.Error("shutdown completed with leaked components", "leaked", leaked)
		os.Exit(shutdown.ExitCodeLeaked)
	}

	log.Info("shutdown complete")
	return nil
}

// vacuumGrace is how long an incomplete, non-tombstoned segment is left
// alone before the retention sweep treats it as a crash orphan. Longer
// than any plausible segment write (segmenter.Config.TargetDuration),
// short enough that a crash doesn't leave a file dangling for days.
const vacuumGrace = time.Hour

// detectionRequestTimeout bounds a single detection HTTP call; distinct
// from the circuit breaker's open-state cooldown, which governs how
// long the breaker waits before trying the collaborator again.
const detectionRequestTimeout = 5 * time.Second

// bridgeRetentionConfig adapts the ambient config.RetentionConfig (age
// ceiling + cron, expressed per-operator) into catalog.RetentionConfig
// (cron + vacuum grace + a byte quota), since the Catalog's sweep is
// quota-driven while the Config layer exposes the operator-facing knobs.
// Age limits come only from each stream's own RetentionPolicy;
// cfg.Retention.MaxAgeDays is not read here.
func bridgeRetentionConfig(cfg *config.Config) catalog.RetentionConfig {
	return catalog.RetentionConfig{
		Cron:        cfg.Retention.Cron,
		VacuumGrace: vacuumGrace,
		QuotaBytes:  int64(cfg.Storage.MaxStorage),
	}
}
