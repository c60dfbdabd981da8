package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/gateway"
	"github.com/xtxerr/nrcsync/internal/journal"
	"github.com/xtxerr/nrcsync/internal/loader"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
	"github.com/xtxerr/nrcsync/internal/production"
	"github.com/xtxerr/nrcsync/internal/stats"
	"github.com/xtxerr/nrcsync/internal/store"
)

var log = logging.Component("nrcsyncd")

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func setupLogging(cfg *loader.Config) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	jsonFormat := cfg.Logging.Format == "json"
	if cfg.Logging.Format == "auto" {
		fd := os.Stdout.Fd()
		jsonFormat = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
	logging.Init(level, jsonFormat)
	return nil
}

func run(ctx context.Context, cfg *loader.Config) error {
	log.Info("nrcsyncd starting", "version", Version, "data_dir", cfg.DataDir)

	// =========================================================================
	// Data Directory
	// =========================================================================

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(cfg.LockPath(config.DefaultLockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another nrcsyncd is already running on %s", cfg.DataDir)
	}
	defer lock.Unlock()

	// =========================================================================
	// Storage (DuckDB - caches and production model)
	// =========================================================================

	db, err := store.New(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	model, err := production.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("open production model: %w", err)
	}

	// =========================================================================
	// Processing
	// =========================================================================

	orch := orchestrator.New(db, model, cfg.OrchestratorConfig())

	collector := stats.NewCollector(config.DefaultSketchAccuracy)
	observers := []dispatch.Observer{collector}

	if jc, enabled := cfg.JournalConfig(); enabled {
		j, err := journal.New(jc)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		j.Start()
		defer func() {
			if err := j.Close(); err != nil {
				log.Warn("journal close", "error", err)
			}
		}()
		observers = append(observers, j)
		log.Info("journal enabled", "dir", jc.Dir)
	}

	disp := dispatch.New(cfg.DispatchConfig(), orch, observers...)
	disp.Start()

	// =========================================================================
	// Gateway
	// =========================================================================

	gc := cfg.GatewayConfig()
	gc.Stats = func() any { return collector.Snapshot() }
	srv := gateway.New(gc, disp)
	if err := srv.Listen(); err != nil {
		disp.Stop()
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	// =========================================================================
	// Run and Graceful Shutdown
	// =========================================================================

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("gateway stopped", "error", err)
	}

	drain := cfg.Dispatch.DrainTimeout.Duration()
	if drain <= 0 {
		drain = config.DefaultDrainTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain+5*time.Second)
	defer cancel()

	// Gateway first so no new work arrives, then the dispatcher drains.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown", "error", err)
	}
	disp.StopWithContext(shutdownCtx)

	st := disp.Stats()
	log.Info("nrcsyncd stopped", "completed", st.Completed, "failed", st.Failed, "rejected", st.Rejected)
	return err
}
