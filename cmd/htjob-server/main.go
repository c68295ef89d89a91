package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/htjob/internal/config"
	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/logging"
	"github.com/me/htjob/internal/observability"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/internal/server"
	"github.com/me/htjob/internal/store"
)

func main() {
	configFile := flag.String("config", filepath.Join(config.DataDir(), "config.yaml"), "Path to config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "Database path (overrides config)")
	schedName := flag.String("scheduler", "", "Scheduler backend: condor or local (overrides config)")
	workDir := flag.String("work-dir", "", "Job work directory (overrides config)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *schedName != "" {
		cfg.Scheduler = *schedName
	}
	if *workDir != "" {
		cfg.WorkDir = *workDir
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "htjob-server: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts the server and the poller
// down.
func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	metrics, err := observability.InitMetrics()
	if err != nil {
		return err
	}

	sched, err := cfg.NewScheduler(logger)
	if err != nil {
		return err
	}
	if local, ok := sched.(*schedd.Local); ok {
		last, err := st.MaxClusterID(ctx)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		local.SetNextCluster(last + 1)
	}
	if c, ok := sched.(io.Closer); ok {
		defer c.Close()
	}

	rt := job.NewRuntime(cfg.Runtime(), sched, logger, job.WithObserver(st))
	srv := server.New(rt, logger, server.WithStore(st), server.WithMetricsHandler(metrics.Handler))

	if n, err := srv.Resume(ctx); err != nil {
		logger.Warn("resume jobs", "error", err, "resumed", n)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	logger.Info("poller starting", "interval", cfg.PollInterval.String(), "scheduler", sched.Name())
	rt.Start(gctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := rt.Stop(); err != nil {
			return fmt.Errorf("stop poller: %w", err)
		}
		return metrics.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
