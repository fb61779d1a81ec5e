// Command sparkqd is the sparkq daemon: it owns the embedded store, the
// lifecycle engine, the two background janitors and the REST API, and
// serves them all from one process guarded by a single process-wide
// lockfile so two daemons never point at the same database at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/sparkq/sparkq/internal/api"
	"github.com/sparkq/sparkq/internal/config"
	"github.com/sparkq/sparkq/internal/janitor"
	"github.com/sparkq/sparkq/internal/lifecycle"
	"github.com/sparkq/sparkq/internal/obs"
	"github.com/sparkq/sparkq/internal/server"
	"github.com/sparkq/sparkq/internal/store"
)

var buildID = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("sparkqd %s\n", buildID)
		return
	}
	flag.Parse()

	cfgHolder, err := config.NewHolder()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sparkqd: failed to load config: %s\n", err)
		os.Exit(1)
	}
	cfg := cfgHolder.Get()

	logger := obs.NewLogger(cfg.Observability.SentryDSN, cfg.Observability.LogLevel)

	lockPath := filepath.Join(filepath.Dir(cfg.Database.Path), "sparkq.pid.lock")
	procLock := flock.New(lockPath)
	locked, err := procLock.TryLock()
	if err != nil {
		logger.Error("failed to acquire daemon lock", "path", lockPath, "error", err)
		os.Exit(1)
	}
	if !locked {
		logger.Error("another sparkqd instance already holds the lock for this database", "path", lockPath)
		os.Exit(1)
	}
	defer procLock.Unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := lifecycle.NewEngine(st, cfg.TaskClassTimeouts())

	sched := janitor.New(
		engine,
		logger,
		time.Duration(cfg.QueueRunner.AutoFailIntervalSeconds)*time.Second,
		24*time.Hour,
		cfg.Purge.OlderThanDays,
	)

	router := api.NewRouter(st, engine, cfgHolder, logger, buildID)
	srv := server.New(cfg.Addr(), router, cfg.Server.ShutdownGraceSeconds, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	logger.Info("sparkqd starting", "addr", cfg.Addr(), "db", cfg.Database.Path, "build_id", buildID)

	if err := g.Wait(); err != nil {
		logger.Error("sparkqd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("sparkqd stopped")
}
