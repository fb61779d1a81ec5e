// Package janitor schedules the two background sweeps (§4.D): the stale
// janitor (stale-warn + auto-fail) and the purge janitor (age-based
// deletion of finished tasks). Both run under robfig/cron/v3 with
// SkipIfStillRunning so a slow tick can never overlap its successor —
// the cooperative, never-overlapping scheduling model §4.D requires.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sparkq/sparkq/internal/lifecycle"
)

// Scheduler wraps a cron.Cron configured for the two janitor entries.
type Scheduler struct {
	cron           *cron.Cron
	engine         *lifecycle.Engine
	logger         *slog.Logger
	staleInterval  time.Duration
	purgeInterval  time.Duration
	purgeOlderDays int
}

// New builds a Scheduler. staleInterval and purgeInterval are both
// "@every <duration>"-style ticks; purgeOlderThanDays is the age threshold
// the purge janitor applies (default 3 per §6.2).
func New(engine *lifecycle.Engine, logger *slog.Logger, staleInterval, purgeInterval time.Duration, purgeOlderThanDays int) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cronSlogAdapter{logger: logger}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{
		cron:           c,
		engine:         engine,
		logger:         logger,
		staleInterval:  staleInterval,
		purgeInterval:  purgeInterval,
		purgeOlderDays: purgeOlderThanDays,
	}
}

// Start registers both janitor entries and starts the cron scheduler.
// ctx governs the tick bodies, not the scheduler's own goroutine; callers
// stop the scheduler by calling Stop, typically on ctx.Done via errgroup.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(everySpec(s.staleInterval), func() {
		s.runStaleTick(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(everySpec(s.purgeInterval), func() {
		s.runPurgeTick(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop cancels cooperatively: a tick already in progress runs to
// completion, no new tick starts after this returns.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runStaleTick(ctx context.Context) {
	result, err := s.engine.SweepStale(ctx)
	if err != nil {
		s.logger.Warn("stale janitor tick failed, will retry next tick", "error", err)
		return
	}
	if result.Warned > 0 || result.AutoFailed > 0 {
		s.logger.Info("stale janitor tick", "warned", result.Warned, "auto_failed", result.AutoFailed)
	}
}

func (s *Scheduler) runPurgeTick(ctx context.Context) {
	purged, err := s.engine.SweepPurge(ctx, s.purgeOlderDays)
	if err != nil {
		s.logger.Warn("purge janitor tick failed, will retry next tick", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("purge janitor tick", "purged", purged)
	}
}

func everySpec(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Second
	}
	return "@every " + d.String()
}

// cronSlogAdapter satisfies cron.Logger against a *slog.Logger so
// SkipIfStillRunning/Recover can report through the service's own logging
// stack instead of cron's default stdlib logger.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a cronSlogAdapter) Info(msg string, kv ...any) {
	a.logger.Info(msg, kv...)
}

func (a cronSlogAdapter) Error(err error, msg string, kv ...any) {
	args := append([]any{"error", err}, kv...)
	a.logger.Error(msg, args...)
}
