// Package app runs the background side of the platform: the notification
// queue consumer and the periodic sweeps.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"afggram/internal/metrics"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
)

// Store is the subset of persistence the worker touches.
type Store interface {
	store.NotificationStore
	DeleteExpiredMessages(now time.Time) ([]domain.Message, error)
	DeleteStaleLiveSessions(before time.Time) ([]domain.LiveSession, error)
}

// JobRunner consumes the job queue until ctx is done.
type JobRunner interface {
	Run(ctx context.Context, concurrency int, handler queue.Handler) error
}

type Config struct {
	Store            Store
	Events           realtime.Publisher
	Jobs             JobRunner
	QueueConcurrency int
	SweepSchedule    string
	LiveStaleAfter   time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

// App owns the worker's long-running pieces.
type App struct {
	store       Store
	events      realtime.Publisher
	jobs        JobRunner
	concurrency int
	schedule    string
	staleAfter  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("event publisher is required")
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.LiveStaleAfter <= 0 {
		cfg.LiveStaleAfter = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:       cfg.Store,
		events:      cfg.Events,
		jobs:        cfg.Jobs,
		concurrency: cfg.QueueConcurrency,
		schedule:    cfg.SweepSchedule,
		staleAfter:  cfg.LiveStaleAfter,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// RunQueue consumes notification jobs until ctx is done.
func (a *App) RunQueue(ctx context.Context) error {
	if a.jobs == nil {
		<-ctx.Done()
		return nil
	}
	a.logger.Info("queue_consumer_started", "concurrency", a.concurrency)
	return a.jobs.Run(ctx, a.concurrency, notify.Handler(a.store, a.events))
}

// RunSweeps runs the periodic sweeps on the cron schedule until ctx is done.
func (a *App) RunSweeps(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.schedule, func() { a.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweeps: %w", err)
	}
	a.logger.Info("sweeps_scheduled", "schedule", a.schedule, "live_stale_after", a.staleAfter.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep runs every sweep once, logging failures.
func (a *App) Sweep(ctx context.Context) {
	if n, err := a.SweepExpiredMessages(ctx); err != nil {
		a.logger.Error("sweep_failed", "sweep", "expired_messages", "err", err)
	} else if n > 0 {
		a.logger.Info("sweep_done", "sweep", "expired_messages", "removed", n)
	}
	if n, err := a.SweepStaleLive(ctx); err != nil {
		a.logger.Error("sweep_failed", "sweep", "stale_live", "err", err)
	} else if n > 0 {
		a.logger.Info("sweep_done", "sweep", "stale_live", "removed", n)
	}
}

// SweepExpiredMessages deletes messages past their expiry and publishes a
// DELETE for each.
func (a *App) SweepExpiredMessages(ctx context.Context) (int, error) {
	now := a.now().UTC()
	removed, err := a.store.DeleteExpiredMessages(now)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	for _, msg := range removed {
		a.publishDelete(ctx, realtime.TableMessages, msg, now)
	}
	metrics.SweepRemoved("expired_messages", len(removed))
	return len(removed), nil
}

// SweepStaleLive ends live sessions whose host stopped sending heartbeats.
func (a *App) SweepStaleLive(ctx context.Context) (int, error) {
	now := a.now().UTC()
	removed, err := a.store.DeleteStaleLiveSessions(now.Add(-a.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("delete stale live sessions: %w", err)
	}
	for _, session := range removed {
		a.publishDelete(ctx, realtime.TableLiveSessions, session, now)
	}
	metrics.SweepRemoved("stale_live", len(removed))
	return len(removed), nil
}

func (a *App) publishDelete(ctx context.Context, table string, old any, at time.Time) {
	ev, err := realtime.NewEvent(table, realtime.Delete, nil, old, at)
	if err == nil {
		err = a.events.Publish(ctx, ev)
	}
	if err != nil {
		a.logger.Warn("realtime_publish_failed", "table", table, "type", string(realtime.Delete), "err", err)
	}
}
