// Package cron runs the periodic cleanup sweep: stale uncommitted uploads
// first, expired uploads second. All coordination happens through the
// metadata table, so running the sweep from several instances is safe;
// duplicate deletes are idempotent.
package cron

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"go.unify.dev/uploads/store"
)

type CleanupService struct {
	store     *store.Store
	logger    *zap.Logger
	scheduler gocron.Scheduler

	retention time.Duration
	interval  time.Duration
	delay     time.Duration
}

type CleanupParams struct {
	Store  *store.Store
	Logger *zap.Logger

	// Retention is how long uncommitted uploads are kept before the sweep
	// removes them.
	Retention time.Duration

	// Interval is the period between sweeps, Delay the wait before the
	// first sweep after startup.
	Interval time.Duration
	Delay    time.Duration
}

func NewCleanupService(params CleanupParams) (*CleanupService, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if params.Retention <= 0 {
		params.Retention = 24 * time.Hour
	}
	if params.Interval <= 0 {
		params.Interval = time.Hour
	}
	if params.Delay <= 0 {
		params.Delay = time.Minute
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}

	return &CleanupService{
		store:     params.Store,
		logger:    params.Logger,
		scheduler: scheduler,
		retention: params.Retention,
		interval:  params.Interval,
		delay:     params.Delay,
	}, nil
}

func (c *CleanupService) Start() error {
	_, err := c.scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(c.Sweep),
		gocron.WithName("upload-cleanup"),
		gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(c.delay))),
	)
	if err != nil {
		return err
	}

	c.scheduler.Start()

	return nil
}

func (c *CleanupService) Stop() error {
	return c.scheduler.Shutdown()
}

// Sweep runs one cleanup pass. Failures are logged, never fatal; the next
// run picks up whatever was left behind.
func (c *CleanupService) Sweep() {
	ctx := context.Background()

	uncommitted, err := c.store.CleanupUncommittedFiles(ctx, c.retention)
	if err != nil {
		c.logger.Error("uncommitted upload cleanup failed", zap.Error(err))
	} else if uncommitted > 0 {
		c.logger.Info("removed uncommitted uploads", zap.Int("count", uncommitted))
	}

	expired, err := c.store.RemoveExpiredFiles(ctx)
	if err != nil {
		c.logger.Error("expired upload cleanup failed", zap.Error(err))
	} else if expired > 0 {
		c.logger.Info("removed expired uploads", zap.Int("count", expired))
	}
}
