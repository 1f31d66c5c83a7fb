// Package scheduler runs the periodic order count refresh.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/pkg/logger"
)

const (
	defaultSyncSpec    = "@every 5m"
	defaultSyncTimeout = 2 * time.Minute
)

// Syncer refreshes the cached order counts. Implemented by *services.OrderSyncService.
type Syncer interface {
	Sync(ctx context.Context) (models.DashboardConfig, error)
}

// Scheduler triggers Sync on a cron schedule.
type Scheduler struct {
	syncer   Syncer
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	log      *zap.Logger
	started  bool
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the sync job.
func WithSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithTimeout bounds a single scheduled pass.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New constructs a Scheduler. A nil syncer yields a scheduler whose Start is a no-op.
func New(syncer Syncer, opts ...Option) *Scheduler {
	s := &Scheduler{
		syncer:   syncer,
		schedule: defaultSyncSpec,
		timeout:  defaultSyncTimeout,
		log:      logger.WithModule("scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s
}

// Start registers the sync job and launches the cron scheduler.
func (s *Scheduler) Start() error {
	if s.syncer == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduled order sync failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.started = true
	s.log.Info("order sync scheduled", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil || !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Shutdown stops the scheduler and waits for a running pass, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := s.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return multierr.Append(errors.New("scheduler: running sync did not finish"), ctx.Err())
	}
}

// RunOnce executes a single sync pass. Used at startup and by the cron job.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.syncer.Sync(ctx)
	return err
}
