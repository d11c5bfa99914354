// Package scheduler runs the periodic background jobs of the API.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"helppages/api/internal/store"
)

const (
	PublishDueSpec = "@every 1m"
	PurgeSpec      = "@hourly"
)

// Jobs is implemented by the application service.
type Jobs interface {
	PublishDuePages(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) (store.PurgeStats, error)
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	logger  *zap.Logger
	timeout time.Duration
}

func New(jobs Jobs, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:    jobs,
		logger:  logger,
		timeout: 50 * time.Second,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(PublishDueSpec, s.publishDue); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(PurgeSpec, s.purge); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop stops the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) publishDue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.jobs.PublishDuePages(ctx)
	if err != nil {
		s.logger.Error("scheduled publish failed", zap.Int("published", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("scheduled pages published", zap.Int("published", n))
	}
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	stats, err := s.jobs.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("purge expired rows failed", zap.Error(err))
		return
	}
	s.logger.Info("purged expired rows",
		zap.Int64("refresh_sessions", stats.RefreshSessions),
		zap.Int64("revoked_tokens", stats.RevokedTokens),
		zap.Int64("password_resets", stats.PasswordResets),
	)
}
