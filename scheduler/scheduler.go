// Package scheduler runs the periodic bookkeeping jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	MonthlyResetSpec = "0 0 1 * *"
	RolloverSpec     = "5 * * * *"

	jobTimeout = 10 * time.Minute
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	ResetMonth(ctx context.Context, now time.Time) error
	RolloverPeriods(ctx context.Context, now time.Time) (int, error)
}

type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	now  func() time.Time
}

// New registers the jobs on a cron running in loc.
func New(jobs Jobs, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		jobs: jobs,
		now:  time.Now,
	}
	if _, err := s.cron.AddFunc(MonthlyResetSpec, s.MonthlyReset); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(RolloverSpec, s.Rollover); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	logger.Get().Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		logger.Get().Warn("scheduler stop timed out")
	}
}

// MonthlyReset zeroes every user's monthly reps.
func (s *Scheduler) MonthlyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	start := s.now()
	err := s.jobs.ResetMonth(ctx, start)
	metrics.RecordJobRun("monthly_reset", err == nil)
	if err != nil {
		logger.Get().Error("monthly reset failed", zap.Error(err))
		return
	}
	logger.Get().Info("monthly reset done", zap.Duration("took", time.Since(start)))
}

// Rollover starts new task periods.
func (s *Scheduler) Rollover() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := s.jobs.RolloverPeriods(ctx, s.now())
	metrics.RecordJobRun("rollover", err == nil)
	if err != nil {
		logger.Get().Error("period rollover failed", zap.Int("rolled_over", n), zap.Error(err))
		return
	}
	logger.Get().Info("period rollover done", zap.Int("rolled_over", n))
}
