// Package jobs runs periodic housekeeping for the matchmaker.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Matchmaker is the part of game.Matchmaker the jobs drive.
type Matchmaker interface {
	ExpireWaiting(ctx context.Context, maxAge time.Duration) (int64, error)
	ReconcileCharges(ctx context.Context, since time.Time) (int, error)
}

// Settings control job cadence.
type Settings struct {
	QueueExpiry       time.Duration
	ReconcileInterval time.Duration
	ReconcileWindow   time.Duration
	Timeout           time.Duration
}

// Scheduler owns the gocron scheduler and its jobs.
type Scheduler struct {
	sched  gocron.Scheduler
	mm     Matchmaker
	set    Settings
	logger *zap.Logger
}

// New registers the queue-expiry and ledger-reconcile jobs. Call Start to
// begin running them.
func New(mm Matchmaker, set Settings, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if set.Timeout <= 0 {
		set.Timeout = 30 * time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, mm: mm, set: set, logger: logger.Named("jobs")}

	if set.QueueExpiry > 0 {
		interval := set.QueueExpiry / 2
		if interval < time.Second {
			interval = time.Second
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(s.ExpireQueue),
			gocron.WithName("queue-expiry"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register queue-expiry job: %w", err)
		}
	}

	if set.ReconcileInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(set.ReconcileInterval),
			gocron.NewTask(s.Reconcile),
			gocron.WithName("ledger-reconcile"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register ledger-reconcile job: %w", err)
		}
	}
	return s, nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.sched.Jobs())))
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// ExpireQueue drops entries older than the configured queue expiry.
func (s *Scheduler) ExpireQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.set.Timeout)
	defer cancel()
	if _, err := s.mm.ExpireWaiting(ctx, s.set.QueueExpiry); err != nil {
		s.logger.Warn("queue expiry failed", zap.Error(err))
	}
}

// Reconcile charges seated players of recent sessions that were never charged.
func (s *Scheduler) Reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.set.Timeout)
	defer cancel()
	since := time.Now().Add(-s.set.ReconcileWindow)
	n, err := s.mm.ReconcileCharges(ctx, since)
	if err != nil {
		s.logger.Warn("ledger reconcile failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("ledger reconcile applied missing charges", zap.Int("count", n))
	}
}
