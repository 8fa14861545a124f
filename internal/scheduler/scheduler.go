package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-forward-scheduler/internal/config"
	"mail-forward-scheduler/internal/models"
	"mail-forward-scheduler/internal/reconciler"
)

// Scheduler runs the reconciler on a fixed wall-clock interval. The
// on-demand endpoint calls the same RunOnce; there is no separate manual
// code path.
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.ReconcilerConfig
	reconciler *reconciler.Reconciler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.ReconcilerConfig, rec *reconciler.Reconciler) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		config:     cfg,
		reconciler: rec,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Recreate the context if a previous Stop cancelled it
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.reconcile)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any in-flight gateway calls
	s.cancel()

	s.cron.Remove(s.entryID)
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// reconcile is the cron entry point
func (s *Scheduler) reconcile() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping reconciliation")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	s.reconciler.Run(ctx)
}

// RunOnce runs one reconciliation pass immediately (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) models.ReconcileReport {
	logrus.Info("Running reconciliation on demand")
	return s.reconciler.Run(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for any in-flight reconciliation to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
