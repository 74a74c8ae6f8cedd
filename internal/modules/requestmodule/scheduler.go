package requestmodule

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/redseat/internal/database"
)

// LibraryLister lists the libraries whose jobs are reconciled
type LibraryLister interface {
	Libraries(ctx context.Context) ([]database.Library, error)
}

// Scheduler runs a reconciliation pass over every library on an interval
type Scheduler struct {
	tracker   *Tracker
	libraries LibraryLister
	interval  time.Duration
	logger    hclog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(tracker *Tracker, libraries LibraryLister, interval time.Duration, logger hclog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		tracker:   tracker,
		libraries: libraries,
		interval:  interval,
		logger:    logger.Named("reconcile-scheduler"),
	}
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.logger.Info("reconcile scheduler started", "interval", s.interval)
}

// Stop ends the loop and waits for the running pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("reconcile scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every library once and returns the total changed count.
// Libraries are visited one after another; a failing library is logged and
// the pass moves on.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	libs, err := s.libraries.Libraries(ctx)
	if err != nil {
		s.logger.Error("failed to list libraries", "error", err)
		return 0
	}

	total := 0
	for _, lib := range libs {
		if ctx.Err() != nil {
			break
		}
		changed, err := s.tracker.ReconcileActive(ctx, lib.ID)
		total += changed
		if err != nil {
			s.logger.Error("reconciliation failed", "library", lib.ID, "error", err)
		}
	}
	if total > 0 {
		s.logger.Info("reconciliation pass updated jobs", "changed", total)
	}
	return total
}
