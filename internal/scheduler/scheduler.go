// Package scheduler runs the periodic lifecycle triggers. Triggers own no
// state and take no locks against each other; overlapping firings are safe
// because every per-post transition is a conditional update.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postpilot/internal/middleware"
)

// Trigger is one periodic invoker of a single batch operation.
type Trigger struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunAtStart fires the trigger once immediately on Start.
	RunAtStart bool
}

// Scheduler drives a set of independent triggers.
type Scheduler struct {
	triggers []Trigger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a scheduler for the given triggers.
func New(triggers ...Trigger) *Scheduler {
	return &Scheduler{triggers: triggers}
}

// Add registers another trigger. Must be called before Start.
func (s *Scheduler) Add(t Trigger) {
	s.triggers = append(s.triggers, t)
}

// Start launches one goroutine per trigger. Each firing is logged with its
// outcome; a failing batch never stops the ticker.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, t := range s.triggers {
		if t.Interval <= 0 || t.Run == nil {
			middleware.Logger.Warn("skipping misconfigured trigger", slog.String("trigger", t.Name))
			continue
		}

		s.wg.Add(1)
		go func(t Trigger) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
	}

	middleware.Logger.Info("scheduler started", slog.Int("triggers", len(s.triggers)))
}

func (s *Scheduler) loop(ctx context.Context, t Trigger) {
	if t.RunAtStart {
		s.fire(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t Trigger) {
	ctx = middleware.WithTrigger(ctx, t.Name)
	start := time.Now()

	if err := t.Run(ctx); err != nil {
		middleware.Logger.ErrorContext(ctx, "trigger batch failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}
	middleware.Logger.InfoContext(ctx, "trigger batch completed",
		slog.Duration("elapsed", time.Since(start)))
}

// Stop cancels all trigger loops and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	middleware.Logger.Info("scheduler stopped")
}
