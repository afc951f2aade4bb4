package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is one scan cycle.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	RunImmediately bool
}

// Scheduler drives a fixed-interval loop in which at most one cycle runs at
// a time. A tick that lands while a cycle is in flight is dropped.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	busy    atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled, then waits for the in-flight cycle.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	s.running.Store(true)
	defer s.running.Store(false)

	if s.opts.RunImmediately {
		s.dispatch(ctx, tick)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping, waiting for in-flight cycle")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.dispatch(ctx, tick)
		}
	}
}

// Trigger runs one cycle synchronously under the single-flight guard.
// It reports false when another cycle already held the guard.
func (s *Scheduler) Trigger(ctx context.Context, tick TickFunc) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous cycle still running, skipping tick")
		return false
	}
	s.wg.Add(1)
	s.execute(ctx, tick)
	return true
}

// Active reports whether a cycle is in flight.
func (s *Scheduler) Active() bool {
	return s.busy.Load()
}

// Running reports whether the loop has started and not yet stopped.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) dispatch(ctx context.Context, tick TickFunc) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go s.execute(ctx, tick)
}

// execute must be entered with the guard held and wg incremented.
func (s *Scheduler) execute(ctx context.Context, tick TickFunc) {
	defer s.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Err(fmt.Errorf("panic: %v", r)).
				Str("stack", string(debug.Stack())).
				Msg("cycle panicked")
		}
	}()

	started := time.Now()
	if err := tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("cycle execution failed")
		return
	}
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("cycle finished")
}
