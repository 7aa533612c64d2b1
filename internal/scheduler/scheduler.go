// Package scheduler runs a detection cycle on a fixed, changeable cadence.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrInvalidPeriod is returned for non-positive periods.
var ErrInvalidPeriod = errors.New("period must be positive")

// Cycle is one unit of work run per tick. It must return promptly once ctx is done.
type Cycle func(ctx context.Context) error

// State is the scheduler lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	default:
		return "idle"
	}
}

// Stats counts scheduler activity since creation.
type Stats struct {
	HandlesCreated  int64 `json:"handlesCreated"`
	HandlesCanceled int64 `json:"handlesCanceled"`
	CyclesRun       int64 `json:"cyclesRun"`
	CyclesSkipped   int64 `json:"cyclesSkipped"`
	CyclesFailed    int64 `json:"cyclesFailed"`
}

// handle is one live ticker and the goroutine draining it.
type handle struct {
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// Scheduler owns at most one tick handle. At most one cycle is in flight; a tick
// that arrives while one is running is skipped.
type Scheduler struct {
	clock  clock.Clock
	cycle  Cycle
	logger *zap.SugaredLogger

	mu     sync.Mutex
	state  State
	period time.Duration
	handle *handle

	// ctx is handed to every cycle of one Running session and canceled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	token    chan struct{}
	inFlight sync.WaitGroup

	created  atomic.Int64
	canceled atomic.Int64
	run      atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// New creates an idle scheduler. A nil clock uses the wall clock.
func New(clk clock.Clock, cycle Cycle, logger *zap.SugaredLogger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		clock:  clk,
		cycle:  cycle,
		logger: logger,
		token:  make(chan struct{}, 1),
	}
}

// Start begins ticking every period. If already running, the current handle is
// canceled first and the in-flight cycle is left alone.
func (s *Scheduler) Start(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	old := s.detachLocked()
	if s.state == Idle {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.state = Running
	s.period = period
	s.attachLocked(period)
	s.mu.Unlock()

	old.wait()
	s.logger.Debugw("scheduler started", "period", period)
	return nil
}

// SetPeriod changes the cadence. While running this cancels exactly one handle and
// creates exactly one new one, so the next tick comes one full period later. While
// idle it only records the period for the next Start.
func (s *Scheduler) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	s.period = period
	if s.state != Running {
		s.mu.Unlock()
		return nil
	}
	old := s.detachLocked()
	s.attachLocked(period)
	s.mu.Unlock()

	old.wait()
	s.logger.Debugw("scheduler period changed", "period", period)
	return nil
}

// Stop cancels the tick handle and the context of any in-flight cycle. No cycle
// starts after Stop returns. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	old := s.detachLocked()
	s.cancel()
	s.state = Idle
	s.mu.Unlock()

	old.wait()
	s.logger.Debug("scheduler stopped")
}

// Wait blocks until no cycle is in flight.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Period returns the configured period.
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		HandlesCreated:  s.created.Load(),
		HandlesCanceled: s.canceled.Load(),
		CyclesRun:       s.run.Load(),
		CyclesSkipped:   s.skipped.Load(),
		CyclesFailed:    s.failed.Load(),
	}
}

func (s *Scheduler) attachLocked(period time.Duration) {
	h := &handle{
		ticker: s.clock.Ticker(period),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.handle = h
	s.created.Add(1)
	go s.loop(h, s.ctx)
}

// detachLocked cancels the current handle, if any, and returns it so the caller can
// wait for its goroutine outside the lock.
func (s *Scheduler) detachLocked() *handle {
	h := s.handle
	if h == nil {
		return nil
	}
	s.handle = nil
	h.ticker.Stop()
	close(h.stop)
	s.canceled.Add(1)
	return h
}

func (h *handle) wait() {
	if h != nil {
		<-h.done
	}
}

func (s *Scheduler) loop(h *handle, ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case <-h.ticker.C:
			select {
			case <-h.stop:
				return
			default:
			}
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	select {
	case s.token <- struct{}{}:
	default:
		s.skipped.Add(1)
		return
	}

	s.run.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer func() { <-s.token }()

		if err := s.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Debugw("cycle abandoned", "error", err)
				return
			}
			s.failed.Add(1)
			s.logger.Warnw("cycle failed", "error", err)
		}
	}()
}

func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("cycle panic: %v", r)
		}
	}()
	return s.cycle(ctx)
}
