// Package scheduler drives periodic crawl cycles.
//
// Each runner gets its own goroutine and timer. A runner's next cycle is
// armed only after its current cycle returns, so a runner never overlaps
// with itself; different runners run independently of each other.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/certcrawl/internal/metrics"
)

// DefaultPeriod is the delay between the end of one cycle and the start of
// the next when none is configured.
const DefaultPeriod = time.Hour

// Runner is one periodically executed job.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Perioder is implemented by runners that want their own period.
// A zero period falls back to the scheduler's.
type Perioder interface {
	Period() time.Duration
}

// PanicError reports a runner that panicked during a cycle.
type PanicError struct {
	Runner string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("runner %s panicked: %v", e.Runner, e.Value)
}

// Scheduler owns one timer per runner.
type Scheduler struct {
	period  time.Duration
	runners []Runner
	logger  *slog.Logger
	metrics metrics.Recorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates a scheduler. A non-positive period means DefaultPeriod.
func New(period time.Duration, runners ...Runner) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		period:  period,
		runners: runners,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics.Discard,
	}
}

// WithLogger sets the logger and returns s.
func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithRecorder sets the metrics recorder used to count panics and returns s.
func (s *Scheduler) WithRecorder(r metrics.Recorder) *Scheduler {
	if r != nil {
		s.metrics = r
	}
	return s
}

// PeriodOf returns the effective period for r.
func (s *Scheduler) PeriodOf(r Runner) time.Duration {
	if p, ok := r.(Perioder); ok && p.Period() > 0 {
		return p.Period()
	}
	return s.period
}

// Start launches every runner. The first cycle of each runner starts
// immediately. Start returns at once; use Wait or Stop to block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, r := range s.runners {
		s.wg.Add(1)
		go s.loop(ctx, r)
	}
	s.logger.Info("scheduler started", "runners", len(s.runners), "period", s.period)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, r Runner) {
	defer s.wg.Done()
	period := s.PeriodOf(r)

	for {
		_ = s.runSafe(ctx, r)

		t := time.NewTimer(period)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop cancels pending timers and in-flight cycles, then waits for every
// runner goroutine to exit. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.Wait()
}

// Wait blocks until every runner goroutine has exited. Runners only exit
// once the context passed to Start ends or Stop is called.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunOnce runs every runner once, concurrently, and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	errs := make([]error, len(s.runners))
	var wg sync.WaitGroup
	for i, r := range s.runners {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runSafe(ctx, r); err != nil {
				errs[i] = fmt.Errorf("%s: %w", r.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runSafe runs one cycle, converting a panic into a PanicError.
func (s *Scheduler) runSafe(ctx context.Context, r Runner) (err error) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Runner: r.Name(), Value: v, Stack: debug.Stack()}
			s.metrics.CycleFinished(r.Name(), metrics.OutcomePanic, time.Since(start))
			s.logger.Error("cycle panicked", "source", r.Name(), "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
		}
	}()

	err = r.Run(ctx)
	if err != nil {
		// Runners log their own aborts in detail.
		s.logger.Debug("cycle returned error", "source", r.Name(), "error", err)
	}
	return err
}
