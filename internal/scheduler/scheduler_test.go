package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcRunner struct {
	name   string
	period time.Duration
	fn     func(ctx context.Context) error
}

func (r *funcRunner) Name() string                  { return r.name }
func (r *funcRunner) Period() time.Duration         { return r.period }
func (r *funcRunner) Run(ctx context.Context) error { return r.fn(ctx) }

func TestNew_DefaultPeriod(t *testing.T) {
	s := New(0)
	assert.Equal(t, DefaultPeriod, s.period)

	r := &funcRunner{name: "a"}
	assert.Equal(t, DefaultPeriod, s.PeriodOf(r))
	r.period = time.Minute
	assert.Equal(t, time.Minute, s.PeriodOf(r))
}

func TestStart_FirstCycleImmediate(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(time.Hour, &funcRunner{name: "a", fn: func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not start immediately")
	}
}

func TestStart_Twice(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_NoSelfOverlap(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	r := &funcRunner{name: "a", fn: func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	}}

	s := New(time.Millisecond, r)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 5 }, 5*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestScheduler_PeriodMeasuredFromCompletion(t *testing.T) {
	const period = 30 * time.Millisecond
	var mu sync.Mutex
	var starts, ends []time.Time

	r := &funcRunner{name: "a", fn: func(ctx context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return nil
	}}

	s := New(period, r)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts) && i-1 < len(ends); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), period)
	}
}

func TestScheduler_RunnersOverlapEachOther(t *testing.T) {
	aIn, bIn := make(chan struct{}), make(chan struct{})
	var both atomic.Bool

	mk := func(name string, mine, other chan struct{}) Runner {
		var once sync.Once
		return &funcRunner{name: name, fn: func(ctx context.Context) error {
			once.Do(func() {
				close(mine)
				select {
				case <-other:
					both.Store(true)
				case <-time.After(2 * time.Second):
				}
			})
			return nil
		}}
	}

	s := New(time.Hour, mk("a", aIn, bIn), mk("b", bIn, aIn))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, both.Load, 5*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_PerRunnerPeriod(t *testing.T) {
	var fast, slow atomic.Int32
	s := New(time.Hour,
		&funcRunner{name: "fast", period: time.Millisecond, fn: func(ctx context.Context) error { fast.Add(1); return nil }},
		&funcRunner{name: "slow", fn: func(ctx context.Context) error { slow.Add(1); return nil }},
	)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return fast.Load() >= 5 }, 5*time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), slow.Load())
}

func TestScheduler_RecoversPanics(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Millisecond, &funcRunner{name: "a", fn: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("kaboom")
		}
		return nil
	}})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, time.Millisecond)
	s.Stop()
}

func TestScheduler_ErrorsDoNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Millisecond, &funcRunner{name: "a", fn: func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, time.Millisecond)
	s.Stop()
}

func TestScheduler_StopCancelsInFlight(t *testing.T) {
	entered := make(chan struct{})
	s := New(time.Hour, &funcRunner{name: "a", fn: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}})
	require.NoError(t, s.Start(context.Background()))
	<-entered

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	s.Stop()
}

func TestScheduler_ParentContextEndsLoops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(time.Hour, &funcRunner{name: "a", fn: func(ctx context.Context) error { return nil }})
	require.NoError(t, s.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestRunOnce(t *testing.T) {
	boom := errors.New("boom")
	var okRuns atomic.Int32
	s := New(time.Hour,
		&funcRunner{name: "ok", fn: func(ctx context.Context) error { okRuns.Add(1); return nil }},
		&funcRunner{name: "bad", fn: func(ctx context.Context) error { return boom }},
		&funcRunner{name: "panics", fn: func(ctx context.Context) error { panic("x") }},
	)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "panics", pe.Runner)
	assert.Equal(t, int32(1), okRuns.Load())
}

func TestRunOnce_AllSucceed(t *testing.T) {
	s := New(time.Hour, &funcRunner{name: "a", fn: func(ctx context.Context) error { return nil }})
	assert.NoError(t, s.RunOnce(context.Background()))
}
