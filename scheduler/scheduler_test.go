package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairsched/fairsched/executor"
	"github.com/fairsched/fairsched/internal/simulated"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(workers, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	return s
}

func TestScheduler_RunsQueuedWork(t *testing.T) {
	s := newTestScheduler(t, 2)

	done := make(chan struct{})
	c := simulated.New(1, "c1", 1, func(ctx context.Context, c *simulated.Computer) error {
		close(done)
		return nil
	})

	require.NoError(t, s.Queue(c))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("work never ran")
	}
}

func TestScheduler_QueueRejectsAlreadyQueued(t *testing.T) {
	s := newTestScheduler(t, 1)

	block := make(chan struct{})
	c := simulated.New(1, "c1", 1, func(ctx context.Context, c *simulated.Computer) error {
		<-block
		return nil
	})

	require.NoError(t, s.Queue(c))
	time.Sleep(10 * time.Millisecond) // let the worker pop it off the queue

	c.SetOnQueue(true) // simulate the executor still believing itself queued
	err := s.Queue(c)
	require.ErrorIs(t, err, ErrAlreadyQueued)

	close(block)
}

func TestScheduler_RequeuesWhenAfterWorkReportsMore(t *testing.T) {
	s := newTestScheduler(t, 1)

	var runs atomic.Int64
	allDone := make(chan struct{})
	c := simulated.New(1, "c1", 3, func(ctx context.Context, c *simulated.Computer) error {
		if runs.Add(1) == 3 {
			close(allDone)
		}
		return nil
	})

	require.NoError(t, s.Queue(c))

	select {
	case <-allDone:
	case <-time.After(time.Second):
		t.Fatalf("only ran %d of 3 slices", runs.Load())
	}
	require.Equal(t, int64(3), c.WorkedCount())
}

func TestScheduler_FairnessAcrossTwoBusyComputers(t *testing.T) {
	s := newTestScheduler(t, 1)

	const slices = 20
	var aRuns, bRuns atomic.Int64
	order := make(chan string, slices*2)

	a := simulated.New(1, "a", slices, func(ctx context.Context, c *simulated.Computer) error {
		aRuns.Add(1)
		order <- "a"
		time.Sleep(time.Millisecond)
		return nil
	})
	b := simulated.New(2, "b", slices, func(ctx context.Context, c *simulated.Computer) error {
		bRuns.Add(1)
		order <- "b"
		time.Sleep(time.Millisecond)
		return nil
	})

	require.NoError(t, s.Queue(a))
	require.NoError(t, s.Queue(b))

	for i := 0; i < slices*2; i++ {
		select {
		case <-order:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d/%d slices", i, slices*2)
		}
	}

	// A single worker interleaves strictly fairly between two always-ready
	// computers of equal weight: neither should finish dramatically ahead.
	diff := aRuns.Load() - bRuns.Load()
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, int64(2))
}

func TestScheduler_CheckExecutorTimeoutEscalatesByElapsed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(1, cfg)

	c := simulated.New(1, "c1", 1, func(ctx context.Context, c *simulated.Computer) error {
		<-ctx.Done()
		return ctx.Err()
	})

	w := newWorker(s, 0, "w0")
	c.ExecutingThread().Store(w.handle)
	_, cancel := context.WithCancel(context.Background())
	w.sliceCancel.Store(&cancel)
	w.current.Store(&executorBox{ex: c, start: time.Now()})

	// Elapsed time just past the interrupt threshold: the worker should be
	// interrupted and the executor hard-aborted, but not yet replaced.
	past := time.Now().Add(-(executor.TIMEOUT + 2*executor.ABORT_TIMEOUT + time.Millisecond))
	c.Timeout().BeginSliceAt(past)

	s.checkExecutorTimeout(context.Background(), w, c)

	require.True(t, c.Timeout().IsHardAborted())
	require.True(t, w.aborting.Load())

	reports := s.history.Snapshot()
	require.Len(t, reports, 1)
	require.NotEmpty(t, reports[0].Correlation)
}

func TestScheduler_CheckExecutorTimeoutReplacesStuckWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(1, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.poolCtx = ctx

	// Two remaining slices so AfterWork reports requeue, letting the test
	// confirm the abandoned executor is drained back onto the run queue
	// rather than left bound to the discarded worker forever.
	c := simulated.New(1, "c1", 2, func(ctx context.Context, c *simulated.Computer) error {
		<-ctx.Done()
		return ctx.Err()
	})

	w := newWorker(s, 0, "w0")
	s.threadTableMu.Lock()
	s.storeRunners([]*worker{w})
	s.threadTableMu.Unlock()

	c.ExecutingThread().Store(w.handle)
	_, wcancel := context.WithCancel(context.Background())
	w.sliceCancel.Store(&wcancel)
	w.current.Store(&executorBox{ex: c, start: time.Now()})

	past := time.Now().Add(-(executor.TIMEOUT + 3*executor.ABORT_TIMEOUT + time.Millisecond))
	c.Timeout().BeginSliceAt(past)

	s.checkExecutorTimeout(context.Background(), w, c)

	replaced := s.loadRunners()[0]
	require.NotSame(t, w, replaced)

	require.Nil(t, w.current.Load())
	require.Nil(t, c.ExecutingThread().Load())
	require.True(t, c.OnQueue())
	require.Equal(t, 1, s.queue.Size())
}

func TestScheduler_StopPreventsFurtherExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(1, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer cancel()

	s.Stop()

	var ran atomic.Bool
	c := simulated.New(1, "c1", 1, func(ctx context.Context, c *simulated.Computer) error {
		ran.Store(true)
		return nil
	})
	_ = s.Queue(c)

	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load())
}

func TestScheduler_HasPendingWork(t *testing.T) {
	s := newTestScheduler(t, 1)

	require.False(t, s.HasPendingWork())

	block := make(chan struct{})
	c := simulated.New(1, "c1", 1, func(ctx context.Context, c *simulated.Computer) error {
		<-block
		return nil
	})
	require.NoError(t, s.Queue(c))
	close(block)
}

func TestScheduler_QueueCreditsReturningSleeperButNeverBelowOld(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(2, cfg)

	s.minVRuntime = int64(time.Second)

	returning := simulated.New(1, "returning", 1, func(ctx context.Context, c *simulated.Computer) error { return nil })
	returning.SetVirtualRuntime(int64(500 * time.Millisecond))

	require.NoError(t, s.queueAdmit(returning))

	want := s.minVRuntime - int64(s.latency/2)
	require.Equal(t, want, returning.VirtualRuntime())
	require.GreaterOrEqual(t, returning.VirtualRuntime(), int64(500*time.Millisecond))
}

func TestScheduler_QueueChargesFreshAdmissionAScaledPeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	s := New(1, cfg)

	fresh := simulated.New(1, "fresh", 1, func(ctx context.Context, c *simulated.Computer) error { return nil })

	require.NoError(t, s.queueAdmit(fresh))

	// Queue was empty at admission time (count = 1), so scaled_period()
	// equals the pool's whole latency budget, s.latency.
	require.Equal(t, s.minVRuntime+int64(s.latency), fresh.VirtualRuntime())
}

func TestScheduler_StatsReportsWorkers(t *testing.T) {
	s := newTestScheduler(t, 3)
	stats := s.Stats()
	require.Len(t, stats.Workers, 3)
}
