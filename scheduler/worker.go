package scheduler

import (
	"bytes"
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fairsched/fairsched/executor"
	"github.com/fairsched/fairsched/tracing"
)

// worker is one slot in the scheduler's fixed-size pool. It runs a loop that
// pulls the minimum-virtual-runtime executor off the run queue, executes one
// slice of its work, and reports completion back to the scheduler. A worker
// survives ordinary Work errors; it is only ever discarded by the monitor's
// replacement escalation, at which point a fresh worker takes its slot.
type worker struct {
	handle *executor.WorkerHandle
	name   string
	sched  *Scheduler
	slot   int

	alive atomic.Bool
	done  chan struct{}

	current     atomic.Pointer[executorBox]
	sliceCancel atomic.Pointer[context.CancelFunc]
	lastReport  atomic.Int64
	aborting    atomic.Bool
}

// executorBox pairs an in-flight executor with when its slice was published.
// The monitor computes elapsed time from the executor's TimeoutState, not
// from start.
type executorBox struct {
	ex    executor.Executor
	start time.Time
}

func newWorker(sched *Scheduler, slot int, name string) *worker {
	w := &worker{
		handle: &executor.WorkerHandle{Name: name},
		name:   name,
		sched:  sched,
		slot:   slot,
		done:   make(chan struct{}),
	}
	w.alive.Store(true)
	return w
}

// run is the worker's goroutine body. It returns once awaitWork reports that
// the scheduler has stopped. ctx is the parent of every slice's context:
// cancelling it cancels slices, but does not by itself end the loop.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.alive.Store(false)

	for {
		ex, ok := w.sched.awaitWork(ctx, w)
		if !ok {
			return
		}
		w.runSlice(ctx, ex)
	}
}

// runSlice binds the worker to ex, executes one slice, and reports the
// outcome back to the scheduler for requeueing and runtime accounting.
func (w *worker) runSlice(ctx context.Context, ex executor.Executor) {
	if !ex.ExecutingThread().CompareAndSwap(nil, w.handle) {
		w.sched.cfg.Logger.Error("executor already bound to a worker",
			F("worker", w.name), F("executor", ex.ID()))
		return
	}

	ex.BeforeWork()
	w.aborting.Store(false)

	sliceID := uuid.NewString()

	sliceCtx, cancel := context.WithCancel(ctx)
	w.sliceCancel.Store(&cancel)
	w.current.Store(&executorBox{ex: ex, start: time.Now()})
	defer func() {
		w.current.Store(nil)
		w.sliceCancel.Store(nil)
		cancel()
	}()

	spanCtx, span := tracing.StartSlice(sliceCtx, w.name, ex.ID())

	start := time.Now()
	err := w.invokeWork(spanCtx, ex)
	elapsed := time.Since(start)
	w.sched.cfg.Metrics.RecordSliceDuration(elapsed)
	tracing.EndSpan(span, err)

	// If the monitor's replacement escalation has already taken ex off this
	// worker, it has also unbound ex and run afterWork for it; ex may be
	// bound to another worker by now, so there is nothing left to do here.
	if w.current.Swap(nil) == nil {
		return
	}

	// Clear the binding before touching the scheduler lock: afterWork may
	// requeue ex immediately, and a second worker must be free to bind to it
	// the instant it becomes runnable again.
	ex.ExecutingThread().Store(nil)

	if err != nil {
		w.sched.cfg.Logger.Warn("executor work returned error",
			F("worker", w.name), F("executor", ex.ID()), F("slice", sliceID), F("error", err))
		ex.FastFail()
	}

	requeue := ex.AfterWork()
	w.sched.afterWork(w, ex, requeue)
}

// invokeWork calls ex.Work, recovering and reporting any panic through the
// configured PanicHandler rather than letting it take the worker goroutine
// down with it.
func (w *worker) invokeWork(ctx context.Context, ex executor.Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.sched.cfg.PanicHandler.HandlePanic(ctx, w.name, r, debug.Stack())
			ex.FastFail()
			err = nil
		}
	}()
	return ex.Work(ctx)
}

// interrupt cancels the context backing the worker's current slice, the Go
// analogue of calling Thread.interrupt() on a blocked worker thread. It is a
// no-op if the worker is idle.
func (w *worker) interrupt() {
	w.aborting.Store(true)
	if cancel := w.sliceCancel.Load(); cancel != nil {
		(*cancel)()
	}
}

// currentExecutor returns the executor the worker is presently running a
// slice for, or nil if idle.
func (w *worker) currentExecutor() executor.Executor {
	box := w.current.Load()
	if box == nil {
		return nil
	}
	return box.ex
}

// phase summarizes the worker's state for timeout reports and Stats.
func (w *worker) phase() string {
	switch {
	case w.current.Load() == nil:
		return "idle"
	case w.aborting.Load():
		return "aborting"
	default:
		return "running work()"
	}
}

// reportTimeout emits a debounced diagnostic report for a slice that has
// overstayed a timeout threshold. Debouncing rate-limits what would otherwise
// be a noisy report on every monitor tick for the same stuck slice.
func (w *worker) reportTimeout(ex executor.Executor, elapsed time.Duration, escalation string) {
	if !w.sched.cfg.ReportTimeouts {
		return
	}
	now := time.Now().UnixNano()
	last := w.lastReport.Load()
	if now-last < int64(ReportDebounce) {
		return
	}
	if !w.lastReport.CompareAndSwap(last, now) {
		return
	}

	var buf bytes.Buffer
	ex.PrintState(&buf)

	correlation := uuid.NewString()
	report := TimeoutReport{
		At:           time.Now(),
		WorkerName:   w.name,
		ExecutorID:   ex.ID(),
		ElapsedNanos: int64(elapsed),
		Escalation:   escalation,
		Phase:        w.phase(),
		State:        buf.String(),
		Correlation:  correlation,
	}
	w.sched.history.record(report)
	w.sched.cfg.Logger.Warn("executor slice overstayed timeout",
		F("worker", w.name), F("executor", ex.ID()), F("correlation", correlation),
		F("elapsed", elapsed), F("escalation", escalation), F("phase", report.Phase))
	w.sched.cfg.Metrics.RecordAbort(escalation)
}
