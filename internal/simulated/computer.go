// Package simulated provides a toy executor.Executor implementation used by
// scheduler tests and the demo/dashboard commands in place of a real
// sandboxed virtual machine.
package simulated

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/fairsched/fairsched/executor"
)

// WorkFunc runs one slice of simulated work. It should respect ctx
// cancellation and poll Computer.Aborted between steps the way a real
// computer would poll its own soft-abort flag.
type WorkFunc func(ctx context.Context, c *Computer) error

// Computer is a minimal Executor: it runs WorkFunc once per slice and
// reports AfterWork from an atomic counter of remaining slices, so tests can
// construct executors that run N bursts of work before going idle.
type Computer struct {
	id   uint64
	name string
	work WorkFunc

	vruntime        atomic.Int64
	vruntimeStart   atomic.Int64
	onQueue         atomic.Bool
	executingThread atomic.Pointer[executor.WorkerHandle]
	timeout         *executor.TimeoutState

	remainingSlices atomic.Int64

	aborted atomic.Bool
	failed  atomic.Bool
	worked  atomic.Int64
}

// New creates a Computer that runs work for the given number of slices
// before AfterWork reports no more pending work, timing slices against the
// compiled-in TIMEOUT/ABORT_TIMEOUT thresholds.
func New(id uint64, name string, slices int64, work WorkFunc) *Computer {
	return NewWithThresholds(id, name, slices, work, executor.TIMEOUT, executor.ABORT_TIMEOUT)
}

// NewWithThresholds is New with caller-supplied timeout thresholds, letting
// a demo load its thresholds from config.Tunables to observe the monitor's
// escalation ladder without waiting out the compiled-in seven-second default.
func NewWithThresholds(id uint64, name string, slices int64, work WorkFunc, timeout, abortTimeout time.Duration) *Computer {
	c := &Computer{
		id:      id,
		name:    name,
		work:    work,
		timeout: executor.NewTimeoutStateWithThresholds(timeout, abortTimeout),
	}
	c.remainingSlices.Store(slices)
	return c
}

func (c *Computer) ID() uint64 { return c.id }

func (c *Computer) VirtualRuntime() int64     { return c.vruntime.Load() }
func (c *Computer) SetVirtualRuntime(ns int64) { c.vruntime.Store(ns) }
func (c *Computer) VRuntimeStart() int64       { return c.vruntimeStart.Load() }
func (c *Computer) SetVRuntimeStart(ns int64)  { c.vruntimeStart.Store(ns) }

func (c *Computer) OnQueue() bool     { return c.onQueue.Load() }
func (c *Computer) SetOnQueue(v bool) { c.onQueue.Store(v) }

func (c *Computer) ExecutingThread() *atomic.Pointer[executor.WorkerHandle] {
	return &c.executingThread
}

func (c *Computer) Timeout() *executor.TimeoutState { return c.timeout }

func (c *Computer) BeforeWork() { c.timeout.BeginSlice() }

func (c *Computer) Work(ctx context.Context) error {
	c.worked.Add(1)
	if c.work == nil {
		return nil
	}
	return c.work(ctx, c)
}

func (c *Computer) AfterWork() bool {
	return c.remainingSlices.Add(-1) > 0
}

// Requeue bumps the remaining slice count by n, letting a test simulate a
// computer that wakes back up after going idle (the "returning sleeper"
// scenario).
func (c *Computer) Requeue(n int64) {
	c.remainingSlices.Add(n)
}

func (c *Computer) Abort() { c.aborted.Store(true) }

// Aborted reports whether the monitor has raised the hard-abort flag.
// Simulated work functions should poll this the way a real computer polls
// its own interrupt state.
func (c *Computer) Aborted() bool { return c.aborted.Load() }

func (c *Computer) FastFail() { c.failed.Store(true) }

// Failed reports whether FastFail has been called, i.e. whether any slice's
// Work returned an error or panicked. It is never reset.
func (c *Computer) Failed() bool { return c.failed.Load() }

// WorkedCount returns how many slices Work has run.
func (c *Computer) WorkedCount() int64 { return c.worked.Load() }

func (c *Computer) PrintState(w io.Writer) {
	fmt.Fprintf(w, "computer %d (%s): worked=%d aborted=%v failed=%v remaining=%d\n",
		c.id, c.name, c.worked.Load(), c.aborted.Load(), c.failed.Load(), c.remainingSlices.Load())
}
