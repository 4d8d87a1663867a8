// Package executor defines the boundary contract between the fair-share
// scheduler and the sandboxed in-process virtual machines ("computers") it
// dispatches work for. The scheduler owns and mutates the scheduling fields
// of an Executor exclusively; everything else — how a slice of work actually
// runs — belongs to the Executor implementation.
package executor

import (
	"context"
	"io"
	"sync/atomic"
)

// WorkerHandle identifies a scheduler worker slot for the purposes of the
// ExecutingThread compare-and-swap cell. The scheduler package constructs
// and owns these; Executor implementations only ever compare pointer
// identity against values they receive back from ExecutingThread.
type WorkerHandle struct {
	Name string
}

// Executor is the capability interface the scheduler's core operates
// against. At most one worker may observe a None->Some transition on
// ExecutingThread for a given Executor at a time; any implementation that
// lets that invariant slip is a serious bug.
type Executor interface {
	// ID returns the stable identity used in logs and reports.
	ID() uint64

	// VirtualRuntime and VRuntimeStart are mutated exclusively by the
	// scheduler while accumulating fair-share time.
	VirtualRuntime() int64
	SetVirtualRuntime(ns int64)
	VRuntimeStart() int64
	SetVRuntimeStart(ns int64)

	// OnQueue reflects whether this executor currently sits in the
	// scheduler's run queue. Mutated exclusively by the scheduler.
	OnQueue() bool
	SetOnQueue(bool)

	// ExecutingThread exposes the CAS cell a worker binds before running a
	// slice and clears after. Implementations must back it with a field they
	// own so the monitor can read it without the scheduler's lock.
	ExecutingThread() *atomic.Pointer[WorkerHandle]

	// Timeout is a black box to the scheduler save for the operations
	// TimeoutState itself exposes.
	Timeout() *TimeoutState

	// BeforeWork resets the per-slice timer. Called by the worker that has
	// just won the bind, before the slice is published to the monitor.
	BeforeWork()

	// Work runs one slice. A returned error is treated the same as the
	// executor having thrown: the worker logs it and calls FastFail, and
	// the worker itself survives to run the next executor.
	Work(ctx context.Context) error

	// AfterWork reports whether the executor has more work and should be
	// requeued.
	AfterWork() bool

	// Abort raises the hard-abort flag's effect inside the executor; it is
	// called repeatedly by the monitor once an executor has overstayed its
	// timeout, and must be safe to call from a goroutine other than the one
	// running Work.
	Abort()

	// FastFail tears the computer down immediately after Work has raised an
	// error; there is no guarantee it behaves correctly from then on.
	FastFail()

	// PrintState writes a diagnostic dump used in timeout reports.
	PrintState(w io.Writer)
}
