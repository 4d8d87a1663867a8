package fairsched

import (
	"github.com/fairsched/fairsched/executor"
	"github.com/fairsched/fairsched/scheduler"
)

// Re-export the scheduler and executor package's types for convenience, so
// most callers only need to import the fairsched package itself.

// Scheduler is the fair-share scheduler façade.
type Scheduler = scheduler.Scheduler

// Config holds the optional collaborators a Scheduler is built with.
type Config = scheduler.Config

// Logger is the scheduler's logging seam.
type Logger = scheduler.Logger

// Metrics collects scheduler-shaped signals.
type Metrics = scheduler.Metrics

// PanicHandler is invoked when a worker's run loop recovers a panic.
type PanicHandler = scheduler.PanicHandler

// SchedulerStats is a point-in-time snapshot of a Scheduler.
type SchedulerStats = scheduler.SchedulerStats

// WorkerStats summarizes one worker slot.
type WorkerStats = scheduler.WorkerStats

// TimeoutReport records one timeout escalation.
type TimeoutReport = scheduler.TimeoutReport

// Executor is the capability interface the scheduler dispatches work
// through.
type Executor = executor.Executor

// TimeoutState tracks how long an executor has been running its current
// slice.
type TimeoutState = executor.TimeoutState

// WorkerHandle identifies a scheduler worker slot.
type WorkerHandle = executor.WorkerHandle

// ErrAlreadyQueued is returned by Queue when the executor is already
// tracked in the run queue.
var ErrAlreadyQueued = scheduler.ErrAlreadyQueued

// New constructs a Scheduler with the given fixed worker count.
func New(workerCount int, cfg Config) *Scheduler {
	return scheduler.New(workerCount, cfg)
}

// DefaultConfig returns a Config with default collaborators.
func DefaultConfig() Config {
	return scheduler.DefaultConfig()
}

// NewTimeoutState returns a TimeoutState using the compiled-in TIMEOUT and
// ABORT_TIMEOUT thresholds.
func NewTimeoutState() *TimeoutState {
	return executor.NewTimeoutState()
}
