package executor

import (
	"sync/atomic"
	"time"
)

// TIMEOUT is how long an executor may run a single slice before the monitor
// considers it soft-aborted. ABORT_TIMEOUT is the grace window granted at
// each subsequent escalation step (hard-abort, interrupt, replacement).
// These are the compiled-in defaults; NewTimeoutStateWithThresholds lets a
// caller override them per the config package's loaded tunables.
//
// These are heuristics; the scheduler only relies on TIMEOUT/2 producing a
// pause point meaningfully earlier than TIMEOUT itself.
const (
	TIMEOUT       = 7 * time.Second
	ABORT_TIMEOUT = 1500 * time.Millisecond
)

// TimeoutState tracks how long an executor has been running its current
// slice and raises cooperative (pause, soft-abort) and non-cooperative
// (hard-abort) flags as it crosses thresholds. It is the only state the
// scheduler's monitor touches on an executor besides the scheduling fields.
type TimeoutState struct {
	start atomic.Pointer[time.Time]

	timeout      time.Duration
	abortTimeout time.Duration

	paused      atomic.Bool
	softAborted atomic.Bool
	hardAborted atomic.Bool
}

// NewTimeoutState returns a TimeoutState using the compiled-in TIMEOUT and
// ABORT_TIMEOUT thresholds, ready for a first slice.
func NewTimeoutState() *TimeoutState {
	return NewTimeoutStateWithThresholds(TIMEOUT, ABORT_TIMEOUT)
}

// NewTimeoutStateWithThresholds returns a TimeoutState using caller-supplied
// thresholds, letting a deployment tune them via the config package without
// recompiling.
func NewTimeoutStateWithThresholds(timeout, abortTimeout time.Duration) *TimeoutState {
	t := &TimeoutState{timeout: timeout, abortTimeout: abortTimeout}
	t.BeginSlice()
	return t
}

// Timeout returns the soft-abort threshold this state was constructed with.
func (t *TimeoutState) Timeout() time.Duration { return t.timeout }

// AbortTimeout returns the escalation grace window this state was
// constructed with.
func (t *TimeoutState) AbortTimeout() time.Duration { return t.abortTimeout }

// BeginSlice resets the per-slice timer and all flags. Called from an
// executor's BeforeWork, before the slice is published to the monitor.
func (t *TimeoutState) BeginSlice() {
	t.BeginSliceAt(time.Now())
}

// BeginSliceAt is BeginSlice with an injectable start time, so tests can
// fast-forward a slice past TIMEOUT/ABORT_TIMEOUT without actually sleeping.
func (t *TimeoutState) BeginSliceAt(start time.Time) {
	t.start.Store(&start)
	t.paused.Store(false)
	t.softAborted.Store(false)
	t.hardAborted.Store(false)
}

func (t *TimeoutState) elapsed() time.Duration {
	start := t.start.Load()
	if start == nil {
		return 0
	}
	return time.Since(*start)
}

// Refresh recomputes the pause and soft-abort flags from elapsed time. Only
// the monitor calls this; an executor observes the flags at its own
// safepoints via IsPaused/IsSoftAborted.
func (t *TimeoutState) Refresh() {
	e := t.elapsed()
	if e >= t.timeout/2 {
		t.paused.Store(true)
	}
	if e >= t.timeout {
		t.softAborted.Store(true)
	}
}

// NanoCumulative returns nanoseconds elapsed since the current slice began.
func (t *TimeoutState) NanoCumulative() int64 {
	return int64(t.elapsed())
}

// HardAbort raises the hard-abort flag. Called by the monitor once an
// executor has overstayed TIMEOUT+ABORT_TIMEOUT.
func (t *TimeoutState) HardAbort() { t.hardAborted.Store(true) }

// IsHardAborted reports whether the monitor has raised the hard-abort flag.
func (t *TimeoutState) IsHardAborted() bool { return t.hardAborted.Load() }

// IsSoftAborted reports whether cumulative time has crossed TIMEOUT.
func (t *TimeoutState) IsSoftAborted() bool { return t.softAborted.Load() }

// IsPaused reports whether cumulative time has crossed TIMEOUT/2. A
// cooperative executor should yield at its next safepoint once this is set.
func (t *TimeoutState) IsPaused() bool { return t.paused.Load() }
