package scheduler

import (
	"context"
	"time"

	"github.com/fairsched/fairsched/executor"
	"github.com/fairsched/fairsched/tracing"
)

// monitorLoop runs for the lifetime of the scheduler, periodically checking
// for dead workers and executors that have overstayed their timeout. Its
// wakeup period adapts to load: a busy pool wakes it far more often than an
// idle one, via scaledPeriodLocked, and a queue transition out of idle wakes
// it immediately through monitorWakeupCh rather than waiting out a stale
// idle-length timer.
func (s *Scheduler) monitorLoop(ctx context.Context) {
	defer close(s.monitorDone)

	for s.running.Load() {
		s.checkRunners(ctx)

		wait := s.monitorWait()
		select {
		case <-s.monitorWakeupCh:
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) monitorWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isBusyLocked() {
		return s.scaledPeriodLocked()
	}
	return MonitorWakeup
}

// checkRunners respawns any missing or dead worker slot and then walks every
// live worker's in-flight executor for timeout escalation. Run unconditionally
// on every tick, for every slot: dead-worker replacement is routine monitor
// upkeep, not something only triggered by a timeout event.
func (s *Scheduler) checkRunners(ctx context.Context) {
	if !s.running.Load() {
		return
	}
	for _, w := range s.loadRunners() {
		if w != nil && !w.alive.Load() {
			s.cfg.Logger.Warn("replacing dead worker", F("worker", w.name), F("slot", w.slot))
		}
	}
	s.ensureWorkers()

	for _, w := range s.loadRunners() {
		if w == nil || !w.alive.Load() {
			continue
		}
		ex := w.currentExecutor()
		if ex == nil {
			continue
		}
		s.checkExecutorTimeout(ctx, w, ex)
	}
}

// checkExecutorTimeout walks the four-step pre-emption ladder: a
// cooperative soft-abort flag an executor is expected to poll at its own
// safepoints, a hard abort once a full grace window has passed with no
// cooperation, a worker interruption after a further grace window, and
// outright worker replacement if even that fails to dislodge it.
func (s *Scheduler) checkExecutorTimeout(ctx context.Context, w *worker, ex executor.Executor) {
	ts := ex.Timeout()
	ts.Refresh()
	elapsed := time.Duration(ts.NanoCumulative())

	timeout, abort := ts.Timeout(), ts.AbortTimeout()

	var kind string
	switch {
	case elapsed >= timeout+3*abort:
		kind = "replace"
	case elapsed >= timeout+2*abort:
		kind = "interrupt"
	case elapsed >= timeout+abort:
		kind = "hard"
	case ts.IsSoftAborted():
		kind = "soft"
	default:
		return
	}

	_, span := tracing.StartEscalation(ctx, w.name, ex.ID(), kind)
	defer span.End()

	switch kind {
	case "replace":
		w.reportTimeout(ex, elapsed, kind)
		s.replaceWorker(w, ex)
	case "interrupt":
		w.reportTimeout(ex, elapsed, kind)
		ts.HardAbort()
		ex.Abort()
		w.interrupt()
	case "hard":
		ts.HardAbort()
		ex.Abort()
	}
}

// replaceWorker discards a worker that failed to respond to interruption,
// spawning a fresh one into its slot immediately. Before swapping, it takes
// ex off the old worker itself and drains it through afterWork on the
// worker's behalf, the same way the worker's own runSlice would have had it
// ever returned. Without this, ex stays bound to a worker nobody is waiting
// on and never re-enters the RunQueue. The discarded worker's goroutine is
// left to exit on its own if it ever does yield; the scheduler no longer
// waits on it.
func (s *Scheduler) replaceWorker(w *worker, ex executor.Executor) {
	w.interrupt()

	if box := w.current.Load(); box != nil && box.ex == ex && w.current.CompareAndSwap(box, nil) {
		ex.ExecutingThread().Store(nil)
		s.afterWork(w, ex, ex.AfterWork())
	}

	s.threadTableMu.Lock()
	defer s.threadTableMu.Unlock()

	current := append([]*worker(nil), s.loadRunners()...)
	if w.slot < 0 || w.slot >= len(current) || current[w.slot] != w {
		return
	}
	current[w.slot] = s.spawnWorkerLocked(w.slot)
	s.storeRunners(current)

	s.cfg.Logger.Error("replaced worker stuck past timeout",
		F("worker", w.name), F("slot", w.slot))
}
