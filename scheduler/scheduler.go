// Package scheduler implements a fair-share task scheduler: a bounded pool
// of worker goroutines that run bursts of work ("slices") for sandboxed
// executors, ordered by a CFS-style virtual-runtime accounting scheme and
// protected from runaway executors by a three-level pre-emption ladder
// (cooperative soft-abort, hard-abort plus interruption, and worker
// replacement).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairsched/fairsched/executor"
	"github.com/fairsched/fairsched/tracing"
)

// ErrAlreadyQueued is returned by Queue when the executor is already
// tracked in the run queue. Queueing an already-queued executor is a
// scheduler misuse, not a transient condition.
var ErrAlreadyQueued = errors.New("scheduler: executor already queued")

// WorkerStats summarizes one worker slot for observability.
type WorkerStats struct {
	Name            string
	Phase           string
	CurrentExecutor uint64 // 0 if idle
	Alive           bool
}

// SchedulerStats is a point-in-time snapshot polled by metrics exporters and
// the TUI dashboard.
type SchedulerStats struct {
	QueueDepth            int
	MinimumVirtualRuntime int64
	Workers               []WorkerStats
	RecentTimeouts        []TimeoutReport
}

// Scheduler is the fair-share scheduler façade. All exported methods are
// safe for concurrent use.
type Scheduler struct {
	cfg         Config
	workerCount int

	// latency and minPeriod are baseLatency/baseMinPeriod scaled by
	// scalingFactor(workerCount); computed once in New and read-only after.
	latency   time.Duration
	minPeriod time.Duration

	// mu guards queue, minVRuntime, and running together with hasWork: the
	// single-mutex design means no component ever needs to acquire a second
	// lock while holding this one, save threadTableMu which is never taken
	// with mu held (see ensureWorkers/loadRunners).
	mu          sync.Mutex
	hasWork     *sync.Cond
	queue       *RunQueue
	minVRuntime int64
	running     atomic.Bool

	monitorWakeupCh chan struct{}
	monitorStarted  atomic.Bool
	monitorDone     chan struct{}

	poolCtx    context.Context
	poolCancel context.CancelFunc

	// threadTableMu guards runners during structural changes (spawn,
	// replace). It is never acquired while mu is held, avoiding the lock
	// inversion the single-mutex design forbids.
	threadTableMu sync.Mutex
	runners       atomic.Pointer[[]*worker]

	// idleWorkers counts workers currently parked waiting for work, guarded
	// by mu alongside queue/minVRuntime. isBusyLocked compares this against
	// queue size rather than scanning every worker's bound executor.
	idleWorkers int64

	history *timeoutHistory

	nextWorkerSeq atomic.Int64
}

// New constructs a Scheduler with the given fixed worker count. Call Start
// to spawn workers and the monitor.
func New(workerCount int, cfg Config) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	cfg.applyDefaults()

	factor := scalingFactor(workerCount)
	s := &Scheduler{
		cfg:             cfg,
		workerCount:     workerCount,
		latency:         baseLatency * time.Duration(factor),
		minPeriod:       baseMinPeriod * time.Duration(factor),
		queue:           NewRunQueue(),
		monitorWakeupCh: make(chan struct{}, 1),
		history:         newTimeoutHistory(cfg.HistoryCapacity),
	}
	s.hasWork = sync.NewCond(&s.mu)

	empty := make([]*worker, workerCount)
	s.runners.Store(&empty)
	return s
}

// Start brings the pool up to workerCount live workers and starts the
// monitor goroutine if it is not already running. Start is idempotent: a
// second call respawns any slot whose worker has died or was never spawned.
func (s *Scheduler) Start(ctx context.Context) {
	if s.poolCtx == nil || s.poolCtx.Err() != nil {
		s.poolCtx, s.poolCancel = context.WithCancel(ctx)
	}
	s.running.Store(true)

	s.ensureWorkers()

	if s.monitorStarted.CompareAndSwap(false, true) {
		s.monitorDone = make(chan struct{})
		go s.monitorLoop(s.poolCtx)
	}
}

// ensureWorkers spawns a fresh worker for every slot that is nil or whose
// previous occupant has exited, without ever holding mu while doing so.
func (s *Scheduler) ensureWorkers() {
	s.threadTableMu.Lock()
	defer s.threadTableMu.Unlock()

	current := append([]*worker(nil), s.loadRunners()...)
	changed := false
	for i := range current {
		if current[i] == nil || !current[i].alive.Load() {
			current[i] = s.spawnWorkerLocked(i)
			changed = true
		}
	}
	if changed {
		s.storeRunners(current)
	}
}

func (s *Scheduler) spawnWorkerLocked(slot int) *worker {
	seq := s.nextWorkerSeq.Add(1)
	name := fmt.Sprintf("fairsched-worker-%d", seq)
	w := newWorker(s, slot, name)
	go w.run(s.poolCtx)
	s.cfg.Logger.Info("worker started", F("worker", name), F("slot", slot))
	return w
}

func (s *Scheduler) loadRunners() []*worker {
	p := s.runners.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *Scheduler) storeRunners(r []*worker) {
	cp := append([]*worker(nil), r...)
	s.runners.Store(&cp)
}

// Stop signals every worker and the monitor to exit, clears pending work,
// and waits (briefly) for them to join. Executors still queued when Stop is
// called never run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running.Store(false)
	for {
		ex, ok := s.queue.PopMin()
		if !ok {
			break
		}
		ex.SetOnQueue(false)
	}
	s.queue.Clear()
	s.hasWork.Broadcast()
	s.mu.Unlock()

	select {
	case s.monitorWakeupCh <- struct{}{}:
	default:
	}

	for _, w := range s.loadRunners() {
		if w != nil {
			w.interrupt()
		}
	}

	if s.poolCancel != nil {
		s.poolCancel()
	}

	const joinDeadline = 100 * time.Millisecond
	for _, w := range s.loadRunners() {
		if w == nil {
			continue
		}
		if !joinWithDeadline(w.done, joinDeadline) {
			s.cfg.Logger.Warn("worker did not join before deadline", F("worker", w.name))
		}
	}
	if s.monitorStarted.Load() {
		if !joinWithDeadline(s.monitorDone, joinDeadline) {
			s.cfg.Logger.Warn("monitor did not join before deadline")
		}
		s.monitorStarted.Store(false)
	}
}

func joinWithDeadline(done chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Queue admits ex into the run queue. A brand-new executor (virtual runtime
// still zero) is credited with the floor plus one scaled period, so it
// cannot leapfrog everything already waiting; an executor returning from a
// blocking wait is credited with the floor minus half a latency window, a
// bounded idle-time discount, but it never drops below the virtual runtime
// it already banked.
func (s *Scheduler) Queue(ex executor.Executor) error {
	_, span := tracing.StartAdmission(context.Background(), ex.ID())

	err := s.queueAdmit(ex)
	tracing.EndSpan(span, err)
	return err
}

func (s *Scheduler) queueAdmit(ex executor.Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.OnQueue() {
		return ErrAlreadyQueued
	}

	wasIdle := s.isBusyLocked() == false

	// Refresh minVRuntime against every currently bound executor before
	// computing this admission's assigned runtime, so it is weighed against
	// up-to-date virtual time rather than whatever was left over from the
	// last afterWork/Stats call.
	s.updateRuntimesLocked(nil)

	old := ex.VirtualRuntime()
	var assigned int64
	if old == 0 {
		assigned = s.minVRuntime + int64(s.scaledPeriodLocked())
	} else {
		assigned = s.minVRuntime - int64(s.latency/2)
	}
	if assigned < old {
		assigned = old
	}
	ex.SetVirtualRuntime(assigned)
	ex.SetVRuntimeStart(monotonicNanos())
	ex.SetOnQueue(true)
	s.queue.Insert(ex)

	s.hasWork.Signal()
	s.cfg.Metrics.RecordQueueDepth(s.queue.Size())

	if wasIdle && s.isBusyLocked() {
		select {
		case s.monitorWakeupCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// HasPendingWork reports whether any executor sits in the run queue.
func (s *Scheduler) HasPendingWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.queue.IsEmpty()
}

// awaitWork blocks until an executor is available or the scheduler stops.
// It clears OnQueue and stamps a fresh vruntime-start before returning the
// executor, so the caller can run its slice immediately.
func (s *Scheduler) awaitWork(ctx context.Context, w *worker) (executor.Executor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idleWorkers++
	s.cfg.Metrics.RecordIdleWorkers(int(s.idleWorkers))
	defer func() {
		s.idleWorkers--
		s.cfg.Metrics.RecordIdleWorkers(int(s.idleWorkers))
	}()

	for s.running.Load() && s.queue.IsEmpty() {
		s.hasWork.Wait()
	}
	if !s.running.Load() {
		return nil, false
	}

	ex, ok := s.queue.PopMin()
	if !ok {
		return nil, false
	}
	ex.SetOnQueue(false)
	ex.SetVRuntimeStart(monotonicNanos())
	s.cfg.Metrics.RecordQueueDepth(s.queue.Size())
	return ex, true
}

// afterWork accounts for the slice that just ran and, if the executor
// reported more pending work, requeues it.
func (s *Scheduler) afterWork(w *worker, ex executor.Executor, requeue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateRuntimesLocked(ex)

	if requeue {
		ex.SetOnQueue(true)
		ex.SetVRuntimeStart(monotonicNanos())
		s.queue.Insert(ex)
		s.hasWork.Signal()
	} else {
		ex.SetOnQueue(false)
	}
	s.cfg.Metrics.RecordQueueDepth(s.queue.Size())
}

// updateRuntimesLocked accounts elapsed time against the virtual runtime of
// every executor currently bound to a worker (plus current, if it is not
// already one of them — afterWork's caller may be mid-unbind), dividing by
// one plus the queue size so that a busier queue advances every running
// executor's virtual runtime more slowly — the core of the fair-share
// weighting.
// It then raises the monotone virtual-runtime floor to the minimum across
// the queue head and every bound executor, never lowering it. current may
// be nil, in which case only the currently bound executors are accounted
// for. Callers must hold mu.
func (s *Scheduler) updateRuntimesLocked(current executor.Executor) {
	now := monotonicNanos()
	divisor := int64(1 + s.queue.Size())

	accounted := make(map[executor.Executor]bool)
	accrue := func(ex executor.Executor) {
		if ex == nil || accounted[ex] {
			return
		}
		accounted[ex] = true
		elapsed := now - ex.VRuntimeStart()
		if elapsed < 0 {
			elapsed = 0
		}
		ex.SetVirtualRuntime(ex.VirtualRuntime() + elapsed/divisor)
		ex.SetVRuntimeStart(now)
	}

	accrue(current)
	for _, w := range s.loadRunners() {
		if w != nil {
			accrue(w.currentExecutor())
		}
	}

	floor, found := s.minVRuntime, false
	if head, ok := s.queue.Min(); ok {
		floor, found = head.VirtualRuntime(), true
	}
	for ex := range accounted {
		if !found || ex.VirtualRuntime() < floor {
			floor, found = ex.VirtualRuntime(), true
		}
	}
	if found && floor > s.minVRuntime {
		s.minVRuntime = floor
	}
	s.cfg.Metrics.RecordVirtualRuntimeFloor(s.minVRuntime)
}

// scaledPeriodLocked returns how long a worker should be allowed to run a
// single slice before the monitor's next fairness pass, scaled so a deeper
// queue shortens the period and a near-empty queue relaxes it back towards
// the pool's latency budget. Callers must hold mu.
func (s *Scheduler) scaledPeriodLocked() time.Duration {
	count := int64(s.queue.Size()) + 1
	if count < LatencyMaxTasks {
		return s.latency / time.Duration(count)
	}
	return s.minPeriod
}

// isBusyLocked reports whether the queue is deeper than the pool has idle
// workers to drain it with. Callers must hold mu.
func (s *Scheduler) isBusyLocked() bool {
	return int64(s.queue.Size()) > s.idleWorkers
}

// Stats returns a point-in-time snapshot for metrics exporters and the TUI.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	depth := s.queue.Size()
	floor := s.minVRuntime
	s.mu.Unlock()

	runners := s.loadRunners()
	workers := make([]WorkerStats, 0, len(runners))
	for _, w := range runners {
		if w == nil {
			workers = append(workers, WorkerStats{Phase: "missing"})
			continue
		}
		var execID uint64
		if ex := w.currentExecutor(); ex != nil {
			execID = ex.ID()
		}
		workers = append(workers, WorkerStats{
			Name:            w.name,
			Phase:           w.phase(),
			CurrentExecutor: execID,
			Alive:           w.alive.Load(),
		})
	}

	return SchedulerStats{
		QueueDepth:            depth,
		MinimumVirtualRuntime: floor,
		Workers:               workers,
		RecentTimeouts:        s.history.Snapshot(),
	}
}
