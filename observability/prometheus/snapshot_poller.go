package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fairsched/fairsched/scheduler"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() scheduler.SchedulerStats
}

// SnapshotPoller periodically exports Scheduler.Stats() snapshots into
// Prometheus gauges, for the signals RecordQueueDepth/RecordAbort et al.
// cannot capture on their own (per-worker liveness, queue depth at rest).
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	queueDepth            *prom.GaugeVec
	virtualRuntimeFloor   *prom.GaugeVec
	workerAlive           *prom.GaugeVec
	workerBusy            *prom.GaugeVec
	recentTimeoutsByKind  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fairsched",
		Name:      "snapshot_queue_depth",
		Help:      "Queue depth at the last poll.",
	}, []string{"scheduler"})
	virtualRuntimeFloor := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fairsched",
		Name:      "snapshot_virtual_runtime_floor_nanoseconds",
		Help:      "Virtual-runtime floor at the last poll.",
	}, []string{"scheduler"})
	workerAlive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fairsched",
		Name:      "snapshot_worker_alive",
		Help:      "Worker liveness at the last poll (1=alive, 0=dead or missing).",
	}, []string{"scheduler", "worker"})
	workerBusy := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fairsched",
		Name:      "snapshot_worker_busy",
		Help:      "Worker activity at the last poll (1=running a slice, 0=idle).",
	}, []string{"scheduler", "worker"})
	recentTimeoutsByKind := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fairsched",
		Name:      "snapshot_recent_timeouts",
		Help:      "Count of timeout reports retained in history, by escalation kind.",
	}, []string{"scheduler", "kind"})

	var err error
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if virtualRuntimeFloor, err = registerCollector(reg, virtualRuntimeFloor); err != nil {
		return nil, err
	}
	if workerAlive, err = registerCollector(reg, workerAlive); err != nil {
		return nil, err
	}
	if workerBusy, err = registerCollector(reg, workerBusy); err != nil {
		return nil, err
	}
	if recentTimeoutsByKind, err = registerCollector(reg, recentTimeoutsByKind); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:             interval,
		schedulers:           make(map[string]SchedulerSnapshotProvider),
		queueDepth:           queueDepth,
		virtualRuntimeFloor:  virtualRuntimeFloor,
		workerAlive:          workerAlive,
		workerBusy:           workerBusy,
		recentTimeoutsByKind: recentTimeoutsByKind,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.queueDepth.WithLabelValues(name).Set(float64(stats.QueueDepth))
		p.virtualRuntimeFloor.WithLabelValues(name).Set(float64(stats.MinimumVirtualRuntime))

		for _, w := range stats.Workers {
			alive := 0.0
			if w.Alive {
				alive = 1
			}
			busy := 0.0
			if w.CurrentExecutor != 0 {
				busy = 1
			}
			worker := normalizeLabel(w.Name, "unknown")
			p.workerAlive.WithLabelValues(name, worker).Set(alive)
			p.workerBusy.WithLabelValues(name, worker).Set(busy)
		}

		byKind := make(map[string]int)
		for _, r := range stats.RecentTimeouts {
			byKind[r.Escalation]++
		}
		for kind, count := range byKind {
			p.recentTimeoutsByKind.WithLabelValues(name, kind).Set(float64(count))
		}
	}
}
