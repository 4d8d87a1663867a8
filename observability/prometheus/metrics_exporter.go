package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fairsched/fairsched/scheduler"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts scheduler.Metrics to Prometheus collectors.
type MetricsExporter struct {
	queueDepth      prom.Gauge
	idleWorkers     prom.Gauge
	sliceDuration   *prom.HistogramVec
	abortTotal      *prom.CounterVec
	virtualRuntime  prom.Gauge
}

var _ scheduler.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for
// scheduler.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "fairsched"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of executors currently waiting in the run queue.",
	})
	idleWorkers := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "idle_workers",
		Help:      "Number of worker slots not currently running a slice.",
	})
	sliceDuration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "slice_duration_seconds",
		Help:      "Duration of a single executor work slice.",
		Buckets:   buckets,
	}, []string{})
	abortTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "abort_total",
		Help:      "Pre-emption escalations by kind.",
	}, []string{"kind"})
	virtualRuntime := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "virtual_runtime_floor_nanoseconds",
		Help:      "The scheduler's monotone virtual-runtime floor.",
	})

	var err error
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if idleWorkers, err = registerCollector(reg, idleWorkers); err != nil {
		return nil, err
	}
	if sliceDuration, err = registerCollector(reg, sliceDuration); err != nil {
		return nil, err
	}
	if abortTotal, err = registerCollector(reg, abortTotal); err != nil {
		return nil, err
	}
	if virtualRuntime, err = registerCollector(reg, virtualRuntime); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		queueDepth:     queueDepth,
		idleWorkers:    idleWorkers,
		sliceDuration:  sliceDuration,
		abortTotal:     abortTotal,
		virtualRuntime: virtualRuntime,
	}, nil
}

func (m *MetricsExporter) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *MetricsExporter) RecordIdleWorkers(n int) {
	if m == nil {
		return
	}
	m.idleWorkers.Set(float64(n))
}

func (m *MetricsExporter) RecordSliceDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sliceDuration.WithLabelValues().Observe(d.Seconds())
}

func (m *MetricsExporter) RecordAbort(kind string) {
	if m == nil {
		return
	}
	m.abortTotal.WithLabelValues(normalizeLabel(kind, "unknown")).Inc()
}

func (m *MetricsExporter) RecordVirtualRuntimeFloor(ns int64) {
	if m == nil {
		return
	}
	m.virtualRuntime.Set(float64(ns))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
