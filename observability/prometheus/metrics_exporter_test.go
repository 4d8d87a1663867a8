package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("fairsched", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordQueueDepth(7)
	exporter.RecordIdleWorkers(3)
	exporter.RecordSliceDuration(250 * time.Millisecond)
	exporter.RecordAbort("hard")
	exporter.RecordVirtualRuntimeFloor(42)

	if got := testutil.ToFloat64(exporter.queueDepth); got != 7 {
		t.Fatalf("queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.idleWorkers); got != 3 {
		t.Fatalf("idle workers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(exporter.abortTotal.WithLabelValues("hard")); got != 1 {
		t.Fatalf("abort total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.virtualRuntime); got != 42 {
		t.Fatalf("virtual runtime floor = %v, want 42", got)
	}

	count, err := histogramSampleCount(exporter.sliceDuration.WithLabelValues())
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("slice duration sample count = %d, want 1", count)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("fairsched", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("fairsched", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordAbort("soft")
	second.RecordAbort("soft")

	got := testutil.ToFloat64(first.abortTotal.WithLabelValues("soft"))
	if got != 2 {
		t.Fatalf("shared abort counter = %v, want 2", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
