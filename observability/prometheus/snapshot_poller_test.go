package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fairsched/fairsched/scheduler"
)

type schedulerStub struct {
	stats scheduler.SchedulerStats
}

func (s schedulerStub) Stats() scheduler.SchedulerStats { return s.stats }

func TestSnapshotPoller_CollectsSchedulerStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddScheduler("sched-a", schedulerStub{stats: scheduler.SchedulerStats{
		QueueDepth:            4,
		MinimumVirtualRuntime: 1000,
		Workers: []scheduler.WorkerStats{
			{Name: "w0", Alive: true, CurrentExecutor: 7},
			{Name: "w1", Alive: true, CurrentExecutor: 0},
		},
		RecentTimeouts: []scheduler.TimeoutReport{
			{Escalation: "soft"},
			{Escalation: "soft"},
			{Escalation: "hard"},
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		depth := testutil.ToFloat64(poller.queueDepth.WithLabelValues("sched-a"))
		floor := testutil.ToFloat64(poller.virtualRuntimeFloor.WithLabelValues("sched-a"))
		return depth == 4 && floor == 1000
	})

	if got := testutil.ToFloat64(poller.workerAlive.WithLabelValues("sched-a", "w0")); got != 1 {
		t.Fatalf("worker alive gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.workerBusy.WithLabelValues("sched-a", "w0")); got != 1 {
		t.Fatalf("worker busy gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.workerBusy.WithLabelValues("sched-a", "w1")); got != 0 {
		t.Fatalf("worker busy gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.recentTimeoutsByKind.WithLabelValues("sched-a", "soft")); got != 2 {
		t.Fatalf("soft timeout gauge = %v, want 2", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
