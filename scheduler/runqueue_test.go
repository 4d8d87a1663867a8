package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairsched/fairsched/executor"
)

// fakeExecutor is a bare-bones executor.Executor used only to exercise
// RunQueue ordering; it never actually runs work.
type fakeExecutor struct {
	id              uint64
	vruntime        int64
	vruntimeStart   int64
	onQueue         bool
	executingThread atomic.Pointer[executor.WorkerHandle]
	timeout         *executor.TimeoutState
}

func newFakeExecutor(id uint64, vruntime int64) *fakeExecutor {
	return &fakeExecutor{id: id, vruntime: vruntime, timeout: executor.NewTimeoutState()}
}

func (f *fakeExecutor) ID() uint64                                       { return f.id }
func (f *fakeExecutor) VirtualRuntime() int64                            { return f.vruntime }
func (f *fakeExecutor) SetVirtualRuntime(ns int64)                       { f.vruntime = ns }
func (f *fakeExecutor) VRuntimeStart() int64                             { return f.vruntimeStart }
func (f *fakeExecutor) SetVRuntimeStart(ns int64)                        { f.vruntimeStart = ns }
func (f *fakeExecutor) OnQueue() bool                                    { return f.onQueue }
func (f *fakeExecutor) SetOnQueue(v bool)                                { f.onQueue = v }
func (f *fakeExecutor) ExecutingThread() *atomic.Pointer[executor.WorkerHandle] {
	return &f.executingThread
}
func (f *fakeExecutor) Timeout() *executor.TimeoutState { return f.timeout }
func (f *fakeExecutor) BeforeWork()                     {}
func (f *fakeExecutor) Work(ctx context.Context) error  { return nil }
func (f *fakeExecutor) AfterWork() bool                 { return false }
func (f *fakeExecutor) Abort()                          {}
func (f *fakeExecutor) FastFail()                       {}
func (f *fakeExecutor) PrintState(w io.Writer)          {}

func TestRunQueue_PopsSmallestVirtualRuntimeFirst(t *testing.T) {
	q := NewRunQueue()
	q.Insert(newFakeExecutor(1, 300))
	q.Insert(newFakeExecutor(2, 100))
	q.Insert(newFakeExecutor(3, 200))

	var order []uint64
	for {
		ex, ok := q.PopMin()
		if !ok {
			break
		}
		order = append(order, ex.ID())
	}
	require.Equal(t, []uint64{2, 3, 1}, order)
}

func TestRunQueue_TiebreaksByInsertionOrder(t *testing.T) {
	q := NewRunQueue()
	q.Insert(newFakeExecutor(1, 100))
	q.Insert(newFakeExecutor(2, 100))
	q.Insert(newFakeExecutor(3, 100))

	var order []uint64
	for {
		ex, ok := q.PopMin()
		if !ok {
			break
		}
		order = append(order, ex.ID())
	}
	require.Equal(t, []uint64{1, 2, 3}, order)
}

func TestRunQueue_MinDoesNotRemove(t *testing.T) {
	q := NewRunQueue()
	q.Insert(newFakeExecutor(1, 50))

	first, ok := q.Min()
	require.True(t, ok)
	require.Equal(t, uint64(1), first.ID())
	require.Equal(t, 1, q.Size())

	second, ok := q.Min()
	require.True(t, ok)
	require.Equal(t, uint64(1), second.ID())
}

func TestRunQueue_EmptyQueue(t *testing.T) {
	q := NewRunQueue()
	require.True(t, q.IsEmpty())

	_, ok := q.PopMin()
	require.False(t, ok)

	_, ok = q.Min()
	require.False(t, ok)
}

func TestRunQueue_Clear(t *testing.T) {
	q := NewRunQueue()
	q.Insert(newFakeExecutor(1, 10))
	q.Insert(newFakeExecutor(2, 20))
	require.Equal(t, 2, q.Size())

	q.Clear()
	require.True(t, q.IsEmpty())
}
