// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitian134/mod-spdy/framing"
)

func newTestStream(id framing.StreamId) *Stream {
	return NewStream(id, 0, 0, false, true, 64<<10, 3)
}

type fakeTask struct {
	ran      chan struct{}
	canceled chan struct{}
}

func newFakeTask() *fakeTask {
	return &fakeTask{ran: make(chan struct{}), canceled: make(chan struct{})}
}

func (f *fakeTask) Run()    { close(f.ran) }
func (f *fakeTask) Cancel() { close(f.canceled) }

func TestThreadPoolExecutorRunsQueuedTasks(t *testing.T) {
	defer leaktest.Check(t)()

	exec := NewThreadPoolExecutor(2, NewDevelopmentLogger())
	task := newFakeTask()
	exec.AddTask(newTestStream(1), task, 0)

	select {
	case <-task.ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	exec.Stop()
}

func TestThreadPoolExecutorStopRunsOrCancelsQueuedTasks(t *testing.T) {
	defer leaktest.Check(t)()

	exec := NewThreadPoolExecutor(1, NewDevelopmentLogger())
	// occupy the single worker so the next task stays queued.
	block := make(chan struct{})
	busy := &blockingTask{unblock: block}
	exec.AddTask(newTestStream(1), busy, 0)

	task := newFakeTask()
	exec.AddTask(newTestStream(3), task, 0)

	close(block)
	exec.Stop()

	select {
	case <-task.ran:
	case <-task.canceled:
	case <-time.After(time.Second):
		t.Fatal("task neither ran nor was canceled")
	}
}

type blockingTask struct {
	unblock chan struct{}
}

func (b *blockingTask) Run()    { <-b.unblock }
func (b *blockingTask) Cancel() {}

func TestThreadPoolExecutorRecoversFromPanic(t *testing.T) {
	defer leaktest.Check(t)()

	exec := NewThreadPoolExecutor(1, NewDevelopmentLogger())
	var wg sync.WaitGroup
	wg.Add(1)
	str := newTestStream(1)
	exec.AddTask(str, &panicTask{done: &wg}, 0)
	wg.Wait()

	// the worker must still be alive after recovering.
	task := newFakeTask()
	exec.AddTask(newTestStream(3), task, 0)
	select {
	case <-task.ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	exec.Stop()
}

func TestThreadPoolExecutorPanicResetsBoundStream(t *testing.T) {
	defer leaktest.Check(t)()

	exec := NewThreadPoolExecutor(1, NewDevelopmentLogger())
	var wg sync.WaitGroup
	wg.Add(1)
	str := newTestStream(1)
	exec.AddTask(str, &panicTask{done: &wg}, 0)
	wg.Wait()

	require.Eventually(t, func() bool {
		reset, _ := str.IsReset()
		return reset
	}, time.Second, time.Millisecond, "stream must be reset once the panic is recovered")

	status, ok := str.TakePendingRst()
	require.True(t, ok, "a panic recovered off the session goroutine must leave a pending RST for the session to send")
	assert.Equal(t, ErrKindTaskFailure.RstStatus(), status)
	exec.Stop()
}

type panicTask struct {
	done *sync.WaitGroup
}

func (p *panicTask) Run() {
	defer p.done.Done()
	panic("boom")
}
func (p *panicTask) Cancel() { p.done.Done() }

func TestInlineExecutorRunOnAddRunsSynchronously(t *testing.T) {
	exec := NewInlineExecutor(true)
	task := newFakeTask()
	exec.AddTask(newTestStream(1), task, 0)
	select {
	case <-task.ran:
	default:
		t.Fatal("runOnAdd executor must run the task before AddTask returns")
	}
}

func TestInlineExecutorRunOnAddPanicResetsBoundStream(t *testing.T) {
	exec := NewInlineExecutor(true)
	str := newTestStream(1)
	var wg sync.WaitGroup
	wg.Add(1)

	require.NotPanics(t, func() {
		exec.AddTask(str, &panicTask{done: &wg}, 0)
	}, "a panicking task must not crash the caller under runOnAdd")

	reset, status := str.IsReset()
	require.True(t, reset)
	assert.Equal(t, ErrKindTaskFailure.RstStatus(), status)
}

func TestInlineExecutorQueuesUntilRunAll(t *testing.T) {
	exec := NewInlineExecutor(false)
	a, b := newFakeTask(), newFakeTask()
	exec.AddTask(newTestStream(1), a, 0)
	exec.AddTask(newTestStream(3), b, 0)

	select {
	case <-a.ran:
		t.Fatal("task ran before RunAll")
	default:
	}

	exec.RunAll()
	require.NotPanics(t, func() {
		<-a.ran
		<-b.ran
	})
}

func TestInlineExecutorStopCancelsQueued(t *testing.T) {
	exec := NewInlineExecutor(false)
	task := newFakeTask()
	exec.AddTask(newTestStream(1), task, 0)
	exec.Stop()

	select {
	case <-task.canceled:
	default:
		t.Fatal("queued task should be canceled on Stop")
	}

	another := newFakeTask()
	exec.AddTask(newTestStream(3), another, 0)
	select {
	case <-another.canceled:
	default:
		t.Fatal("tasks added after Stop must be canceled immediately")
	}
	assert.True(t, true)
}
