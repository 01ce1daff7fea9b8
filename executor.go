// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yitian134/mod-spdy/framing"
)

// Task is one unit of stream work. The executor running it must call
// exactly one of Run or Cancel, exactly once, and never both.
type Task interface {
	Run()
	Cancel()
}

// StreamTaskFactory produces a Task bound to one stream, once the session
// loop has accepted a SYN_STREAM and registered the Stream.
type StreamTaskFactory interface {
	NewStreamTask(str *Stream) Task
}

// StreamTaskFactoryFunc adapts a plain function to a StreamTaskFactory.
type StreamTaskFactoryFunc func(str *Stream) Task

func (f StreamTaskFactoryFunc) NewStreamTask(str *Stream) Task { return f(str) }

// Executor schedules and runs stream Tasks outside the session loop. The
// session is the sole caller of AddTask and Stop. str is the stream the
// task is bound to; an executor that recovers a panicking task's failure
// resets str with ErrKindTaskFailure's status (§7 error kind 6) rather
// than letting it hang half-closed forever.
type Executor interface {
	AddTask(str *Stream, task Task, priority framing.Priority)
	Stop()
}

// queuedTask pairs a Task with the Stream it runs against, so a panic
// recovered after the fact can still be blamed on the right stream.
type queuedTask struct {
	str  *Stream
	task Task
}

// ThreadPoolExecutor is the production Executor: a fixed pool of worker
// goroutines pulling from a shared queue. It replaces the teacher's
// unbounded goroutine-per-stream spawn (stream.go's handleReq) with a
// bounded pool, since an adversarial client opening many streams
// shouldn't be able to force unbounded goroutine growth.
type ThreadPoolExecutor struct {
	tasks    chan queuedTask
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      *zap.SugaredLogger
}

// NewThreadPoolExecutor starts workers goroutines, each pulling tasks off
// a shared queue until Stop is called.
func NewThreadPoolExecutor(workers int, log *zap.SugaredLogger) *ThreadPoolExecutor {
	e := &ThreadPoolExecutor{
		tasks:  make(chan queuedTask, 64),
		stopCh: make(chan struct{}),
		log:    log,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *ThreadPoolExecutor) worker() {
	defer e.wg.Done()
	for {
		select {
		case qt, ok := <-e.tasks:
			if !ok {
				return
			}
			e.runTask(qt.str, qt.task)
		case <-e.stopCh:
			return
		}
	}
}

// runTask runs task and, if it panics, resets the bound stream with
// ErrKindTaskFailure's RST status instead of just logging: left
// half-closed, the stream would never satisfy registry.RemoveClosed and
// the session would hang open on it indefinitely.
func (e *ThreadPoolExecutor) runTask(str *Stream, task Task) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("stream task panicked", "panic", r)
			str.AbortAndNotify(ErrKindTaskFailure.RstStatus())
		}
	}()
	task.Run()
}

// AddTask queues task for execution on the next free worker. Priority
// does not reorder queued tasks — it only governs the order their output
// is written to the wire, via the scheduler (component D) — so a
// low-priority stream's task can still start running promptly.
func (e *ThreadPoolExecutor) AddTask(str *Stream, task Task, priority framing.Priority) {
	select {
	case e.tasks <- queuedTask{str: str, task: task}:
	case <-e.stopCh:
		task.Cancel()
	}
}

// Stop cancels every task still queued and waits for running workers to
// finish, per §5 Cancellation: a cancelled worker must return promptly
// and must not submit further output.
func (e *ThreadPoolExecutor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		for {
			select {
			case qt := <-e.tasks:
				qt.task.Cancel()
			default:
				e.wg.Wait()
				return
			}
		}
	})
}

// InlineExecutor runs tasks synchronously on the calling goroutine instead
// of a pool, mirroring mod_spdy's InlineExecutor test double
// (spdy_session_test.cc). It lets tests drive a stream's entire worker
// lifecycle deterministically instead of racing a real thread pool.
type InlineExecutor struct {
	mu       sync.Mutex
	runOnAdd bool
	stopped  bool
	queue    []queuedTask
}

// NewInlineExecutor returns an InlineExecutor. If runOnAdd is true, each
// task runs synchronously inside AddTask; otherwise it is queued for a
// later RunOne/RunAll.
func NewInlineExecutor(runOnAdd bool) *InlineExecutor {
	return &InlineExecutor{runOnAdd: runOnAdd}
}

func (e *InlineExecutor) AddTask(str *Stream, task Task, priority framing.Priority) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		task.Cancel()
		return
	}
	if e.runOnAdd {
		e.mu.Unlock()
		e.runTask(str, task)
		return
	}
	e.queue = append(e.queue, queuedTask{str: str, task: task})
	e.mu.Unlock()
}

// runTask mirrors ThreadPoolExecutor.runTask: a panicking task resets its
// bound stream instead of taking down the whole session goroutine.
func (e *InlineExecutor) runTask(str *Stream, task Task) {
	defer func() {
		if r := recover(); r != nil {
			str.AbortAndNotify(ErrKindTaskFailure.RstStatus())
		}
	}()
	task.Run()
}

// RunOne runs the oldest still-queued task, if any, and reports whether it did.
func (e *InlineExecutor) RunOne() bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	qt := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()
	e.runTask(qt.str, qt.task)
	return true
}

// RunAll runs every queued task, including ones queued by tasks it runs
// along the way.
func (e *InlineExecutor) RunAll() {
	for e.RunOne() {
	}
}

// Stop marks the executor stopped and cancels whatever is still queued.
func (e *InlineExecutor) Stop() {
	e.mu.Lock()
	e.stopped = true
	queued := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, qt := range queued {
		qt.task.Cancel()
	}
}
