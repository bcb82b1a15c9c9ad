package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/types"
)

// dispatchedTask is one unit of work handed from the Master Process to a
// worker: a task plus the concrete resources the allocator picked for it.
type dispatchedTask struct {
	task     *Task
	allocated map[string]string
}

// workerSlot tracks one worker goroutine's observable status (spec.md §3
// Worker State: IDLE | BUSY(taskKey) | DEAD).
type workerSlot struct {
	mu      sync.RWMutex
	id      int
	status  types.WorkerStatus
	taskKey string
}

func (w *workerSlot) setIdle() {
	w.mu.Lock()
	w.status, w.taskKey = types.WorkerIdle, ""
	w.mu.Unlock()
}

func (w *workerSlot) setBusy(taskKey string) {
	w.mu.Lock()
	w.status, w.taskKey = types.WorkerBusy, taskKey
	w.mu.Unlock()
}

func (w *workerSlot) snapshot() (types.WorkerStatus, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.taskKey
}

// WorkerPool is a fixed-size pool of concurrent task executors pulling
// dispatched tasks off a shared channel (spec.md §4.7). Grounded on
// worker_manager.go's registration/health-state shape, replacing its
// libp2p-peer-keyed remote worker registry with plain in-process
// goroutines, since distributed scheduling is an explicit Non-goal.
type WorkerPool struct {
	dispatch chan dispatchedTask
	slots    []*workerSlot

	resourceManager *resource.Manager
	taskManager     *TaskManager
	shared          *SharedNamespace

	updateEvent chan struct{}

	log *logging.StructuredLogger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// newWorkerPool constructs a pool of maxWorkers goroutines. It does not
// start them; call Start.
func newWorkerPool(maxWorkers int, rm *resource.Manager, tm *TaskManager, shared *SharedNamespace, updateEvent chan struct{}, log *logging.StructuredLogger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	slots := make([]*workerSlot, maxWorkers)
	for i := range slots {
		slots[i] = &workerSlot{id: i, status: types.WorkerIdle}
	}

	return &WorkerPool{
		dispatch:        make(chan dispatchedTask, maxWorkers*4),
		slots:           slots,
		resourceManager: rm,
		taskManager:     tm,
		shared:          shared,
		updateEvent:     updateEvent,
		log:             log,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start launches every worker goroutine.
func (p *WorkerPool) Start() {
	for _, slot := range p.slots {
		p.wg.Add(1)
		go p.run(slot)
	}
}

// Stop signals every worker to exit once its current task (if any)
// completes; queued-but-undispatched tasks are abandoned (spec.md §5
// cancellation semantics: "queued-but-unstarted work is abandoned").
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit hands a dispatched task to whichever worker goroutine is free
// next. It never blocks the caller beyond the pool's buffer: the Master
// Process tick must not stall on worker availability.
func (p *WorkerPool) Submit(task *Task, allocated map[string]string) {
	select {
	case p.dispatch <- dispatchedTask{task: task, allocated: allocated}:
	case <-p.ctx.Done():
	}
}

// Snapshot returns each worker's current observable status.
func (p *WorkerPool) Snapshot() []types.WorkerStatus {
	out := make([]types.WorkerStatus, len(p.slots))
	for i, s := range p.slots {
		status, _ := s.snapshot()
		out[i] = status
	}
	return out
}

func (p *WorkerPool) run(slot *workerSlot) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			slot.mu.Lock()
			slot.status = types.WorkerDead
			slot.mu.Unlock()
			return
		case dt := <-p.dispatch:
			p.execute(slot, dt)
		}
	}
}

// execute runs one task invocation to completion, applying the retry
// policy of spec.md §4.5, then releases resources and reports completion.
// Resource usage is never released by the task body - only the worker
// releases it, on return, whether the run succeeded or failed terminally.
func (p *WorkerPool) execute(slot *workerSlot, dt dispatchedTask) {
	slot.setBusy(dt.task.Key)
	defer slot.setIdle()

	task := dt.task
	taskCtx := TaskContext{AllocatedKeys: dt.allocated, Shared: p.shared}

	output, execErr := p.invokeWithRetry(task, taskCtx)
	failed := execErr != nil

	if err := p.resourceManager.FreeResources(task.ResourceUsage, dt.allocated); err != nil {
		// spec.md §7: a resource programmer error (double-free, freeing more
		// than reserved) indicates corrupted allocator state and is fatal to
		// the worker, not recoverable per-task like a task body's own error.
		if p.log != nil {
			p.log.Error("worker: freeing resources for task - invariant violation", err, slog.String("task_key", task.Key))
		}
		panic(fmt.Errorf("worker: fatal resource invariant violation freeing task %s: %w", task.Key, err))
	}

	willRepeat := !failed && task.willRepeat()
	if willRepeat {
		task.StartTime = task.StartTime.Add(task.RepeatFreq)
	}

	futureErr := execErr
	if failed && !task.RaiseOnExcept {
		futureErr = nil
	}

	p.taskManager.UpdateEndOfTask(task, output, futureErr, failed, willRepeat)
	if willRepeat {
		p.taskManager.SubmitTask(task)
	}

	// Wake the master: this is the sole synchronization point between
	// workers and the master (spec.md §4.7).
	select {
	case p.updateEvent <- struct{}{}:
	default:
	}
}

// invokeWithRetry attempts task.Fn up to RetryOnExcept+1 times (spec.md
// §4.5/§7). The returned error is non-nil exactly when the retry budget was
// exhausted; whether that error is surfaced to the future (vs. swallowed)
// is decided by the caller from task.RaiseOnExcept - both cases still
// transition the task to EXCEPTION.
func (p *WorkerPool) invokeWithRetry(task *Task, taskCtx TaskContext) (output any, err error) {
	attempts := task.RetryOnExcept + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err = p.safeInvoke(task.Fn, taskCtx)
		if err == nil {
			task.RunCount++
			task.RetryCount = 0
			return output, nil
		}
		task.RetryCount++
	}
	return nil, err
}

// safeInvoke recovers a panicking task body into an error, since a user
// task crashing must not take down the worker goroutine (spec.md §7
// distinguishes task-body exceptions, which are recoverable per-task, from
// resource programmer errors, which are fatal to the worker).
func (p *WorkerPool) safeInvoke(fn TaskFunc, taskCtx TaskContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(taskCtx)
}
