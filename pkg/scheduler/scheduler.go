// Package scheduler implements the task scheduling core: a multi-worker,
// resource-aware task executor coordinating user-submitted tasks against a
// shared pool of capacity-limited and rate-limited resources.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/types"
)

// ErrSchedulerStopped is returned by operations that require a running
// scheduler (spec.md §7 "shutdown during wait").
var ErrSchedulerStopped = errors.New("scheduler: stopped")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("scheduler: already started")

// Parallelism selects the worker pool's execution model (spec.md §6
// Scheduler.start). The scheduling algorithm and synchronization
// discipline are identical either way; this only affects how user task
// bodies are isolated from each other.
type Parallelism string

const (
	// ParallelismThread runs every worker as a goroutine sharing the host
	// process's memory - the default, and the only model this Go rewrite
	// implements natively (spec.md §9 resolves the source's SyncManager
	// process-proxy design down to "shared memory with mutexes for
	// thread-based parallelism", which goroutines provide directly).
	ParallelismThread Parallelism = "thread"
)

// Scheduler is the external, language-neutral API of spec.md §6, scoped to
// a single Scheduler-owned instance: no process-global state is used
// anywhere in this package (spec.md §9).
type Scheduler struct {
	resourceManager *resource.Manager
	taskManager     *TaskManager
	shared          *SharedNamespace
	log             *logging.StructuredLogger
	description     string

	updateEvent chan struct{}
	pool        *WorkerPool
	master      *masterProcess

	mu      sync.Mutex
	started bool
	stopped bool
}

// New constructs an unstarted Scheduler (spec.md §6 Scheduler.new).
func New(log *logging.StructuredLogger) *Scheduler {
	tm := NewTaskManager()
	tm.SetLogger(log)
	return &Scheduler{
		resourceManager: resource.NewManager(),
		taskManager:     tm,
		shared:          newSharedNamespace(),
		log:             log,
		updateEvent:     make(chan struct{}, 1),
	}
}

// AddResources registers one or more resources under alias. With an empty
// alias each resource is registered under its own key, and resources sharing
// an alias form one allocator pool (spec.md §6).
func (s *Scheduler) AddResources(alias string, resources ...resource.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resources {
		effectiveAlias := alias
		if effectiveAlias == "" {
			effectiveAlias = r.Key()
		}
		s.resourceManager.RegisterResource(effectiveAlias, r)
	}
}

// SetShared publishes a value to every worker's task bodies (spec.md §6
// Scheduler.setShared).
func (s *Scheduler) SetShared(name string, value any) {
	s.shared.Set(name, value)
}

// SetDescription is cosmetic (spec.md §6 Scheduler.setDescription).
func (s *Scheduler) SetDescription(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.description = text
}

// Description returns the scheduler's cosmetic description.
func (s *Scheduler) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.description
}

// SubmitTask enters task into the new-tasks queue and returns a handle that
// resolves to the task's last successful output, or the recorded error on
// exhaustion-with-raise (spec.md §6 Scheduler.submitTask).
func (s *Scheduler) SubmitTask(task *Task) (*Future, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrSchedulerStopped
	}

	s.taskManager.SubmitTask(task)
	s.wake()
	return &Future{taskKey: task.Key, tm: s.taskManager}, nil
}

// ExecuteTasks submits every task and blocks until all of their futures
// resolve, returning outputs in the same order as the inputs (spec.md §6
// Scheduler.executeTasks).
func (s *Scheduler) ExecuteTasks(ctx context.Context, tasks ...*Task) ([]any, error) {
	futures := make([]*Future, len(tasks))
	for i, task := range tasks {
		f, err := s.SubmitTask(task)
		if err != nil {
			return nil, err
		}
		futures[i] = f
	}

	outputs := make([]any, len(tasks))
	for i, f := range futures {
		out, err := f.Wait(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tasks[i].Key, err)
		}
		outputs[i] = out
	}
	return outputs, nil
}

// Start spawns the Master Process and maxWorkers worker goroutines
// (spec.md §6 Scheduler.start). parallelism is accepted for API
// compatibility with spec.md §6 but ParallelismThread is the only model
// implemented.
func (s *Scheduler) Start(maxWorkers int, _ Parallelism) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.pool = newWorkerPool(maxWorkers, s.resourceManager, s.taskManager, s.shared, s.updateEvent, s.log)
	s.master = newMasterProcess(s.resourceManager, s.taskManager, s.pool, s.updateEvent, s.log)

	s.pool.Start()
	go s.master.run()

	s.started = true
	return nil
}

// Join blocks until no tasks remain active, then stops the scheduler
// (spec.md §6 Scheduler.join).
func (s *Scheduler) Join(ctx context.Context) error {
	s.mu.Lock()
	master := s.master
	s.mu.Unlock()
	if master == nil {
		return nil
	}

	if err := master.waitUntilNoActiveTasks(ctx); err != nil {
		return err
	}
	s.Stop()
	return nil
}

// Stop requests a non-blocking, cooperative shutdown (spec.md §6
// Scheduler.stop): in-flight work completes, queued-but-unstarted work is
// abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	master := s.master
	pool := s.pool
	s.mu.Unlock()

	if master != nil {
		master.stop()
		master.waitUntilDone()
	}
	if pool != nil {
		pool.Stop()
	}
}

// Stats is a point-in-time observability snapshot, consumed by pkg/api's
// GET /v1/stats (spec.md §6 supplement - the source exposes no equivalent).
type Stats struct {
	ActiveTasks   int                `json:"active_tasks"`
	WorkerStatus  []types.WorkerStatus `json:"worker_status"`
	ResourceUsage map[string]int     `json:"resource_usage"`
}

// Snapshot returns the scheduler's current observability state.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	usage := make(map[string]int)
	for _, alias := range s.resourceManager.Aliases() {
		if a := s.resourceManager.Allocator(alias); a != nil {
			usage[alias] = a.ReadyUsage()
		}
	}

	var workers []types.WorkerStatus
	if pool != nil {
		workers = pool.Snapshot()
	}

	return Stats{
		ActiveTasks:   s.taskManager.ActiveTasksCount(),
		WorkerStatus:  workers,
		ResourceUsage: usage,
	}
}

// TaskState returns taskKey's current tracked state, or false if unknown
// (spec.md §6 supplement: GET /v1/tasks/{key}).
func (s *Scheduler) TaskState(taskKey string) (types.TaskState, bool) {
	return s.taskManager.TaskState(taskKey)
}

// wake signals the update event without blocking the submitter - set by
// workers on free/done and by submitters on submitTask (spec.md Glossary:
// "Update event").
func (s *Scheduler) wake() {
	select {
	case s.updateEvent <- struct{}{}:
	default:
	}
}

// Future resolves with a submitted task's last successful output (spec.md
// §6 Scheduler.submitTask).
type Future struct {
	taskKey string
	tm      *TaskManager
}

// Wait blocks for the task's completion event up to timeout (0 means
// forever), returning the future's output and any raised error (spec.md §5
// getTaskOutput).
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (any, error) {
	type result struct {
		future *TaskFuture
		ok     bool
	}
	resultCh := make(chan result, 1)

	go func() {
		future, ok := f.tm.GetTaskOutput(f.taskKey, timeout)
		resultCh <- result{future: future, ok: ok}
	}()

	select {
	case r := <-resultCh:
		if !r.ok || r.future == nil {
			return nil, nil
		}
		return r.future.Output, r.future.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
