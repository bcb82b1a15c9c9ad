package scheduler

import (
	"container/heap"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/types"
)

// ErrUnsatisfiableRequest flags a task whose resource request exceeds every
// registered resource's total capacity on at least one alias - it will
// remain blocked forever until more capacity is registered (spec.md §7).
var ErrUnsatisfiableRequest = errors.New("task_manager: resource request can never be satisfied")

// TaskFuture holds the terminal outcome of a task's most recent run.
type TaskFuture struct {
	Output any
	Err    error
}

// taskQueueItem is one entry of the new-tasks min-heap, ordered by
// (startTime, insertionSeq) so ties break FIFO (spec.md §9: "this spec
// mandates FIFO on startTime ties", resolving the source's inconsistent
// Task.__lt__ across versions). Kept entirely in the TaskManager's private
// memory - per spec.md §9, a clean implementation does not reproduce the
// source's heapq-over-a-remote-list-proxy workaround.
type taskQueueItem struct {
	task *Task
	seq  int64
}

type taskHeap []*taskQueueItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if !h[i].task.StartTime.Equal(h[j].task.StartTime) {
		return h[i].task.StartTime.Before(h[j].task.StartTime)
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*taskQueueItem)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TaskManager owns the task-state table, the time-ordered ready queue, and
// the blocked-task bookkeeping (spec.md §4.6). Grounded on
// original_source/task_scheduler/task/task_manager.py, with the ListProxy
// heapq workaround replaced by a private container/heap and the
// SyncManager-proxy fields replaced by ordinary mutex-guarded maps
// (spec.md §9).
type TaskManager struct {
	mu sync.Mutex

	newTasks   taskHeap
	seqCounter int64

	taskStates map[string]types.TaskState

	blockedTasks        map[string]*Task
	resourceConstraints map[string]map[string]struct{}

	endOfTaskEvents map[string]chan struct{}
	taskFutures     map[string]*TaskFuture

	// activeTasksCount counts only user-visible tasks; internal/invisible
	// bookkeeping tasks never increment it (spec.md §9 resolves this
	// ambiguity explicitly so join() returns when only upkeep remains).
	activeTasksCount int

	log *logging.StructuredLogger
}

// NewTaskManager constructs an empty TaskManager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		taskStates:          make(map[string]types.TaskState),
		blockedTasks:        make(map[string]*Task),
		resourceConstraints: make(map[string]map[string]struct{}),
		endOfTaskEvents:     make(map[string]chan struct{}),
		taskFutures:         make(map[string]*TaskFuture),
	}
}

// SetLogger attaches a logger used to report allocation-impossible requests
// (spec.md §7). Optional - a nil logger silently skips this reporting.
func (tm *TaskManager) SetLogger(log *logging.StructuredLogger) {
	tm.log = log
}

// SubmitTask pushes task onto the new-tasks heap, records NEW state,
// increments activeTasksCount, and creates the task's completion event and
// future (spec.md §4.6 submitTask).
func (tm *TaskManager) SubmitTask(task *Task) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.submitLocked(task)
}

func (tm *TaskManager) submitLocked(task *Task) {
	if _, exists := tm.taskStates[task.Key]; !exists {
		tm.activeTasksCount++
	}
	tm.taskStates[task.Key] = types.TaskState{
		TaskKey:   task.Key,
		TaskName:  task.Name,
		Status:    types.TaskNew,
		RunCount:  task.RunCount,
		Timestamp: task.StartTime,
	}
	if _, ok := tm.endOfTaskEvents[task.Key]; !ok {
		tm.endOfTaskEvents[task.Key] = make(chan struct{})
		tm.taskFutures[task.Key] = nil
	}

	tm.seqCounter++
	heap.Push(&tm.newTasks, &taskQueueItem{task: task, seq: tm.seqCounter})
}

func (tm *TaskManager) blockLocked(task *Task, constraints map[string]struct{}) {
	tm.blockedTasks[task.Key] = task
	tm.resourceConstraints[task.Key] = constraints

	if tm.log != nil {
		for alias := range constraints {
			tm.log.Component("task_manager").Warn("task blocked on resource alias",
				slog.String("task_key", task.Key), slog.String("alias", alias))
		}
	}

	state := tm.taskStates[task.Key]
	state.Status = types.TaskBlocked
	aliases := make([]string, 0, len(constraints))
	for alias := range constraints {
		aliases = append(aliases, alias)
	}
	state.ResourceAliases = aliases
	tm.taskStates[task.Key] = state
}

// ProcessNextTask attempts to allocate resources for the next due task and
// returns it along with its allocation, dispatching it (NEW -> WAITING ->
// RUNNING) in one step since the caller submits it to the worker pool
// immediately. Returns (nil, nil) if the heap is empty or the head task's
// StartTime has not yet arrived. Blocks any task whose request cannot be
// satisfied and recurses to try the next (spec.md §4.6 processNextTask).
func (tm *TaskManager) ProcessNextTask(rm *resource.Manager, now time.Time) (*Task, map[string]string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.processNextTaskLocked(rm, now)
}

func (tm *TaskManager) processNextTaskLocked(rm *resource.Manager, now time.Time) (*Task, map[string]string) {
	if tm.newTasks.Len() == 0 || tm.newTasks[0].task.StartTime.After(now) {
		return nil, nil
	}

	item := heap.Pop(&tm.newTasks).(*taskQueueItem)
	task := item.task

	allocated, constraints := rm.UseOrQueueResources(task.Key, task.ResourceUsage)
	if constraints != nil {
		tm.blockLocked(task, constraints)
		if tm.log != nil {
			if bad := rm.UnsatisfiableAliases(task.ResourceUsage); len(bad) > 0 {
				tm.log.Component("task_manager").Error("task request can never be satisfied",
					ErrUnsatisfiableRequest, slog.String("task_key", task.Key), slog.Any("aliases", bad))
			}
		}
		return tm.processNextTaskLocked(rm, now)
	}

	tm.useResourcesLocked(rm, task.Key, allocated)

	state := tm.taskStates[task.Key]
	state.Status = types.TaskRunning
	state.AllocatedKeys = allocated
	tm.taskStates[task.Key] = state

	return task, allocated
}

// useResourcesLocked performs the ready -> in-use transition (spec.md §4.3):
// it clears the allocator's ready-queue bookkeeping for taskKey and charges
// the underlying Resource.Use, which is what actually enforces the
// capacity/rate-limit bounds (§8.1/§8.2). A task must never be dispatched to
// the worker pool without this call, or its eventual FreeResources will find
// usage never incremented.
func (tm *TaskManager) useResourcesLocked(rm *resource.Manager, taskKey string, allocated map[string]string) {
	if err := rm.UseResources(taskKey, allocated); err != nil && tm.log != nil {
		tm.log.Component("task_manager").Error("ready-to-in-use transition failed unexpectedly",
			err, slog.String("task_key", taskKey))
	}
}

// Update re-evaluates every blocked task whose resource constraints
// intersect updatedAliases, unblocking those whose allocation now succeeds.
// Returns the set of tasks freed this tick, mapped to their allocation
// (spec.md §4.6 update).
func (tm *TaskManager) Update(rm *resource.Manager, updatedAliases map[string]struct{}) map[*Task]map[string]string {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	freed := make(map[*Task]map[string]string)

	for taskKey, constraints := range tm.resourceConstraints {
		if disjoint(constraints, updatedAliases) {
			continue
		}

		task := tm.blockedTasks[taskKey]
		allocated, remaining := rm.UseFromQueuedResources(taskKey, task.ResourceUsage, constraints)
		if len(remaining) > 0 {
			tm.resourceConstraints[taskKey] = remaining
			continue
		}

		delete(tm.blockedTasks, taskKey)
		freed[task] = allocated
		tm.useResourcesLocked(rm, taskKey, allocated)

		state := tm.taskStates[taskKey]
		state.Status = types.TaskRunning
		state.AllocatedKeys = allocated
		state.ResourceAliases = nil
		tm.taskStates[taskKey] = state
	}

	for task := range freed {
		delete(tm.resourceConstraints, task.Key)
	}

	return freed
}

func disjoint(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return false
		}
	}
	return true
}

// UpdateEndOfTask records output/err on the task's future after every run.
// Only on the task's final run (willRepeat false) does it signal the
// completion event and decrement activeTasksCount, so a repeating task's
// future resolves with its last run's output (spec.md §4.6 updateEndOfTask /
// §8.6 idempotent completion: callers must invoke this exactly once per
// (task, run)). failed marks the task's
// status as EXCEPTION regardless of whether err is nil - spec.md §7
// distinguishes "the retry budget was exhausted" (failed) from "the error
// is surfaced to the future" (err != nil, gated by Task.RaiseOnExcept).
func (tm *TaskManager) UpdateEndOfTask(task *Task, output any, err error, failed, willRepeat bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if ev, ok := tm.endOfTaskEvents[task.Key]; ok {
		tm.taskFutures[task.Key] = &TaskFuture{Output: output, Err: err}
		if !willRepeat {
			select {
			case <-ev:
				// already closed (should not happen under the at-most-once
				// invariant); avoid a double-close panic defensively.
			default:
				close(ev)
			}
		}
	}

	status := types.TaskDone
	if failed {
		status = types.TaskException
	}
	state := tm.taskStates[task.Key]
	state.Status = status
	state.RunCount = task.RunCount
	tm.taskStates[task.Key] = state

	if !willRepeat {
		tm.activeTasksCount--
	}
}

// GetTimeToNextTask returns the duration until the new-tasks heap's head is
// due, or nil if the heap is empty.
func (tm *TaskManager) GetTimeToNextTask(now time.Time) *time.Duration {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.newTasks.Len() == 0 {
		return nil
	}
	d := tm.newTasks[0].task.StartTime.Sub(now)
	return &d
}

// GetTaskOutput blocks on taskKey's completion event up to timeout (zero
// means wait forever) and returns its future. Returns (nil, false) if the
// task key is unknown.
func (tm *TaskManager) GetTaskOutput(taskKey string, timeout time.Duration) (*TaskFuture, bool) {
	tm.mu.Lock()
	ev, ok := tm.endOfTaskEvents[taskKey]
	tm.mu.Unlock()
	if !ok {
		return nil, false
	}

	if timeout > 0 {
		select {
		case <-ev:
		case <-time.After(timeout):
		}
	} else {
		<-ev
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.taskFutures[taskKey], true
}

// ActiveTasksCount returns the number of non-terminal, user-visible tasks.
func (tm *TaskManager) ActiveTasksCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.activeTasksCount
}

// TaskState returns a snapshot of taskKey's current state, or false if
// unknown.
func (tm *TaskManager) TaskState(taskKey string) (types.TaskState, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	s, ok := tm.taskStates[taskKey]
	if !ok {
		return types.TaskState{}, false
	}
	return s.Clone(), true
}

// Snapshot returns a copy of every tracked task state, for observability.
func (tm *TaskManager) Snapshot() []types.TaskState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	states := make([]types.TaskState, 0, len(tm.taskStates))
	for _, s := range tm.taskStates {
		states = append(states, s.Clone())
	}
	return states
}
