package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/types"
)

func noopFn(TaskContext) (any, error) { return nil, nil }

func TestTaskManager_SubmitIncrementsActiveTasksCount(t *testing.T) {
	tm := NewTaskManager()
	task := NewTask(noopFn)

	tm.SubmitTask(task)
	assert.Equal(t, 1, tm.ActiveTasksCount())

	state, ok := tm.TaskState(task.Key)
	require.True(t, ok)
	assert.Equal(t, types.TaskNew, state.Status)
}

// TestTaskManager_ProcessNextTask_RespectsStartTime covers spec.md §8: a
// task due in the future is never dispatched early.
func TestTaskManager_ProcessNextTask_RespectsStartTime(t *testing.T) {
	tm := NewTaskManager()
	rm := resource.NewManager()
	rm.RegisterResource("cpu", resource.NewSimpleResource(1, "cpu1"))

	future := NewTask(noopFn, WithStartTime(time.Now().Add(time.Hour)))
	tm.SubmitTask(future)

	task, allocated := tm.ProcessNextTask(rm, time.Now())
	assert.Nil(t, task)
	assert.Nil(t, allocated)
}

// TestTaskManager_ProcessNextTask_FIFOOnEqualStartTime covers spec.md §9's
// explicit FIFO tie-break: two tasks sharing a StartTime are dispatched in
// submission order.
func TestTaskManager_ProcessNextTask_FIFOOnEqualStartTime(t *testing.T) {
	tm := NewTaskManager()
	rm := resource.NewManager()
	rm.RegisterResource("cpu", resource.NewSimpleResource(5, "cpu1"))

	now := time.Now()
	first := NewTask(noopFn, WithKey("first"), WithStartTime(now))
	second := NewTask(noopFn, WithKey("second"), WithStartTime(now))

	tm.SubmitTask(first)
	tm.SubmitTask(second)

	task1, _ := tm.ProcessNextTask(rm, now)
	require.NotNil(t, task1)
	assert.Equal(t, "first", task1.Key)

	task2, _ := tm.ProcessNextTask(rm, now)
	require.NotNil(t, task2)
	assert.Equal(t, "second", task2.Key)
}

// TestTaskManager_BlocksThenUnblocksOnFree covers spec.md §8 invariant 4 and
// scenario S6: a task whose resource request cannot be satisfied
// immediately blocks, then is freed once capacity frees up.
func TestTaskManager_BlocksThenUnblocksOnFree(t *testing.T) {
	tm := NewTaskManager()
	rm := resource.NewManager()
	rm.RegisterResource("gpu", resource.NewSimpleResource(1, "gpu1"))

	holder := NewTask(noopFn, WithKey("holder"), WithResourceUsage(map[string]int{"gpu": 1}))
	waiter := NewTask(noopFn, WithKey("waiter"), WithResourceUsage(map[string]int{"gpu": 1}))

	tm.SubmitTask(holder)
	tm.SubmitTask(waiter)

	now := time.Now()
	task1, allocated1 := tm.ProcessNextTask(rm, now)
	require.NotNil(t, task1)
	assert.Equal(t, "holder", task1.Key)

	task2, allocated2 := tm.ProcessNextTask(rm, now)
	assert.Nil(t, task2)
	assert.Nil(t, allocated2)

	state, ok := tm.TaskState("waiter")
	require.True(t, ok)
	assert.Equal(t, types.TaskBlocked, state.Status)

	require.NoError(t, rm.FreeResources(holder.ResourceUsage, allocated1))
	updated := rm.Update()
	freed := tm.Update(rm, updated)

	require.Len(t, freed, 1)
	for freedTask, alloc := range freed {
		assert.Equal(t, "waiter", freedTask.Key)
		assert.Equal(t, "gpu1", alloc["gpu"])
	}
}

// TestTaskManager_UpdateEndOfTask_IdempotentCompletion covers spec.md §8
// invariant 6: completion bookkeeping may be observed exactly once per run
// without a double-close panic, and decrements activeTasksCount only when
// the task will not repeat.
func TestTaskManager_UpdateEndOfTask_IdempotentCompletion(t *testing.T) {
	tm := NewTaskManager()
	task := NewTask(noopFn)
	tm.SubmitTask(task)

	tm.UpdateEndOfTask(task, "ok", nil, false, false)
	assert.Equal(t, 0, tm.ActiveTasksCount())

	future, ok := tm.GetTaskOutput(task.Key, time.Second)
	require.True(t, ok)
	require.NotNil(t, future)
	assert.Equal(t, "ok", future.Output)
	assert.NoError(t, future.Err)

	state, ok := tm.TaskState(task.Key)
	require.True(t, ok)
	assert.Equal(t, types.TaskDone, state.Status)
}

func TestTaskManager_UpdateEndOfTask_RepeatingTaskStaysActive(t *testing.T) {
	tm := NewTaskManager()
	task := NewTask(noopFn, WithRuns(2))
	tm.SubmitTask(task)

	tm.UpdateEndOfTask(task, "ok", nil, false, true)
	assert.Equal(t, 1, tm.ActiveTasksCount())
}

func TestTaskManager_GetTimeToNextTask_NilWhenEmpty(t *testing.T) {
	tm := NewTaskManager()
	assert.Nil(t, tm.GetTimeToNextTask(time.Now()))
}
