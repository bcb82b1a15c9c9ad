package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
)

func newTestPool(t *testing.T) (*WorkerPool, *resource.Manager, *TaskManager) {
	t.Helper()
	rm := resource.NewManager()
	tm := NewTaskManager()
	shared := newSharedNamespace()
	pool := newWorkerPool(2, rm, tm, shared, make(chan struct{}, 1), nil)
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool, rm, tm
}

// TestWorkerPool_SuccessfulRunResolvesFuture covers spec.md §8 invariant 7:
// a task runs at most once per dispatch and its output reaches the future.
func TestWorkerPool_SuccessfulRunResolvesFuture(t *testing.T) {
	pool, _, tm := newTestPool(t)

	task := NewTask(func(TaskContext) (any, error) { return "done", nil })
	tm.SubmitTask(task)
	pool.Submit(task, nil)

	future, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)
	assert.Equal(t, "done", future.Output)
	assert.NoError(t, future.Err)
	assert.Equal(t, 1, task.RunCount)
}

// TestWorkerPool_RetryOnExcept_SucceedsWithinBudget covers spec.md §4.5/§7
// and scenario S4: a body that fails twice then succeeds, with
// retryOnExcept=2 and raiseOnExcept=false, resolves successfully and the
// future carries no error.
func TestWorkerPool_RetryOnExcept_SucceedsWithinBudget(t *testing.T) {
	pool, _, tm := newTestPool(t)

	attempts := 0
	task := NewTask(func(TaskContext) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return 42, nil
	}, WithRetryOnExcept(2), WithRaiseOnExcept(false))

	tm.SubmitTask(task)
	pool.Submit(task, nil)

	future, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)
	assert.Equal(t, 42, future.Output)
	assert.NoError(t, future.Err)
	assert.Equal(t, 1, task.RunCount)
	assert.Equal(t, 3, attempts)
}

// TestWorkerPool_RetryExhausted_RaisesWhenConfigured covers spec.md §7: once
// the retry budget is exhausted, RaiseOnExcept=true surfaces the error on
// the future.
func TestWorkerPool_RetryExhausted_RaisesWhenConfigured(t *testing.T) {
	pool, _, tm := newTestPool(t)

	task := NewTask(func(TaskContext) (any, error) {
		return nil, errors.New("permanent")
	}, WithRetryOnExcept(1), WithRaiseOnExcept(true))

	tm.SubmitTask(task)
	pool.Submit(task, nil)

	future, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)
	assert.Error(t, future.Err)

	state, ok := tm.TaskState(task.Key)
	require.True(t, ok)
	assert.Equal(t, 0, task.RunCount)
	_ = state
}

// TestWorkerPool_RetryExhausted_SwallowedWhenNotRaising covers spec.md §7:
// RaiseOnExcept=false swallows the final error from the future even though
// the task still transitioned to EXCEPTION internally.
func TestWorkerPool_RetryExhausted_SwallowedWhenNotRaising(t *testing.T) {
	pool, _, tm := newTestPool(t)

	task := NewTask(func(TaskContext) (any, error) {
		return nil, errors.New("permanent")
	}, WithRetryOnExcept(0), WithRaiseOnExcept(false))

	tm.SubmitTask(task)
	pool.Submit(task, nil)

	future, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)
	assert.NoError(t, future.Err)
	assert.Nil(t, future.Output)
}

// TestWorkerPool_PanicRecovered covers spec.md §7: a panicking task body is
// recovered into an error rather than crashing the worker.
func TestWorkerPool_PanicRecovered(t *testing.T) {
	pool, _, tm := newTestPool(t)

	task := NewTask(func(TaskContext) (any, error) {
		panic("boom")
	}, WithRaiseOnExcept(true))

	tm.SubmitTask(task)
	pool.Submit(task, nil)

	future, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)
	assert.Error(t, future.Err)
}

// TestWorkerPool_FreesResourcesOnCompletion covers spec.md §8 invariant 1
// (capacity bound) from the worker's side: resources allocated to a task
// are released exactly once, after the run completes.
func TestWorkerPool_FreesResourcesOnCompletion(t *testing.T) {
	pool, rm, tm := newTestPool(t)
	cpu := resource.NewSimpleResource(1, "cpu1")
	rm.RegisterResource("cpu", cpu)
	rm.RegisterRequest("t1", map[string]int{"cpu": 1})
	rm.Update()
	allocated := rm.GetAllocatedResources("t1", map[string]int{"cpu": 1})
	require.NotNil(t, allocated)
	require.NoError(t, rm.UseResources("t1", allocated))

	task := NewTask(func(TaskContext) (any, error) { return nil, nil },
		WithKey("t1"), WithResourceUsage(map[string]int{"cpu": 1}))
	tm.SubmitTask(task)
	pool.Submit(task, allocated)

	_, ok := tm.GetTaskOutput(task.Key, 0)
	require.True(t, ok)

	a := rm.Allocator("cpu")
	require.NotNil(t, a)
	assert.Equal(t, 0, a.ReadyUsage())
	assert.Equal(t, 0, cpu.Usage())
}
