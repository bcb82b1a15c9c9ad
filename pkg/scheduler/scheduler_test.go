package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
)

// TestScheduler_BasicSubmitAndWait covers scenario S1: a single task
// submitted to a running scheduler resolves with its own output.
func TestScheduler_BasicSubmitAndWait(t *testing.T) {
	sched := New(nil)
	require.NoError(t, sched.Start(2, ParallelismThread))
	defer sched.Stop()

	future, err := sched.SubmitTask(NewTask(func(TaskContext) (any, error) { return "hello", nil }))
	require.NoError(t, err)

	out, err := future.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

// TestScheduler_CapacityMutualExclusion covers scenario S2: two tasks
// contending for a single-unit resource never execute concurrently.
func TestScheduler_CapacityMutualExclusion(t *testing.T) {
	sched := New(nil)
	sched.AddResources("gpu", resource.NewSimpleResource(1, "gpu1"))
	require.NoError(t, sched.Start(2, ParallelismThread))
	defer sched.Stop()

	var running int32
	var sawOverlap atomic.Bool
	body := func(TaskContext) (any, error) {
		if atomic.AddInt32(&running, 1) > 1 {
			sawOverlap.Store(true)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}

	f1, err := sched.SubmitTask(NewTask(body, WithResourceUsage(map[string]int{"gpu": 1})))
	require.NoError(t, err)
	f2, err := sched.SubmitTask(NewTask(body, WithResourceUsage(map[string]int{"gpu": 1})))
	require.NoError(t, err)

	_, err = f1.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	_, err = f2.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)

	assert.False(t, sawOverlap.Load())
}

// TestScheduler_RateLimitThrottlesBurst covers scenario S3: a rate-limited
// resource admits only its window capacity at once, forcing a third request
// to wait for the window to elapse.
func TestScheduler_RateLimitThrottlesBurst(t *testing.T) {
	sched := New(nil)
	limiter := resource.NewRateLimitChain([]resource.WindowCapacity{
		{Window: 50 * time.Millisecond, Capacity: 2},
	}, "api-calls")
	sched.AddResources("api", limiter)
	require.NoError(t, sched.Start(3, ParallelismThread))
	defer sched.Stop()

	body := func(TaskContext) (any, error) { return time.Now(), nil }

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := sched.SubmitTask(NewTask(body, WithResourceUsage(map[string]int{"api": 1})))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	var times []time.Time
	for _, f := range futures {
		out, err := f.Wait(context.Background(), 2*time.Second)
		require.NoError(t, err)
		times = append(times, out.(time.Time))
	}

	// The third admission could not have started until the window freed up
	// behind the first two.
	assert.WithinDuration(t, times[0], times[1], 40*time.Millisecond)
	assert.True(t, times[2].Sub(times[0]) >= 30*time.Millisecond)
}

// TestScheduler_RepeatingTaskRunsAndStops covers scenario S5: a task with a
// bounded Runs count repeats on its RepeatFreq cadence and then stops.
func TestScheduler_RepeatingTaskRunsAndStops(t *testing.T) {
	sched := New(nil)
	require.NoError(t, sched.Start(1, ParallelismThread))
	defer sched.Stop()

	var count int32
	var mu sync.Mutex
	var runTimes []time.Time

	task := NewTask(func(TaskContext) (any, error) {
		mu.Lock()
		runTimes = append(runTimes, time.Now())
		mu.Unlock()
		atomic.AddInt32(&count, 1)
		return nil, nil
	}, WithRuns(3), WithRepeatFreq(10*time.Millisecond))

	_, err := sched.SubmitTask(task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 3
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&count), "task must stop repeating once Runs is exhausted")
}

// TestScheduler_JoinReturnsOnceQuiescent covers spec.md §6 Scheduler.join:
// Join blocks until activeTasksCount reaches zero, then stops the
// scheduler.
func TestScheduler_JoinReturnsOnceQuiescent(t *testing.T) {
	sched := New(nil)
	require.NoError(t, sched.Start(1, ParallelismThread))

	_, err := sched.SubmitTask(NewTask(func(TaskContext) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sched.Join(ctx))

	_, err = sched.SubmitTask(NewTask(func(TaskContext) (any, error) { return nil, nil }))
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

// TestScheduler_StartTwiceFails covers spec.md §7: Start is not idempotent.
func TestScheduler_StartTwiceFails(t *testing.T) {
	sched := New(nil)
	require.NoError(t, sched.Start(1, ParallelismThread))
	defer sched.Stop()

	assert.ErrorIs(t, sched.Start(1, ParallelismThread), ErrAlreadyStarted)
}

// TestScheduler_ExecuteTasksPreservesOrder covers spec.md §6
// Scheduler.executeTasks: outputs come back in input order regardless of
// completion order.
func TestScheduler_ExecuteTasksPreservesOrder(t *testing.T) {
	sched := New(nil)
	require.NoError(t, sched.Start(4, ParallelismThread))
	defer sched.Stop()

	slow := NewTask(func(TaskContext) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow", nil
	})
	fast := NewTask(func(TaskContext) (any, error) { return "fast", nil })

	outputs, err := sched.ExecuteTasks(context.Background(), slow, fast)
	require.NoError(t, err)
	assert.Equal(t, []any{"slow", "fast"}, outputs)
}

// TestScheduler_SharedNamespaceVisibleToTasks covers spec.md §6
// Scheduler.setShared.
func TestScheduler_SharedNamespaceVisibleToTasks(t *testing.T) {
	sched := New(nil)
	sched.SetShared("greeting", "hi")
	require.NoError(t, sched.Start(1, ParallelismThread))
	defer sched.Stop()

	future, err := sched.SubmitTask(NewTask(func(ctx TaskContext) (any, error) {
		v, ok := ctx.Shared.Get("greeting")
		if !ok {
			return nil, nil
		}
		return v, nil
	}))
	require.NoError(t, err)

	out, err := future.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}
