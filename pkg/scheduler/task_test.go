package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask(func(TaskContext) (any, error) { return nil, nil })

	assert.NotEmpty(t, task.Key)
	assert.Equal(t, 1, task.Runs)
	assert.True(t, task.RaiseOnExcept)
	assert.NotNil(t, task.ResourceUsage)
	assert.WithinDuration(t, time.Now(), task.StartTime, time.Second)
}

func TestNewTask_OptionsOverrideDefaults(t *testing.T) {
	start := time.Now().Add(time.Hour)
	task := NewTask(func(TaskContext) (any, error) { return nil, nil },
		WithKey("custom"),
		WithName("my task"),
		WithStartTime(start),
		WithResourceUsage(map[string]int{"gpu": 1}),
		WithRuns(3),
		WithRepeatFreq(time.Minute),
		WithRetryOnExcept(2),
		WithRaiseOnExcept(false),
	)

	assert.Equal(t, "custom", task.Key)
	assert.Equal(t, "my task", task.Name)
	assert.Equal(t, start, task.StartTime)
	assert.Equal(t, map[string]int{"gpu": 1}, task.ResourceUsage)
	assert.Equal(t, 3, task.Runs)
	assert.Equal(t, time.Minute, task.RepeatFreq)
	assert.Equal(t, 2, task.RetryOnExcept)
	assert.False(t, task.RaiseOnExcept)
}

// TestTask_WillRepeat covers spec.md §8 invariant 8: a task with a positive
// Runs count stops repeating once RunCount reaches it, and a negative Runs
// count never stops on its own.
func TestTask_WillRepeat(t *testing.T) {
	bounded := NewTask(func(TaskContext) (any, error) { return nil, nil }, WithRuns(2))
	assert.True(t, bounded.willRepeat())
	bounded.RunCount = 2
	assert.False(t, bounded.willRepeat())

	unbounded := NewTask(func(TaskContext) (any, error) { return nil, nil }, WithRuns(-1))
	unbounded.RunCount = 1000
	assert.True(t, unbounded.willRepeat())
}

func TestSharedNamespace_SetGet(t *testing.T) {
	shared := newSharedNamespace()

	_, ok := shared.Get("missing")
	assert.False(t, ok)

	shared.Set("key", 42)
	v, ok := shared.Get("key")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}
