package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is a task body. It receives a TaskContext carrying the concrete
// resources the allocator picked for this run and the scheduler's shared
// namespace, and returns an output or an error. This replaces the source's
// dynamic **kwargs-filtering (spec.md §9): instead of filtering an arbitrary
// keyword dictionary against whatever parameters the callable accepts, the
// worker always passes one explicit, statically typed context.
type TaskFunc func(ctx TaskContext) (any, error)

// TaskContext is the explicit replacement for the source's kwargs-filtering
// (spec.md §9). A task body that wants the allocator's choice of resource,
// or a value published via Scheduler.SetShared, reads it off this struct
// rather than declaring arbitrary keyword parameters.
type TaskContext struct {
	// AllocatedKeys maps each resource alias the task requested to the
	// concrete resource key the allocator picked for this run.
	AllocatedKeys map[string]string

	// Shared is the scheduler-wide read-write bag published via
	// Scheduler.SetShared, visible to every task body. Tasks are
	// responsible for their own synchronization over shared values.
	Shared *SharedNamespace
}

// Task is a callable bundle (spec.md §3/§4.5): a function plus scheduling
// and resource metadata. The source's multi-level Task/Resource mixin
// inheritance is deliberately not reproduced (spec.md §9); Task is a single
// struct holding a function value.
type Task struct {
	Key  string
	Name string

	Fn TaskFunc

	StartTime     time.Time
	ResourceUsage map[string]int // alias -> units

	// Runs is the number of times the task should execute; negative means
	// unbounded repetition.
	Runs int
	// RepeatFreq is added to StartTime after each successful run when the
	// task will repeat.
	RepeatFreq time.Duration

	RetryOnExcept int
	RaiseOnExcept bool

	RunCount   int
	RetryCount int
}

// TaskOption configures a Task at construction time.
type TaskOption func(*Task)

// WithKey overrides the auto-generated task key.
func WithKey(key string) TaskOption { return func(t *Task) { t.Key = key } }

// WithName sets a human-readable task name, used only for logging/state
// display.
func WithName(name string) TaskOption { return func(t *Task) { t.Name = name } }

// WithStartTime schedules the task's first run at a specific time rather
// than immediately.
func WithStartTime(start time.Time) TaskOption { return func(t *Task) { t.StartTime = start } }

// WithResourceUsage declares the alias->units the task requires before it
// can run.
func WithResourceUsage(usage map[string]int) TaskOption {
	return func(t *Task) { t.ResourceUsage = usage }
}

// WithRuns sets the number of times the task executes; negative means
// unbounded.
func WithRuns(runs int) TaskOption { return func(t *Task) { t.Runs = runs } }

// WithRepeatFreq sets the interval added to StartTime between repeated runs.
func WithRepeatFreq(d time.Duration) TaskOption { return func(t *Task) { t.RepeatFreq = d } }

// WithRetryOnExcept sets how many additional attempts are made after the
// body raises, before the task transitions to EXCEPTION.
func WithRetryOnExcept(n int) TaskOption { return func(t *Task) { t.RetryOnExcept = n } }

// WithRaiseOnExcept controls whether an exhausted retry budget's error is
// recorded on the task's future (true, default) or swallowed (false).
func WithRaiseOnExcept(raise bool) TaskOption { return func(t *Task) { t.RaiseOnExcept = raise } }

// NewTask constructs a Task per spec.md §6: `Task(fn, args..., key?,
// startTime?, resourceUsage?, runs=1, repeatFreq=0, retryOnExcept=0,
// raiseOnExcept=true)`. A nil startTime defaults to now.
func NewTask(fn TaskFunc, opts ...TaskOption) *Task {
	t := &Task{
		Key:           uuid.NewString(),
		Fn:            fn,
		StartTime:     time.Now(),
		ResourceUsage: make(map[string]int),
		Runs:          1,
		RaiseOnExcept: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ResourceUsage == nil {
		t.ResourceUsage = make(map[string]int)
	}
	return t
}

// willRepeat reports whether the task should be resubmitted after the
// current run completes successfully (spec.md §4.5).
func (t *Task) willRepeat() bool {
	return t.Runs < 0 || t.RunCount < t.Runs
}

// SharedNamespace is an opaque read-write bag shared across worker task
// bodies (spec.md §4.5/§6's Scheduler.setShared). It is safe for concurrent
// use by multiple task goroutines.
type SharedNamespace struct {
	mu     sync.RWMutex
	values map[string]any
}

func newSharedNamespace() *SharedNamespace {
	return &SharedNamespace{values: make(map[string]any)}
}

// Set publishes name->value, visible to every subsequently or currently
// executing task body.
func (s *SharedNamespace) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Get reads a previously published value.
func (s *SharedNamespace) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}
