// Package types holds the scheduler's shared value types: task lifecycle
// states and worker states.
package types

import "time"

// TaskStatus names the phase a Task occupies in its lifecycle (spec.md §3).
// Lifecycle invariant: at most one TaskState record exists per task key at
// any time. The TaskManager records NEW -> RUNNING|BLOCKED;
// RUNNING -> DONE|EXCEPTION; DONE -> NEW (if repeats remain);
// BLOCKED -> RUNNING (on resource release). A task is marked RUNNING as soon
// as its resources are allocated and it is handed to the worker pool, so
// TaskWaiting is defined but never recorded.
type TaskStatus string

const (
	TaskNew       TaskStatus = "new"
	TaskWaiting   TaskStatus = "waiting"
	TaskRunning   TaskStatus = "running"
	TaskBlocked   TaskStatus = "blocked"
	TaskDone      TaskStatus = "done"
	TaskException TaskStatus = "exception"
)

func (s TaskStatus) String() string { return string(s) }

// WorkerStatus names the phase a worker goroutine occupies.
type WorkerStatus string

const (
	WorkerIdle WorkerStatus = "idle"
	WorkerBusy WorkerStatus = "busy"
	WorkerDead WorkerStatus = "dead"
)

func (s WorkerStatus) String() string { return string(s) }

// TaskState is the tagged-variant record the TaskManager stores per task
// key (spec.md §3). Only the fields relevant to Status are meaningful at
// any given time; this mirrors the source's per-state record without
// resorting to Go's lack of sum types via an explicit discriminant.
type TaskState struct {
	TaskKey         string            `json:"task_key"`
	TaskName        string            `json:"task_name"`
	Status          TaskStatus        `json:"status"`
	RunCount        int               `json:"run_count"`
	Timestamp       time.Time         `json:"timestamp"`
	AllocatedKeys   map[string]string `json:"allocated_keys,omitempty"`   // set when Status is Waiting or Running
	ResourceAliases []string          `json:"resource_aliases,omitempty"` // set when Status is Blocked
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// TaskManager's lock.
func (s TaskState) Clone() TaskState {
	clone := s
	if s.AllocatedKeys != nil {
		clone.AllocatedKeys = make(map[string]string, len(s.AllocatedKeys))
		for k, v := range s.AllocatedKeys {
			clone.AllocatedKeys[k] = v
		}
	}
	if s.ResourceAliases != nil {
		clone.ResourceAliases = append([]string(nil), s.ResourceAliases...)
	}
	return clone
}
