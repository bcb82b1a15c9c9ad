package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler/resource"
)

// masterProcess drives the single update loop described in spec.md §4.7:
// wait on the update event with a deadline equal to
// min(nextTaskStart, earliestAllocatorUpdate), drain state changes,
// allocate resources, submit to workers. Grounded on engine.go's
// background-loop shape (ticker + context-cancelable goroutine + stats),
// replaced here with an event-driven wait instead of a fixed ticker, since
// spec.md requires coalesced event-driven wake-ups rather than polling.
type masterProcess struct {
	resourceManager *resource.Manager
	taskManager     *TaskManager
	pool            *WorkerPool

	updateEvent chan struct{}

	log *logging.StructuredLogger

	heartbeat bool // guarded by mu
	mu        sync.Mutex

	noActiveTasks chan struct{} // closed and recreated each time activeTasksCount hits 0

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newMasterProcess(rm *resource.Manager, tm *TaskManager, pool *WorkerPool, updateEvent chan struct{}, log *logging.StructuredLogger) *masterProcess {
	ctx, cancel := context.WithCancel(context.Background())
	return &masterProcess{
		resourceManager: rm,
		taskManager:     tm,
		pool:            pool,
		updateEvent:     updateEvent,
		log:             log,
		heartbeat:       true,
		noActiveTasks:   make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// run is the update loop (spec.md §4.7 steps 1-6). It exits once heartbeat
// is cleared by stop(), draining the current tick first (cooperative
// shutdown, spec.md §5).
func (m *masterProcess) run() {
	defer close(m.done)

	for {
		if m.taskManager.ActiveTasksCount() == 0 {
			m.signalNoActiveTasks()
		}

		if !m.alive() {
			return
		}

		m.waitForDeadline()

		if !m.alive() {
			return
		}

		m.tick()
	}
}

func (m *masterProcess) alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeat
}

func (m *masterProcess) signalNoActiveTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.noActiveTasks:
		// already signalled this quiescent period
	default:
		close(m.noActiveTasks)
	}
}

// waitForDeadline blocks until the update event fires or the deadline
// computed from both managers elapses, whichever comes first (spec.md §4.7
// step 2). The update event is drained (step 3) before returning.
func (m *masterProcess) waitForDeadline() {
	deadline := m.resourceManager.GetTimeToUpdate()
	if ttn := m.taskManager.GetTimeToNextTask(time.Now()); ttn != nil && *ttn < deadline {
		deadline = *ttn
	}
	if deadline < 0 {
		deadline = 0
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-m.updateEvent:
	case <-timer.C:
	case <-m.ctx.Done():
	}

	// Drain any additional pending signals so a burst of worker
	// completions coalesces into a single tick (spec.md §2 "must coalesce
	// wake-ups").
	for {
		select {
		case <-m.updateEvent:
			continue
		default:
		}
		break
	}
}

// tick performs one pass of the update loop: advance resource state,
// unblock freed tasks, then dispatch every newly ready task (spec.md §4.7
// steps 4-6).
func (m *masterProcess) tick() {
	updatedAliases := m.resourceManager.Update()

	freed := m.taskManager.Update(m.resourceManager, updatedAliases)
	for task, allocated := range freed {
		m.pool.Submit(task, allocated)
	}

	now := time.Now()
	for {
		task, allocated := m.taskManager.ProcessNextTask(m.resourceManager, now)
		if task == nil {
			break
		}
		m.pool.Submit(task, allocated)
	}
}

// stop clears the heartbeat flag and wakes the loop so it can observe the
// change and exit after draining its current tick (spec.md §4.7).
func (m *masterProcess) stop() {
	m.mu.Lock()
	m.heartbeat = false
	m.mu.Unlock()

	m.cancel()
	select {
	case m.updateEvent <- struct{}{}:
	default:
	}
}

// waitUntilDone blocks until the master loop has exited.
func (m *masterProcess) waitUntilDone() { <-m.done }

// waitUntilNoActiveTasks blocks until activeTasksCount has reached zero at
// least once, or ctx is cancelled.
func (m *masterProcess) waitUntilNoActiveTasks(ctx context.Context) error {
	select {
	case <-m.noActiveTasks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
