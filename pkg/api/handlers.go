package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler"
)

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Snapshot())
}

func (s *Server) getTaskHandler(c *gin.Context) {
	key := c.Param("key")
	state, ok := s.sched.TaskState(key)
	if !ok {
		s.wrapError(c, http.StatusNotFound, errTaskNotFound)
		return
	}
	c.JSON(http.StatusOK, state)
}

// submitTaskRequest is the JSON body accepted by POST /v1/tasks. Task
// bodies cannot cross the wire, so this submits a no-op placeholder task
// that only exercises resource allocation and scheduling timing - real task
// bodies are registered in-process via scheduler.Scheduler.SubmitTask
// (spec.md §6 is the language-neutral programmatic API; this HTTP surface
// is an admin convenience layered on top of it).
type submitTaskRequest struct {
	Name          string         `json:"name"`
	ResourceUsage map[string]int `json:"resource_usage"`
	StartInSec    float64        `json:"start_in_seconds"`
}

func (s *Server) submitTaskHandler(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.wrapError(c, http.StatusBadRequest, err)
		return
	}

	opts := []scheduler.TaskOption{
		scheduler.WithName(req.Name),
		scheduler.WithResourceUsage(req.ResourceUsage),
	}
	if req.StartInSec > 0 {
		opts = append(opts, scheduler.WithStartTime(time.Now().Add(time.Duration(req.StartInSec*float64(time.Second)))))
	}

	task := scheduler.NewTask(func(scheduler.TaskContext) (any, error) {
		return "submitted via admin api", nil
	}, opts...)

	future, err := s.sched.SubmitTask(task)
	if err != nil {
		s.wrapError(c, http.StatusServiceUnavailable, err)
		return
	}
	s.hub.Publish(Event{Type: EventTaskSubmitted, TaskKey: task.Key})

	_ = future
	c.JSON(http.StatusAccepted, gin.H{"task_key": task.Key})
}
