// Package api implements the optional admin/observability HTTP+WebSocket
// surface that supplements spec.md §6's language-neutral Scheduler API: a
// read-only stats/task surface plus an authenticated task-submission
// endpoint, grounded on pkg/api/server.go's gin.Engine + JWT + CORS shape.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khryptorgraphics/taskscheduler/internal/config"
	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler"
)

// Server is the admin/observability HTTP server. It never participates in
// scheduling decisions - it only reads Scheduler state and submits tasks on
// the caller's behalf, exactly as any other Scheduler.submitTask caller
// would (spec.md §6).
type Server struct {
	sched *scheduler.Scheduler
	log   *logging.StructuredLogger
	hub   *eventHub

	jwtSecret         string
	adminUser         string
	adminPasswordHash string
	corsOrigins       []string
	submissionRate    time.Duration
	submissionBurst   int

	metricsEnabled bool
	metricsPath    string

	httpServer *http.Server
	stopHub    chan struct{}
}

// NewServer builds an admin API bound to sched. cfg supplies the listen
// address, JWT secret, CORS allow-list, and submission throttle (internal/
// config.APIConfig / SchedulerConfig); mc enables the optional Prometheus
// route.
func NewServer(sched *scheduler.Scheduler, cfg config.APIConfig, sc config.SchedulerConfig, mc config.MetricsConfig, log *logging.StructuredLogger) *Server {
	return &Server{
		sched:             sched,
		log:               log,
		hub:               newEventHub(log),
		jwtSecret:         cfg.JWTSecret,
		adminUser:         cfg.AdminUser,
		adminPasswordHash: cfg.AdminPasswordHash,
		corsOrigins:       cfg.CORSOrigins,
		submissionRate:    sc.SubmissionRate,
		submissionBurst:   sc.SubmissionBurst,
		metricsEnabled:    mc.Enabled,
		metricsPath:       mc.Path,
		stopHub:           make(chan struct{}),
	}
}

// Start runs the HTTP server until the process is asked to stop; it returns
// http.ErrServerClosed on a clean Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.run(s.stopHub)

	router := s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.log != nil {
		s.log.Component("api").Info("starting admin api")
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully drains in-flight HTTP requests and closes every
// WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopHub)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())
	router.Use(s.corsMiddleware())
	router.Use(s.securityMiddleware())

	router.GET("/health", s.healthHandler)
	if s.metricsEnabled {
		router.GET(s.metricsPath, s.metricsGinHandler())
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/login", s.loginHandler)
		v1.GET("/stats", s.statsHandler)
		v1.GET("/tasks/:key", s.getTaskHandler)

		submit := v1.Group("/tasks")
		submit.Use(s.jwtAuthMiddleware(), s.submissionRateLimitMiddleware())
		submit.POST("", s.submitTaskHandler)

		v1.GET("/ws/events", func(c *gin.Context) { s.hub.serveWS(c) })
	}

	return router
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) wrapError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

var errTaskNotFound = fmt.Errorf("task not found")
