package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// LoggerConfig configures the structured logger. Trimmed to the knobs this
// single-process, stdout-only scheduler actually exercises: file rotation,
// sampling, and trace/request-context propagation (all present in the
// teacher's distributed, multi-node service) have no caller here, since
// there is no log file destination, no log-volume problem at this scale,
// and no distributed tracing system to propagate span/request IDs from
// (see DESIGN.md).
type LoggerConfig struct {
	// Basic configuration
	Level  LogLevel
	Format LogFormat
	Output io.Writer

	// Structured logging
	EnableStructured bool
	EnableCaller     bool

	// Performance
	BufferSize    int
	FlushInterval time.Duration

	// Context
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// LogFormat represents the log output format
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// StructuredLogger provides structured logging capabilities
type StructuredLogger struct {
	config *LoggerConfig
	logger *slog.Logger

	// Buffering
	buffer *LogBuffer

	// Metrics
	metrics *LogMetrics

	// Context
	baseAttrs []slog.Attr

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// LogMetrics tracks logging volume, exposed to pkg/api's Prometheus
// Collector so log-error rates are visible alongside scheduler state.
type LogMetrics struct {
	TotalLogs   int64            `json:"total_logs"`
	LogsByLevel map[string]int64 `json:"logs_by_level"`
	ErrorCount  int64            `json:"error_count"`
	DroppedLogs int64            `json:"dropped_logs"`

	// Performance
	AverageLatency time.Duration `json:"average_latency"`
	BufferUsage    float64       `json:"buffer_usage"`
	FlushCount     int64         `json:"flush_count"`

	// Last updated
	LastUpdated time.Time `json:"last_updated"`

	mu sync.RWMutex
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *LoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = &LoggerConfig{
			Level:            LevelInfo,
			Format:           FormatJSON,
			Output:           os.Stdout,
			EnableStructured: true,
			EnableCaller:     true,
			BufferSize:       1000,
			FlushInterval:    5 * time.Second,
			ServiceName:      "taskscheduler",
			Environment:      "development",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	sl := &StructuredLogger{
		config: config,
		metrics: &LogMetrics{
			LogsByLevel: make(map[string]int64),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize base attributes
	sl.baseAttrs = []slog.Attr{
		slog.String("service", config.ServiceName),
		slog.String("version", config.ServiceVersion),
		slog.String("environment", config.Environment),
	}

	var writer io.Writer = config.Output

	// Setup buffering if enabled
	if config.BufferSize > 0 {
		buffer := NewLogBuffer(config.BufferSize, config.FlushInterval, writer)
		sl.buffer = buffer
		writer = buffer
	}

	// Create slog logger
	var handler slog.Handler

	// LogLevel's values do not line up with slog's (Debug=-4, Info=0,
	// Warn=4, Error=8), so map them explicitly.
	slogLevel := map[LogLevel]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		LevelError: slog.LevelError,
		LevelFatal: slog.LevelError,
	}[config.Level]

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:     slogLevel,
			AddSource: config.EnableCaller,
		})
	case FormatText:
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{
			Level:     slogLevel,
			AddSource: config.EnableCaller,
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:     slogLevel,
			AddSource: config.EnableCaller,
		})
	}

	// Add base attributes to handler
	for _, attr := range sl.baseAttrs {
		handler = handler.WithAttrs([]slog.Attr{attr})
	}

	sl.logger = slog.New(handler)

	// Start background tasks
	if sl.buffer != nil {
		sl.wg.Add(1)
		go sl.flushLoop()
	}

	sl.wg.Add(1)
	go sl.metricsLoop()

	return sl, nil
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(msg string, fields ...slog.Attr) {
	sl.log(LevelDebug, msg, fields...)
}

// Info logs an info message
func (sl *StructuredLogger) Info(msg string, fields ...slog.Attr) {
	sl.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(msg string, fields ...slog.Attr) {
	sl.log(LevelWarn, msg, fields...)
}

// Error logs an error message
func (sl *StructuredLogger) Error(msg string, err error, fields ...slog.Attr) {
	attrs := fields
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", err)))
	}
	sl.log(LevelError, msg, attrs...)
}

// Fatal logs a fatal message and returns a fatal error
// Note: This no longer calls os.Exit() - callers should handle the error appropriately
func (sl *StructuredLogger) Fatal(msg string, err error, fields ...slog.Attr) error {
	attrs := fields
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", err)))
		attrs = append(attrs, slog.String("stack_trace", getStackTrace()))
	}
	sl.log(LevelFatal, msg, attrs...)

	// Flush all buffers
	sl.Flush()

	// Return error instead of calling os.Exit()
	if err != nil {
		return fmt.Errorf("fatal error: %s: %w", msg, err)
	}
	return fmt.Errorf("fatal error: %s", msg)
}

// FatalAndExit logs a fatal message and exits the program
// This should only be used in main functions where immediate exit is required
func (sl *StructuredLogger) FatalAndExit(msg string, err error, fields ...slog.Attr) {
	attrs := fields
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", err)))
		attrs = append(attrs, slog.String("stack_trace", getStackTrace()))
	}
	sl.log(LevelFatal, msg, attrs...)

	// Flush all buffers before exiting
	sl.Flush()
	os.Exit(1)
}

// WithFields returns a logger with additional fields
func (sl *StructuredLogger) WithFields(fields ...slog.Attr) *FieldLogger {
	return &FieldLogger{
		logger: sl,
		fields: fields,
	}
}

// log performs the actual logging
func (sl *StructuredLogger) log(level LogLevel, msg string, fields ...slog.Attr) {
	start := time.Now()

	// Add caller information if enabled
	if sl.config.EnableCaller {
		if pc, file, line, ok := runtime.Caller(2); ok {
			fields = append(fields, slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line)))
			if fn := runtime.FuncForPC(pc); fn != nil {
				fields = append(fields, slog.String("function", fn.Name()))
			}
		}
	}

	// Convert slog.Attr to any for slog
	args := make([]any, len(fields))
	for i, field := range fields {
		args[i] = field
	}

	// Log using slog
	switch level {
	case LevelDebug:
		sl.logger.Debug(msg, args...)
	case LevelInfo:
		sl.logger.Info(msg, args...)
	case LevelWarn:
		sl.logger.Warn(msg, args...)
	case LevelError:
		sl.logger.Error(msg, args...)
	case LevelFatal:
		sl.logger.Error(msg, args...)
	}

	sl.updateMetrics(level, false, time.Since(start))
}

// updateMetrics updates logging metrics
func (sl *StructuredLogger) updateMetrics(level LogLevel, dropped bool, latency time.Duration) {
	sl.metrics.mu.Lock()
	defer sl.metrics.mu.Unlock()

	if dropped {
		sl.metrics.DroppedLogs++
	} else {
		sl.metrics.TotalLogs++
		sl.metrics.LogsByLevel[level.String()]++

		if level == LevelError || level == LevelFatal {
			sl.metrics.ErrorCount++
		}

		// Update average latency
		if sl.metrics.TotalLogs == 1 {
			sl.metrics.AverageLatency = latency
		} else {
			sl.metrics.AverageLatency = (sl.metrics.AverageLatency + latency) / 2
		}
	}

	sl.metrics.LastUpdated = time.Now()
}

// flushLoop periodically flushes the log buffer
func (sl *StructuredLogger) flushLoop() {
	defer sl.wg.Done()

	if sl.buffer == nil {
		return
	}

	ticker := time.NewTicker(sl.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sl.ctx.Done():
			sl.buffer.Flush()
			return
		case <-ticker.C:
			sl.buffer.Flush()
			sl.metrics.mu.Lock()
			sl.metrics.FlushCount++
			sl.metrics.mu.Unlock()
		}
	}
}

// metricsLoop periodically refreshes buffer-usage metrics
func (sl *StructuredLogger) metricsLoop() {
	defer sl.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sl.ctx.Done():
			return
		case <-ticker.C:
			sl.updateBufferMetrics()
		}
	}
}

// updateBufferMetrics refreshes the buffer-usage gauge
func (sl *StructuredLogger) updateBufferMetrics() {
	if sl.buffer == nil {
		return
	}

	sl.metrics.mu.Lock()
	defer sl.metrics.mu.Unlock()
	sl.metrics.BufferUsage = sl.buffer.GetUsage()
}

// Flush flushes all pending log entries
func (sl *StructuredLogger) Flush() {
	if sl.buffer != nil {
		sl.buffer.Flush()
	}
}

// GetMetrics returns current logging metrics, polled by pkg/api's
// Prometheus Collector.
func (sl *StructuredLogger) GetMetrics() *LogMetrics {
	sl.metrics.mu.RLock()
	defer sl.metrics.mu.RUnlock()

	// Create a copy of metrics
	metrics := &LogMetrics{
		TotalLogs:      sl.metrics.TotalLogs,
		LogsByLevel:    make(map[string]int64),
		ErrorCount:     sl.metrics.ErrorCount,
		DroppedLogs:    sl.metrics.DroppedLogs,
		AverageLatency: sl.metrics.AverageLatency,
		BufferUsage:    sl.metrics.BufferUsage,
		FlushCount:     sl.metrics.FlushCount,
		LastUpdated:    sl.metrics.LastUpdated,
	}

	for level, count := range sl.metrics.LogsByLevel {
		metrics.LogsByLevel[level] = count
	}

	return metrics
}

// Close closes the logger and cleans up resources
func (sl *StructuredLogger) Close() error {
	sl.cancel()
	sl.wg.Wait()

	sl.Flush()
	return nil
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// FieldLogger wraps the structured logger with additional fields
type FieldLogger struct {
	logger *StructuredLogger
	fields []slog.Attr
}

// Debug logs a debug message with additional fields
func (fl *FieldLogger) Debug(msg string, fields ...slog.Attr) {
	allFields := append(fl.fields, fields...)
	fl.logger.Debug(msg, allFields...)
}

// Info logs an info message with additional fields
func (fl *FieldLogger) Info(msg string, fields ...slog.Attr) {
	allFields := append(fl.fields, fields...)
	fl.logger.Info(msg, allFields...)
}

// Warn logs a warning message with additional fields
func (fl *FieldLogger) Warn(msg string, fields ...slog.Attr) {
	allFields := append(fl.fields, fields...)
	fl.logger.Warn(msg, allFields...)
}

// Error logs an error message with additional fields
func (fl *FieldLogger) Error(msg string, err error, fields ...slog.Attr) {
	allFields := append(fl.fields, fields...)
	fl.logger.Error(msg, err, allFields...)
}

// LogBuffer provides buffered logging
type LogBuffer struct {
	buffer        [][]byte
	maxSize       int
	flushInterval time.Duration
	writer        io.Writer
	mu            sync.Mutex
	lastFlush     time.Time
}

// NewLogBuffer creates a new log buffer
func NewLogBuffer(maxSize int, flushInterval time.Duration, writer io.Writer) *LogBuffer {
	return &LogBuffer{
		buffer:        make([][]byte, 0, maxSize),
		maxSize:       maxSize,
		flushInterval: flushInterval,
		writer:        writer,
		lastFlush:     time.Now(),
	}
}

// Write writes data to the buffer
func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// Make a copy of the data
	data := make([]byte, len(p))
	copy(data, p)

	lb.buffer = append(lb.buffer, data)

	// Flush if buffer is full or interval has passed
	if len(lb.buffer) >= lb.maxSize || time.Since(lb.lastFlush) > lb.flushInterval {
		lb.flush()
	}

	return len(p), nil
}

// Flush flushes the buffer
func (lb *LogBuffer) Flush() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.flush()
}

// flush internal flush method (must be called with lock held)
func (lb *LogBuffer) flush() {
	if len(lb.buffer) == 0 {
		return
	}

	// Write all buffered data
	for _, data := range lb.buffer {
		lb.writer.Write(data)
	}

	// Clear buffer
	lb.buffer = lb.buffer[:0]
	lb.lastFlush = time.Now()
}

// GetUsage returns buffer usage as a fraction of its capacity (0 to 1)
func (lb *LogBuffer) GetUsage() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return float64(len(lb.buffer)) / float64(lb.maxSize)
}
