package logging

import (
	"log/slog"
	"os"
	"time"
)

// Component returns a child logger carrying an extra "component" field, used
// to tag log lines emitted by the task manager (spec.md §7 "allocation-
// impossible reporting") and the admin API.
func (sl *StructuredLogger) Component(name string) *FieldLogger {
	return sl.WithFields(slog.String("component", name))
}

// NewFromLevelFormat builds a StructuredLogger from the plain
// (level, format, serviceName, serviceVersion, environment) tuple that
// internal/config.LoggingConfig carries, applying the scheduler's baseline
// buffering/caller defaults (structured_logger.go's own NewStructuredLogger
// default branch, parameterized instead of hardcoded).
func NewFromLevelFormat(level, format, serviceName, serviceVersion, environment string) (*StructuredLogger, error) {
	return NewStructuredLogger(&LoggerConfig{
		Level:            parseLevel(level),
		Format:           parseFormat(format),
		Output:           os.Stdout,
		EnableStructured: true,
		EnableCaller:     true,
		BufferSize:       1000,
		FlushInterval:    5 * time.Second,
		ServiceName:      serviceName,
		ServiceVersion:   serviceVersion,
		Environment:      environment,
	})
}

func parseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func parseFormat(s string) LogFormat {
	switch LogFormat(s) {
	case FormatText:
		return FormatText
	default:
		return FormatJSON
	}
}
