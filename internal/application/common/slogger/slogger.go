// Package slogger is the process-wide structured logger. It keeps a small
// field-map call surface over log/slog and fans records out to several
// handlers (console plus the persisted job log).
package slogger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
)

// Fields carries structured attributes of a log call.
type Fields map[string]interface{}

// Config selects the console handler.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

type contextKey string

const jobIDKey contextKey = "job_id"

var (
	mu     sync.RWMutex //nolint:gochecknoglobals // Required for singleton logging infrastructure
	logger = slog.New(slog.NewJSONHandler(os.Stdout, nil)) //nolint:gochecknoglobals // Replaced by Configure
)

// ParseLevel converts a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// NewConsoleHandler builds the JSON or text handler described by cfg.
func NewConsoleHandler(cfg Config) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.NewJSONHandler(out, opts), nil
	case "text":
		return slog.NewTextHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}
}

// Configure installs a console handler plus any extra handlers as the global logger.
func Configure(cfg Config, extra ...slog.Handler) error {
	console, err := NewConsoleHandler(cfg)
	if err != nil {
		return err
	}
	var handler slog.Handler = console
	if len(extra) > 0 {
		handler = slogmulti.Fanout(append([]slog.Handler{console}, extra...)...)
	}
	SetGlobalLogger(slog.New(handler))
	return nil
}

// SetGlobalLogger replaces the global logger (useful for testing).
func SetGlobalLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithJobID attaches a job ID to the context; records logged with it are
// tagged and persisted to that job's log.
func WithJobID(ctx context.Context, jobID uuid.UUID) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job ID attached by WithJobID.
func JobIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(jobIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func logAt(ctx context.Context, level slog.Level, msg string, fields Fields) {
	l := Logger()
	if !l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if jobID, ok := JobIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String(string(jobIDKey), jobID.String()))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	l.LogAttrs(ctx, level, msg, attrs...)
}

// Debug logs a debug message with context.
func Debug(ctx context.Context, msg string, fields Fields) {
	logAt(ctx, slog.LevelDebug, msg, fields)
}

// Info logs an info message with context.
func Info(ctx context.Context, msg string, fields Fields) {
	logAt(ctx, slog.LevelInfo, msg, fields)
}

// Warn logs a warning message with context.
func Warn(ctx context.Context, msg string, fields Fields) {
	logAt(ctx, slog.LevelWarn, msg, fields)
}

// Error logs an error message with context.
func Error(ctx context.Context, msg string, fields Fields) {
	logAt(ctx, slog.LevelError, msg, fields)
}

// ErrorWithError logs an error message with an error object and context.
func ErrorWithError(ctx context.Context, err error, msg string, fields Fields) {
	merged := make(Fields, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	logAt(ctx, slog.LevelError, msg, merged)
}

// DebugNoCtx logs a debug message without context.
func DebugNoCtx(msg string, fields Fields) {
	Debug(context.Background(), msg, fields)
}

// InfoNoCtx logs an info message without context.
func InfoNoCtx(msg string, fields Fields) {
	Info(context.Background(), msg, fields)
}

// WarnNoCtx logs a warning message without context.
func WarnNoCtx(msg string, fields Fields) {
	Warn(context.Background(), msg, fields)
}

// ErrorNoCtx logs an error message without context.
func ErrorNoCtx(msg string, fields Fields) {
	Error(context.Background(), msg, fields)
}

// Field creates a single-field Fields map.
func Field(key string, value interface{}) Fields {
	return Fields{key: value}
}
