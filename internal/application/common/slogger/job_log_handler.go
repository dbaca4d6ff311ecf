package slogger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/port/outbound"
)

const jobLogWriteTimeout = 5 * time.Second

// JobLogHandler persists records that carry a job ID to the job log sink.
// Attributes are flattened into the message as key=value pairs.
type JobLogHandler struct {
	repo   outbound.JobLogRepository
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewJobLogHandler creates a handler writing to repo at or above level.
func NewJobLogHandler(repo outbound.JobLogRepository, level slog.Leveler) *JobLogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &JobLogHandler{repo: repo, level: level}
}

// Enabled implements slog.Handler.
func (h *JobLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler. Records without a job ID are dropped.
func (h *JobLogHandler) Handle(ctx context.Context, r slog.Record) error {
	jobID, ok := JobIDFromContext(ctx)
	if !ok {
		return nil
	}

	var b strings.Builder
	b.WriteString(r.Message)
	write := func(prefix string, a slog.Attr) {
		if a.Key == string(jobIDKey) || a.Equal(slog.Attr{}) {
			return
		}
		fmt.Fprintf(&b, " %s%s=%v", prefix, a.Key, a.Value.Resolve().Any())
	}
	for _, a := range h.attrs {
		write("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	// The job log must survive a cancelled run, so writes detach from ctx cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobLogWriteTimeout)
	defer cancel()
	return h.repo.Append(writeCtx, entity.JobLogEntry{
		JobID:     jobID,
		Level:     strings.ToLower(r.Level.String()),
		Message:   b.String(),
		Timestamp: ts,
	})
}

// WithAttrs implements slog.Handler.
func (h *JobLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *JobLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
