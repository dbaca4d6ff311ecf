package slogger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"embeddingjob/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJobLog struct {
	mu      sync.Mutex
	entries []entity.JobLogEntry
	err     error
}

func (r *recordingJobLog) Append(_ context.Context, entry entity.JobLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func withCapturedLogger(t *testing.T, cfg Config, extra ...slog.Handler) *bytes.Buffer {
	t.Helper()
	previous := Logger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	var buf bytes.Buffer
	cfg.Output = &buf
	require.NoError(t, Configure(cfg, extra...))
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, expected := range tests {
		level, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, level, input)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewConsoleHandler_RejectsUnknownFormat(t *testing.T) {
	_, err := NewConsoleHandler(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestInfo_WritesJSONWithFieldsAndJobID(t *testing.T) {
	// Arrange
	buf := withCapturedLogger(t, Config{Level: "info", Format: "json"})
	jobID := uuid.New()
	ctx := WithJobID(context.Background(), jobID)

	// Act
	Info(ctx, "batch submitted", Fields{"batch_number": 2, "provider_batch_id": "batch_1"})

	// Assert
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "batch submitted", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, jobID.String(), line["job_id"])
	assert.Equal(t, "batch_1", line["provider_batch_id"])
	assert.InDelta(t, 2, line["batch_number"], 0)
}

func TestDebug_IsFilteredByLevel(t *testing.T) {
	// Arrange
	buf := withCapturedLogger(t, Config{Level: "info", Format: "text"})

	// Act
	DebugNoCtx("noisy", nil)

	// Assert
	assert.Empty(t, buf.String())
}

func TestJobLogHandler_PersistsOnlyJobScopedRecords(t *testing.T) {
	// Arrange
	sink := &recordingJobLog{}
	withCapturedLogger(t, Config{Level: "debug", Format: "json"}, NewJobLogHandler(sink, slog.LevelInfo))
	jobID := uuid.New()
	ctx := WithJobID(context.Background(), jobID)

	// Act
	InfoNoCtx("process started", nil)
	Debug(ctx, "below job log level", nil)
	Warn(ctx, "batch still in progress", Fields{"batch_number": 3})
	ErrorWithError(ctx, errors.New("timeout"), "retrieve failed", nil)

	// Assert
	require.Len(t, sink.entries, 2)
	assert.Equal(t, jobID, sink.entries[0].JobID)
	assert.Equal(t, "warn", sink.entries[0].Level)
	assert.Equal(t, "batch still in progress batch_number=3", sink.entries[0].Message)
	assert.Equal(t, "error", sink.entries[1].Level)
	assert.Equal(t, "retrieve failed error=timeout", sink.entries[1].Message)
	assert.False(t, sink.entries[1].Timestamp.IsZero())
}

func TestJobLogHandler_WritesAfterContextCancellation(t *testing.T) {
	// Arrange
	sink := &recordingJobLog{}
	withCapturedLogger(t, Config{Level: "info"}, NewJobLogHandler(sink, nil))
	ctx, cancel := context.WithCancel(WithJobID(context.Background(), uuid.New()))
	cancel()

	// Act
	Info(ctx, "job exited", nil)

	// Assert
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "job exited", sink.entries[0].Message)
}

func TestJobLogHandler_WithAttrsAndGroup(t *testing.T) {
	// Arrange
	sink := &recordingJobLog{}
	handler := NewJobLogHandler(sink, slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("component", "poller")}).
		WithGroup("batch")
	logger := slog.New(handler)
	ctx := WithJobID(context.Background(), uuid.New())

	// Act
	logger.InfoContext(ctx, "polled", slog.Int("number", 1))

	// Assert
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "polled component=poller batch.number=1", sink.entries[0].Message)
}
