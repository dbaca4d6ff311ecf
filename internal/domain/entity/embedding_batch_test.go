package entity

import (
	"errors"
	"testing"
	"time"

	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch(t *testing.T) *EmbeddingBatch {
	t.Helper()
	batch, err := NewEmbeddingBatch(uuid.New(), 1, 3, []string{"a", "b", "c"})
	require.NoError(t, err)
	return batch
}

func TestNewEmbeddingBatch(t *testing.T) {
	t.Run("should create batch in created status", func(t *testing.T) {
		// Arrange
		jobID := uuid.New()

		// Act
		batch, err := NewEmbeddingBatch(jobID, 2, 3, []string{"d1", "d2"})

		// Assert
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, batch.ID())
		assert.Equal(t, jobID, batch.JobID())
		assert.Equal(t, 2, batch.BatchNumber())
		assert.Equal(t, 3, batch.TotalBatches())
		assert.Equal(t, []string{"d1", "d2"}, batch.DocumentIDs())
		assert.Equal(t, valueobject.BatchStatusCreated, batch.Status())
		assert.False(t, batch.HasUploadedFile())
	})

	tests := []struct {
		name   string
		jobID  uuid.UUID
		number int
		total  int
		ids    []string
	}{
		{"nil job", uuid.Nil, 1, 1, []string{"a"}},
		{"zero batch number", uuid.New(), 0, 1, []string{"a"}},
		{"number beyond total", uuid.New(), 3, 2, []string{"a"}},
		{"no documents", uuid.New(), 1, 1, nil},
		{"empty document id", uuid.New(), 1, 1, []string{"a", ""}},
		{"duplicate document id", uuid.New(), 1, 1, []string{"a", "b", "a"}},
	}
	for _, tc := range tests {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			_, err := NewEmbeddingBatch(tc.jobID, tc.number, tc.total, tc.ids)
			require.Error(t, err)
			assert.True(t, HasCode(err, CodeInvalidBatch))
		})
	}
}

func TestEmbeddingBatch_HappyPath(t *testing.T) {
	// Arrange
	batch := newTestBatch(t)
	completedAt := time.Unix(1_700_000_000, 0)

	// Act
	require.NoError(t, batch.RecordUpload("file-in"))
	require.NoError(t, batch.MarkSubmitted("batch_123"))
	require.NoError(t, batch.MarkCompleted("file-out", completedAt))
	require.NoError(t, batch.MarkIngested(3))

	// Assert
	assert.Equal(t, valueobject.BatchStatusIngested, batch.Status())
	assert.Equal(t, "file-in", batch.InputFileID())
	assert.Equal(t, "batch_123", batch.ProviderBatchID())
	assert.Equal(t, "file-out", batch.OutputFileID())
	assert.Equal(t, 1, batch.SubmissionAttempts())
	assert.Equal(t, 3, batch.VectorCount())
	require.NotNil(t, batch.SubmittedAt())
	require.NotNil(t, batch.CompletedAt())
	require.NotNil(t, batch.IngestedAt())
	assert.True(t, completedAt.Equal(*batch.CompletedAt()))
}

func TestEmbeddingBatch_TimestampsAreIndependent(t *testing.T) {
	// Arrange
	batch := newTestBatch(t)
	require.NoError(t, batch.MarkSubmitted("batch_1"))
	submittedAt := *batch.SubmittedAt()
	time.Sleep(2 * time.Millisecond)

	// Act
	require.NoError(t, batch.MarkTimedOut())

	// Assert
	assert.Equal(t, submittedAt, *batch.SubmittedAt())
	assert.True(t, batch.TimedOutAt().After(submittedAt))
}

func TestEmbeddingBatch_Failures(t *testing.T) {
	t.Run("should record provider failure with error file", func(t *testing.T) {
		// Arrange
		batch := newTestBatch(t)
		require.NoError(t, batch.MarkSubmitted("batch_1"))

		// Act
		err := batch.MarkFailed("file-err", time.Time{}, "validation failed")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.BatchStatusFailed, batch.Status())
		assert.Equal(t, "file-err", batch.ErrorFileID())
		assert.Equal(t, "validation failed", batch.LastError())
		require.NotNil(t, batch.FailedAt())
	})

	t.Run("should track submission attempts until exhaustion", func(t *testing.T) {
		// Arrange
		batch := newTestBatch(t)

		// Act
		batch.RecordSubmissionError(errors.New("429 rate limit"))
		batch.RecordSubmissionError(errors.New("503 unavailable"))
		err := batch.MarkSubmissionFailed("gave up after 2 attempts")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, batch.SubmissionAttempts())
		assert.Equal(t, valueobject.BatchStatusSubmissionFailed, batch.Status())
		assert.Equal(t, "gave up after 2 attempts", batch.LastError())
	})

	t.Run("should not ingest a batch that never completed", func(t *testing.T) {
		// Arrange
		batch := newTestBatch(t)
		require.NoError(t, batch.MarkSubmitted("batch_1"))
		require.NoError(t, batch.MarkFailed("", time.Time{}, ""))

		// Act
		err := batch.MarkIngested(10)

		// Assert
		require.Error(t, err)
		assert.True(t, HasCode(err, CodeInvalidStatusTransition))
		assert.Equal(t, valueobject.BatchStatusFailed, batch.Status())
	})

	t.Run("should not record an upload after submission", func(t *testing.T) {
		// Arrange
		batch := newTestBatch(t)
		require.NoError(t, batch.MarkSubmitted("batch_1"))

		// Act
		err := batch.RecordUpload("file-late")

		// Assert
		require.Error(t, err)
		assert.Empty(t, batch.InputFileID())
	})

	t.Run("should reject an empty provider batch id", func(t *testing.T) {
		batch := newTestBatch(t)
		require.Error(t, batch.MarkSubmitted(""))
		assert.Equal(t, valueobject.BatchStatusCreated, batch.Status())
	})
}

func TestRestoreEmbeddingBatch(t *testing.T) {
	t.Run("should round trip through a snapshot", func(t *testing.T) {
		// Arrange
		batch := newTestBatch(t)
		require.NoError(t, batch.MarkSubmitted("batch_9"))

		// Act
		restored, err := RestoreEmbeddingBatch(batch.Snapshot())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, batch.Snapshot(), restored.Snapshot())
	})

	t.Run("should reject an unknown status", func(t *testing.T) {
		// Arrange
		snapshot := newTestBatch(t).Snapshot()
		snapshot.Status = "openai_batch_created"

		// Act
		_, err := RestoreEmbeddingBatch(snapshot)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid batch status")
	})
}
