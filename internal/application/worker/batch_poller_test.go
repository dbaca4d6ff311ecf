package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"
	"embeddingjob/internal/testfixtures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchPoller_PollUntilDrained(t *testing.T) {
	t.Run("should record completed batches", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(6), 2)
		h.submitAll(t)
		require.NoError(t, h.provider.CompleteAll())

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, PollSummary{Passes: 1, Completed: 3}, summary)
		batches, err := h.batches.FindByJobID(context.Background(), h.jobID)
		require.NoError(t, err)
		for _, b := range batches {
			assert.Equal(t, valueobject.BatchStatusCompleted, b.Status())
			assert.NotEmpty(t, b.OutputFileID())
			assert.NotNil(t, b.CompletedAt())
		}
	})

	t.Run("should keep polling batches still in progress", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(2), 2)
		h.submitAll(t)
		seen := map[string]int{}
		h.provider.OnRetrieve = func(batchID string) {
			seen[batchID]++
			if seen[batchID] == 3 {
				_ = h.provider.Complete(batchID)
			}
		}

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Passes)
		assert.Equal(t, 1, summary.Completed)
		_, _, retrieves := h.provider.Calls()
		assert.Equal(t, 3, retrieves)
	})

	t.Run("should mark failed, expired and cancelled batches failed", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(6), 2)
		h.submitter.config.Concurrency = 1
		h.submitAll(t)
		ids := h.provider.BatchIDs()
		require.Len(t, ids, 3)
		h.provider.Fail(ids[0], outbound.RemoteBatchFailed, "validation error in input file")
		h.provider.Fail(ids[1], outbound.RemoteBatchExpired, "")
		require.NoError(t, h.provider.Complete(ids[2]))

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Failed)
		assert.Equal(t, 1, summary.Completed)
		batches, err := h.batches.FindByJobID(context.Background(), h.jobID)
		require.NoError(t, err)
		assert.Equal(t, valueobject.BatchStatusFailed, batches[0].Status())
		assert.Equal(t, "validation error in input file", batches[0].LastError())
		assert.NotEmpty(t, batches[0].ErrorFileID())
		assert.Equal(t, valueobject.BatchStatusFailed, batches[1].Status())
		assert.Equal(t, "provider reported expired", batches[1].LastError())
		assert.Equal(t, valueobject.BatchStatusCompleted, batches[2].Status())
	})

	t.Run("should retry a batch whose status could not be fetched", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(2), 2)
		h.submitAll(t)
		id := h.provider.BatchIDs()[0]
		h.provider.RetrieveErrs[id] = errors.New("gateway timeout")
		require.NoError(t, h.provider.Complete(id))
		calls := 0
		h.provider.OnRetrieve = func(string) {
			calls++
			if calls == 2 {
				delete(h.provider.RetrieveErrs, id)
			}
		}

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Passes)
		assert.Equal(t, 1, summary.Completed)
	})

	t.Run("should time out batches when the budget runs out", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(4), 2)
		h.submitAll(t)
		h.poller.config.MaxDuration = 20 * time.Millisecond

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, summary.TimedOut)
		assert.Positive(t, summary.Passes)
		counts := h.batches.StatusCounts(h.jobID)
		assert.Equal(t, 2, counts[valueobject.BatchStatusTimedOut])
		assert.Zero(t, counts[valueobject.BatchStatusSubmitted])
	})

	t.Run("should time out immediately with a fixed clock past the deadline", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(2), 2)
		h.submitAll(t)
		start := time.Now()
		calls := 0
		h.poller.now = func() time.Time {
			calls++
			if calls == 1 {
				return start
			}
			return start.Add(2 * time.Second)
		}

		// Act
		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, PollSummary{TimedOut: 1}, summary)
		_, _, retrieves := h.provider.Calls()
		assert.Zero(t, retrieves)
	})

	t.Run("should return when nothing is submitted", func(t *testing.T) {
		h := newPipelineHarness(t, nil, 2)

		summary, err := h.poller.PollUntilDrained(context.Background(), h.jobID)

		require.NoError(t, err)
		assert.Zero(t, summary)
	})

	t.Run("should stop on cancellation", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(2), 2)
		h.submitAll(t)
		h.poller.config.PollInterval = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		h.provider.OnRetrieve = func(string) { cancel() }

		// Act
		_, err := h.poller.PollUntilDrained(ctx, h.jobID)

		// Assert
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, h.batches.StatusCounts(h.jobID)[valueobject.BatchStatusSubmitted])
	})
}
