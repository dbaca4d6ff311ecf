package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/testfixtures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func documentIDsOf(batches []*entity.EmbeddingBatch) [][]string {
	out := make([][]string, 0, len(batches))
	for _, b := range batches {
		out = append(out, b.DocumentIDs())
	}
	return out
}

func decodeRequests(t *testing.T, payload []byte) []BatchRequest {
	t.Helper()
	var requests []BatchRequest
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		var r BatchRequest
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		requests = append(requests, r)
	}
	require.NoError(t, scanner.Err())
	return requests
}

func TestBatchBuilder_Build(t *testing.T) {
	t.Run("should partition documents in cursor order", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(10), 4)

		// Act
		batches, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"a01", "a02", "a03", "a04"},
			{"a05", "a06", "a07", "a08"},
			{"a09", "a10"},
		}, documentIDsOf(batches))
		for i, b := range batches {
			assert.Equal(t, i+1, b.BatchNumber())
			assert.Equal(t, 3, b.TotalBatches())
			assert.Equal(t, valueobject.BatchStatusCreated, b.Status())
			assert.Equal(t, h.jobID, b.JobID())
		}
		assert.Equal(t, 3, h.batches.StatusCounts(h.jobID)[valueobject.BatchStatusCreated])
		assert.Equal(t, 1, h.documents.IndexesEnsured)
	})

	t.Run("should create no batches when nothing matches", func(t *testing.T) {
		h := newPipelineHarness(t, nil, 4)

		batches, err := h.builder.Build(context.Background(), h.jobID)

		require.NoError(t, err)
		assert.Empty(t, batches)
		assert.Zero(t, h.batches.Saves())
	})

	t.Run("should exclude unpublished and old documents", func(t *testing.T) {
		// Arrange
		docs := testfixtures.PublishedArticles(3)
		draft := testfixtures.PublishedArticle("draft", testfixtures.Cutoff.AddDate(0, 6, 0))
		draft.State = "Draft"
		old := testfixtures.PublishedArticle("old", testfixtures.Cutoff.AddDate(0, 0, -1))
		onCutoff := testfixtures.PublishedArticle("edge", testfixtures.Cutoff)
		h := newPipelineHarness(t, append(docs, draft, old, onCutoff), 10)

		// Act
		batches, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.Equal(t, []string{"a01", "a02", "a03", "edge"}, batches[0].DocumentIDs())
	})

	t.Run("should drop duplicate documents", func(t *testing.T) {
		// Arrange
		docs := testfixtures.PublishedArticles(5)
		h := newPipelineHarness(t, docs, 2)
		h.documents.Duplicates = []*entity.Document{docs[0]}

		// Act
		batches, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a01", "a02"}, {"a03", "a04"}, {"a05"}}, documentIDsOf(batches))
	})

	t.Run("should respect the document cap", func(t *testing.T) {
		h := newPipelineHarness(t, testfixtures.PublishedArticles(10), 4)
		h.builder.config.MaxDocuments = 5

		batches, err := h.builder.Build(context.Background(), h.jobID)

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a01", "a02", "a03", "a04"}, {"a05"}}, documentIDsOf(batches))
	})

	t.Run("should reuse batches of an earlier run", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(6), 4)
		first, err := h.builder.Build(context.Background(), h.jobID)
		require.NoError(t, err)
		saves := h.batches.Saves()

		// Act
		second, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		require.Len(t, second, len(first))
		for i := range first {
			assert.Equal(t, first[i].ID(), second[i].ID())
		}
		assert.Equal(t, saves, h.batches.Saves())
	})

	t.Run("should complete a partially built batch set", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(10), 4)
		first, err := entity.NewEmbeddingBatch(h.jobID, 1, 3, []string{"a01", "a02", "a03", "a04"})
		require.NoError(t, err)
		require.NoError(t, h.batches.Save(context.Background(), first))

		// Act
		batches, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"a01", "a02", "a03", "a04"},
			{"a05", "a06", "a07", "a08"},
			{"a09", "a10"},
		}, documentIDsOf(batches))
		assert.Equal(t, first.ID(), batches[0].ID())
		for i, b := range batches {
			assert.Equal(t, i+1, b.BatchNumber())
			assert.Equal(t, 3, b.TotalBatches())
		}

		stored, err := h.batches.FindByJobID(context.Background(), h.jobID)
		require.NoError(t, err)
		assert.Len(t, stored, 3)
	})

	t.Run("should not rebuild a complete batch set after a partial build", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(10), 4)
		first, err := entity.NewEmbeddingBatch(h.jobID, 1, 3, []string{"a01", "a02", "a03", "a04"})
		require.NoError(t, err)
		require.NoError(t, h.batches.Save(context.Background(), first))
		_, err = h.builder.Build(context.Background(), h.jobID)
		require.NoError(t, err)
		saves := h.batches.Saves()

		// Act
		batches, err := h.builder.Build(context.Background(), h.jobID)

		// Assert
		require.NoError(t, err)
		assert.Len(t, batches, 3)
		assert.Equal(t, saves, h.batches.Saves())
	})

	t.Run("should fail when documents cannot be read", func(t *testing.T) {
		h := newPipelineHarness(t, testfixtures.PublishedArticles(3), 2)
		h.documents.FindPublishedErr = errors.New("cursor killed")

		_, err := h.builder.Build(context.Background(), h.jobID)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "cursor killed")
	})
}

func TestBatchBuilder_Payload(t *testing.T) {
	t.Run("should render one request line per document", func(t *testing.T) {
		// Arrange
		h := newPipelineHarness(t, testfixtures.PublishedArticles(2), 4)
		batches, err := h.builder.Build(context.Background(), h.jobID)
		require.NoError(t, err)

		// Act
		payload, err := h.builder.Payload(context.Background(), batches[0])

		// Assert
		require.NoError(t, err)
		requests := decodeRequests(t, payload)
		require.Len(t, requests, 2)
		assert.Equal(t, BatchRequest{
			CustomID: "a01",
			Method:   "POST",
			URL:      "/v1/embeddings",
			Body: EmbeddingRequest{
				Model:          "text-embedding-3-small",
				Input:          "Title: Headline a01, Standfirst: Standfirst a01, Body: Body of a01",
				EncodingFormat: "float",
			},
		}, requests[0])
		assert.Equal(t, "a02", requests[1].CustomID)
	})

	t.Run("should leave out documents that disappeared", func(t *testing.T) {
		// Arrange
		docs := testfixtures.PublishedArticles(3)
		h := newPipelineHarness(t, docs, 4)
		batch, err := entity.NewEmbeddingBatch(h.jobID, 1, 1, []string{"a01", "gone", "a03"})
		require.NoError(t, err)

		// Act
		payload, err := h.builder.Payload(context.Background(), batch)

		// Assert
		require.NoError(t, err)
		requests := decodeRequests(t, payload)
		require.Len(t, requests, 2)
		assert.Equal(t, "a01", requests[0].CustomID)
		assert.Equal(t, "a03", requests[1].CustomID)
	})

	t.Run("should report an empty payload", func(t *testing.T) {
		h := newPipelineHarness(t, nil, 4)
		batch, err := entity.NewEmbeddingBatch(h.jobID, 1, 1, []string{"gone"})
		require.NoError(t, err)

		_, err = h.builder.Payload(context.Background(), batch)

		assert.ErrorIs(t, err, ErrEmptyPayload)
	})
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name     string
		ids      []string
		size     int
		expected [][]string
	}{
		{name: "empty", ids: nil, size: 3, expected: nil},
		{name: "exact multiple", ids: []string{"a", "b", "c", "d"}, size: 2, expected: [][]string{{"a", "b"}, {"c", "d"}}},
		{name: "remainder", ids: []string{"a", "b", "c"}, size: 2, expected: [][]string{{"a", "b"}, {"c"}}},
		{name: "single batch", ids: []string{"a"}, size: 32, expected: [][]string{{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, partition(tt.ids, tt.size))
		})
	}
}
