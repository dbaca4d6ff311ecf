package worker

import (
	"context"
	"testing"
	"time"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/testfixtures"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testDimensions = 3

// pipelineHarness wires the worker components to in-memory collaborators.
type pipelineHarness struct {
	jobID     uuid.UUID
	documents *testfixtures.DocumentStore
	batches   *testfixtures.BatchStore
	provider  *testfixtures.FakeProvider
	artifacts *testfixtures.ArtifactStore
	index     *testfixtures.VectorIndex
	builder   *BatchBuilder
	submitter *BatchSubmitter
	poller    *BatchPoller
	ingestor  *ResultIngestor
}

func newPipelineHarness(t *testing.T, docs []*entity.Document, batchSize int) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		jobID:     uuid.New(),
		documents: testfixtures.NewDocumentStore(docs...),
		batches:   testfixtures.NewBatchStore(),
		provider:  testfixtures.NewFakeProvider(testDimensions),
		artifacts: testfixtures.NewArtifactStore(),
		index:     testfixtures.NewVectorIndex(),
	}
	h.builder = NewBatchBuilder(h.documents, h.batches, nil, BatchBuilderConfig{
		BatchSize:      batchSize,
		DisplayedSince: testfixtures.Cutoff,
		PublishedState: testfixtures.PublishedState,
		Model:          "text-embedding-3-small",
	}, nil)
	h.submitter = NewBatchSubmitter(h.batches, h.provider, h.artifacts, h.builder, BatchSubmitterConfig{
		Concurrency:           2,
		MaxSubmissionAttempts: 3,
		InitialBackoff:        time.Millisecond,
		MaxBackoff:            5 * time.Millisecond,
		ScratchDir:            t.TempDir(),
		ArtifactPrefix:        "batch-requests",
	}, nil)
	h.poller = NewBatchPoller(h.batches, h.provider, BatchPollerConfig{
		PollInterval: 5 * time.Millisecond,
		MaxDuration:  time.Second,
	}, nil)
	h.ingestor = NewResultIngestor(h.batches, h.documents, h.provider, h.index, ResultIngestorConfig{
		Dimensions: testDimensions,
	}, nil)
	return h
}

// submitAll builds and submits every batch of the harness job.
func (h *pipelineHarness) submitAll(t *testing.T) []*entity.EmbeddingBatch {
	t.Helper()
	ctx := context.Background()
	_, err := h.builder.Build(ctx, h.jobID)
	require.NoError(t, err)
	_, err = h.submitter.SubmitPending(ctx, h.jobID)
	require.NoError(t, err)
	batches, err := h.batches.FindByJobID(ctx, h.jobID)
	require.NoError(t, err)
	return batches
}

// completeAll submits, completes remotely and polls every batch.
func (h *pipelineHarness) completeAll(t *testing.T) []*entity.EmbeddingBatch {
	t.Helper()
	h.submitAll(t)
	require.NoError(t, h.provider.CompleteAll())
	_, err := h.poller.PollUntilDrained(context.Background(), h.jobID)
	require.NoError(t, err)
	batches, err := h.batches.FindByJobID(context.Background(), h.jobID)
	require.NoError(t, err)
	return batches
}
