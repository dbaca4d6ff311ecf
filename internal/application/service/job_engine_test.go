package service

import (
	"context"
	"testing"
	"time"

	"embeddingjob/internal/application/worker"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"
	"embeddingjob/internal/testfixtures"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const engineDimensions = 3

// jobEngine wires the real worker components to in-memory collaborators.
type jobEngine struct {
	documents *testfixtures.DocumentStore
	jobs      *testfixtures.JobStore
	batches   *testfixtures.BatchStore
	provider  *testfixtures.FakeProvider
	artifacts *testfixtures.ArtifactStore
	index     *testfixtures.VectorIndex
	events    *testfixtures.EventRecorder
	lock      *testfixtures.JobLock
	deps      Dependencies
}

func newJobEngine(t *testing.T, docs ...*entity.Document) *jobEngine {
	t.Helper()
	e := &jobEngine{
		documents: testfixtures.NewDocumentStore(docs...),
		jobs:      testfixtures.NewJobStore(),
		batches:   testfixtures.NewBatchStore(),
		provider:  testfixtures.NewFakeProvider(engineDimensions),
		artifacts: testfixtures.NewArtifactStore(),
		index:     testfixtures.NewVectorIndex(),
		events:    &testfixtures.EventRecorder{},
		lock:      testfixtures.NewJobLock(),
	}

	builder := worker.NewBatchBuilder(e.documents, e.batches, nil, worker.BatchBuilderConfig{
		BatchSize:      4,
		DisplayedSince: testfixtures.Cutoff,
		PublishedState: testfixtures.PublishedState,
		Model:          "text-embedding-3-small",
	}, nil)
	e.deps = Dependencies{
		Jobs:    e.jobs,
		Batches: e.batches,
		Builder: builder,
		Submitter: worker.NewBatchSubmitter(e.batches, e.provider, e.artifacts, builder, worker.BatchSubmitterConfig{
			Concurrency:           2,
			MaxSubmissionAttempts: 2,
			InitialBackoff:        time.Millisecond,
			MaxBackoff:            2 * time.Millisecond,
			ScratchDir:            t.TempDir(),
			ArtifactPrefix:        "batch-requests",
		}, nil),
		Poller: worker.NewBatchPoller(e.batches, e.provider, worker.BatchPollerConfig{
			PollInterval: 2 * time.Millisecond,
			MaxDuration:  time.Second,
		}, nil),
		Ingestor: worker.NewResultIngestor(e.batches, e.documents, e.provider, e.index, worker.ResultIngestorConfig{
			Dimensions: engineDimensions,
		}, nil),
		Events: e.events,
		Lock:   e.lock,
	}
	return e
}

// completeOnPoll makes the provider finish every batch the first time it is polled.
func (e *jobEngine) completeOnPoll() {
	e.provider.OnRetrieve = func(batchID string) {
		if e.provider.State(batchID) == outbound.RemoteBatchInProgress {
			_ = e.provider.Complete(batchID)
		}
	}
}

func (e *jobEngine) runner(t *testing.T) *JobRunner {
	t.Helper()
	runner, err := NewJobRunner(e.deps)
	require.NoError(t, err)
	return runner
}

func (e *jobEngine) onlyJob(t *testing.T) *entity.EmbeddingJob {
	t.Helper()
	events := e.events.Events()
	require.NotEmpty(t, events)
	job, err := e.jobs.FindByID(context.Background(), events[0].JobID)
	require.NoError(t, err)
	return job
}

func stagesOf(job *entity.EmbeddingJob) []valueobject.JobStage {
	transitions := job.Transitions()
	stages := make([]valueobject.JobStage, 0, len(transitions))
	for _, tr := range transitions {
		stages = append(stages, tr.Stage)
	}
	return stages
}

// mockBuilder is a testify mock of BatchBuilder.
type mockBuilder struct {
	mock.Mock
}

func (m *mockBuilder) Build(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error) {
	args := m.Called(ctx, jobID)
	batches, _ := args.Get(0).([]*entity.EmbeddingBatch)
	return batches, args.Error(1)
}

// mockIngestor is a testify mock of ResultIngestor.
type mockIngestor struct {
	mock.Mock
}

func (m *mockIngestor) Ingest(ctx context.Context, jobID uuid.UUID) (worker.IngestSummary, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(worker.IngestSummary), args.Error(1)
}
