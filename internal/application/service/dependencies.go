package service

import (
	"context"
	"errors"

	"embeddingjob/internal/application/worker"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

// BatchBuilder partitions the document corpus into persisted batches.
type BatchBuilder interface {
	Build(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error)
}

// BatchSubmitter submits every created batch of a job.
type BatchSubmitter interface {
	SubmitPending(ctx context.Context, jobID uuid.UUID) (worker.SubmissionSummary, error)
}

// BatchPoller waits for the provider to finish a job's submitted batches.
type BatchPoller interface {
	PollUntilDrained(ctx context.Context, jobID uuid.UUID) (worker.PollSummary, error)
}

// ResultIngestor upserts the output of a job's completed batches.
type ResultIngestor interface {
	Ingest(ctx context.Context, jobID uuid.UUID) (worker.IngestSummary, error)
}

// Dependencies holds every collaborator the job engine needs. It is built once
// by the composition root and passed explicitly.
type Dependencies struct {
	Jobs    outbound.JobRepository
	Batches outbound.BatchRepository

	Builder   BatchBuilder
	Submitter BatchSubmitter
	Poller    BatchPoller
	Ingestor  ResultIngestor

	// Probes run in the initializing stage.
	Probes []outbound.DependencyProbe
	// Events is optional; nil publishes nothing.
	Events outbound.JobEventPublisher
	// Lock is optional; nil never blocks.
	Lock outbound.JobLock
	// Metrics is optional.
	Metrics *StageMetrics
}

// Validate reports every missing required collaborator.
func (d Dependencies) Validate() error {
	var errs []error
	if d.Jobs == nil {
		errs = append(errs, errors.New("job repository is required"))
	}
	if d.Batches == nil {
		errs = append(errs, errors.New("batch repository is required"))
	}
	if d.Builder == nil {
		errs = append(errs, errors.New("batch builder is required"))
	}
	if d.Submitter == nil {
		errs = append(errs, errors.New("batch submitter is required"))
	}
	if d.Poller == nil {
		errs = append(errs, errors.New("batch poller is required"))
	}
	if d.Ingestor == nil {
		errs = append(errs, errors.New("result ingestor is required"))
	}
	return errors.Join(errs...)
}
