package worker

import (
	"context"
	"fmt"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

// BatchPollerConfig holds configuration for the batch poller.
type BatchPollerConfig struct {
	PollInterval time.Duration
	// MaxDuration bounds the whole polling loop; batches still submitted when
	// it runs out are marked timed_out.
	MaxDuration time.Duration
}

// PollSummary counts batch outcomes recorded by PollUntilDrained.
type PollSummary struct {
	Passes    int
	Completed int
	Failed    int
	TimedOut  int
}

// BatchPoller polls the provider until none of a job's batches is submitted.
type BatchPoller struct {
	batches  outbound.BatchRepository
	provider outbound.BatchEmbeddingProvider
	config   BatchPollerConfig
	metrics  *PipelineMetrics
	now      func() time.Time
}

// NewBatchPoller creates a new batch poller instance.
func NewBatchPoller(
	batches outbound.BatchRepository,
	provider outbound.BatchEmbeddingProvider,
	config BatchPollerConfig,
	metrics *PipelineMetrics,
) *BatchPoller {
	// Set defaults
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Minute
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 25 * time.Hour
	}

	return &BatchPoller{
		batches:  batches,
		provider: provider,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
	}
}

// PollUntilDrained polls every submitted batch of the job, sleeping
// PollInterval between passes, until none remains submitted or MaxDuration
// runs out. Only context cancellation and repository read errors are returned.
func (p *BatchPoller) PollUntilDrained(ctx context.Context, jobID uuid.UUID) (PollSummary, error) {
	var summary PollSummary
	deadline := p.now().Add(p.config.MaxDuration)

	for {
		remaining, err := p.batches.CountByStatus(ctx, jobID, valueobject.BatchStatusSubmitted)
		if err != nil {
			return summary, fmt.Errorf("failed to count submitted batches: %w", err)
		}
		if remaining == 0 {
			slogger.Info(ctx, "No submitted batches left to poll", slogger.Fields{
				"passes":    summary.Passes,
				"completed": summary.Completed,
				"failed":    summary.Failed,
			})
			return summary, nil
		}

		if !p.now().Before(deadline) {
			timedOut, err := p.timeOutRemaining(ctx, jobID)
			summary.TimedOut += timedOut
			return summary, err
		}

		slogger.Info(ctx, "Polling submitted batches", slogger.Fields{
			"batch_count": remaining,
			"pass":        summary.Passes + 1,
		})
		if err := p.pollOnce(ctx, jobID, &summary); err != nil {
			return summary, err
		}
		summary.Passes++
		p.metrics.RecordPollPass(ctx)

		stillSubmitted, err := p.batches.CountByStatus(ctx, jobID, valueobject.BatchStatusSubmitted)
		if err != nil {
			return summary, fmt.Errorf("failed to count submitted batches: %w", err)
		}
		if stillSubmitted == 0 {
			continue
		}

		wait := p.config.PollInterval
		if left := deadline.Sub(p.now()); left < wait {
			wait = left
		}
		if err := sleepContext(ctx, wait); err != nil {
			return summary, err
		}
	}
}

// pollOnce performs a single polling pass over the submitted batches.
func (p *BatchPoller) pollOnce(ctx context.Context, jobID uuid.UUID, summary *PollSummary) error {
	batches, err := p.batches.FindByStatus(ctx, jobID, valueobject.BatchStatusSubmitted)
	if err != nil {
		return fmt.Errorf("failed to get submitted batches: %w", err)
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := p.checkBatch(ctx, batch)
		switch outcome {
		case valueobject.BatchStatusCompleted:
			summary.Completed++
		case valueobject.BatchStatusFailed:
			summary.Failed++
		}
	}
	return nil
}

// checkBatch queries the provider for one batch and records a terminal remote
// state. It returns the batch's resulting status.
func (p *BatchPoller) checkBatch(ctx context.Context, batch *entity.EmbeddingBatch) valueobject.BatchStatus {
	fields := slogger.Fields{
		"batch_number":      batch.BatchNumber(),
		"provider_batch_id": batch.ProviderBatchID(),
	}

	remote, err := p.provider.RetrieveBatch(ctx, batch.ProviderBatchID())
	if err != nil {
		if ctx.Err() == nil {
			slogger.ErrorWithError(ctx, err, "Failed to retrieve batch status, retrying next pass", fields)
		}
		return batch.Status()
	}
	fields["remote_state"] = string(remote.State)

	var markErr error
	switch remote.State {
	case outbound.RemoteBatchCompleted:
		markErr = batch.MarkCompleted(remote.OutputFileID, remote.CompletedAt)
		fields["output_file_id"] = remote.OutputFileID
	case outbound.RemoteBatchFailed, outbound.RemoteBatchExpired, outbound.RemoteBatchCancelled:
		reason := remote.Reason
		if reason == "" {
			reason = "provider reported " + string(remote.State)
		}
		markErr = batch.MarkFailed(remote.ErrorFileID, remote.FailedAt, reason)
		fields["error_file_id"] = remote.ErrorFileID
		fields["reason"] = reason
	default:
		slogger.Info(ctx, "Batch still in progress", fields)
		return batch.Status()
	}
	if markErr != nil {
		slogger.ErrorWithError(ctx, markErr, "Failed to record remote batch state", fields)
		return batch.Status()
	}

	if err := p.batches.Save(ctx, batch); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to save polled batch, retrying next pass", fields)
		return valueobject.BatchStatusSubmitted
	}
	p.metrics.RecordOutcome(ctx, batch.Status().String())

	if batch.Status() == valueobject.BatchStatusFailed {
		slogger.Warn(ctx, "Batch failed at the provider", fields)
	} else {
		slogger.Info(ctx, "Batch completed", fields)
	}
	return batch.Status()
}

// timeOutRemaining marks every still-submitted batch timed_out.
func (p *BatchPoller) timeOutRemaining(ctx context.Context, jobID uuid.UUID) (int, error) {
	batches, err := p.batches.FindByStatus(ctx, jobID, valueobject.BatchStatusSubmitted)
	if err != nil {
		return 0, fmt.Errorf("failed to get submitted batches: %w", err)
	}

	timedOut := 0
	for _, batch := range batches {
		if err := batch.MarkTimedOut(); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to mark batch timed out", slogger.Fields{
				"batch_number": batch.BatchNumber(),
			})
			continue
		}
		if err := p.batches.Save(ctx, batch); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to save timed out batch", slogger.Fields{
				"batch_number": batch.BatchNumber(),
			})
			continue
		}
		p.metrics.RecordOutcome(ctx, batch.Status().String())
		timedOut++
	}

	slogger.Warn(ctx, "Polling budget exhausted, remaining batches timed out", slogger.Fields{
		"timed_out":    timedOut,
		"max_duration": p.config.MaxDuration.String(),
	})
	return timedOut, nil
}
