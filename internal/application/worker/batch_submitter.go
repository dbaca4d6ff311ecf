package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Batch metadata keys sent to the provider.
const (
	MetadataJobID   = "job_id"
	MetadataBatchID = "batch_id"
)

const payloadContentType = "application/jsonl"

// providerClockSkew widens the provider batch lookup window.
const providerClockSkew = 10 * time.Minute

// BatchSubmitterConfig holds configuration for batch submission.
type BatchSubmitterConfig struct {
	Concurrency           int
	MaxSubmissionAttempts int
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	// ScratchDir holds the temporary payload files; empty means os.TempDir().
	ScratchDir string
	// ArtifactPrefix is the object store prefix of mirrored payloads.
	ArtifactPrefix string
}

// PayloadSource renders the provider input file of a batch.
type PayloadSource interface {
	Payload(ctx context.Context, batch *entity.EmbeddingBatch) ([]byte, error)
}

// SubmitResult holds the provider handles of a submitted batch.
type SubmitResult struct {
	ProviderBatchID string
	InputFileID     string
}

// SubmissionSummary counts the outcome of SubmitPending.
type SubmissionSummary struct {
	Submitted int
	Failed    int
}

// BatchSubmitter handles rate-limited submission of batches to the provider.
type BatchSubmitter struct {
	batches   outbound.BatchRepository
	provider  outbound.BatchEmbeddingProvider
	artifacts outbound.ArtifactStore
	payloads  PayloadSource
	config    BatchSubmitterConfig
	metrics   *PipelineMetrics

	// Global backoff state
	globalBackoffUntil time.Time
	globalBackoffMu    sync.RWMutex
}

// NewBatchSubmitter creates a new batch submitter with default values applied.
func NewBatchSubmitter(
	batches outbound.BatchRepository,
	provider outbound.BatchEmbeddingProvider,
	artifacts outbound.ArtifactStore,
	payloads PayloadSource,
	config BatchSubmitterConfig,
	metrics *PipelineMetrics,
) *BatchSubmitter {
	// Apply defaults
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.MaxSubmissionAttempts <= 0 {
		config.MaxSubmissionAttempts = 5
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	return &BatchSubmitter{
		batches:   batches,
		provider:  provider,
		artifacts: artifacts,
		payloads:  payloads,
		config:    config,
		metrics:   metrics,
	}
}

// SubmitPending submits every created batch of the job in groups of
// Concurrency; a group finishes before the next one starts. Per-batch failures
// are recorded on the batch and never returned. The returned error is the
// context error when the run was cancelled, or a repository read error.
func (s *BatchSubmitter) SubmitPending(ctx context.Context, jobID uuid.UUID) (SubmissionSummary, error) {
	pending, err := s.pendingBatches(ctx, jobID)
	if err != nil {
		return SubmissionSummary{}, err
	}
	if len(pending) == 0 {
		slogger.Info(ctx, "No batches awaiting submission", nil)
		return SubmissionSummary{}, nil
	}

	slogger.Info(ctx, "Submitting batches", slogger.Fields{
		"batch_count": len(pending),
		"concurrency": s.config.Concurrency,
	})

	var summary SubmissionSummary
	for start := 0; start < len(pending); start += s.config.Concurrency {
		end := start + s.config.Concurrency
		if end > len(pending) {
			end = len(pending)
		}
		group := pending[start:end]
		submitted := make([]bool, len(group))

		var g errgroup.Group
		for i, batch := range group {
			g.Go(func() error {
				submitted[i] = s.submitBatch(ctx, batch)
				return nil
			})
		}
		_ = g.Wait()

		for _, ok := range submitted {
			if ok {
				summary.Submitted++
			} else {
				summary.Failed++
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	slogger.Info(ctx, "Batch submission finished", slogger.Fields{
		"submitted": summary.Submitted,
		"failed":    summary.Failed,
	})
	return summary, nil
}

func (s *BatchSubmitter) pendingBatches(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error) {
	pending, err := s.batches.FindByStatus(ctx, jobID, valueobject.BatchStatusCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to load created batches: %w", err)
	}
	return pending, nil
}

// submitBatch renders and submits one batch, reporting whether it reached submitted.
func (s *BatchSubmitter) submitBatch(ctx context.Context, batch *entity.EmbeddingBatch) bool {
	payload, err := s.payloads.Payload(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.giveUp(ctx, batch, err)
		return false
	}
	_, err = s.Submit(ctx, batch, payload)
	return err == nil
}

// Submit uploads payload and creates the provider batch, retrying failed
// attempts with exponential backoff. Rate limit errors additionally pause every
// in-flight submission. When the attempt budget is exhausted the batch is
// marked submission_failed and the last error is returned.
func (s *BatchSubmitter) Submit(
	ctx context.Context,
	batch *entity.EmbeddingBatch,
	payload []byte,
) (SubmitResult, error) {
	for {
		remote, err := s.attempt(ctx, batch, payload)
		if err == nil {
			return s.recordSubmitted(ctx, batch, remote, payload)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SubmitResult{}, ctxErr
		}

		rateLimited := isRateLimitError(err)
		batch.RecordSubmissionError(err)
		s.metrics.RecordSubmissionError(ctx, rateLimited)
		backoff := calculateBackoff(s.config, batch.SubmissionAttempts()-1)

		// If rate limit error, set global backoff
		if rateLimited {
			backoffUntil := time.Now().Add(backoff)
			s.setGlobalBackoff(backoffUntil)

			slogger.Warn(ctx, "Rate limit error, setting global backoff", slogger.Fields{
				"error":            err.Error(),
				"batch_number":     batch.BatchNumber(),
				"backoff_until":    backoffUntil.Format(time.RFC3339),
				"backoff_duration": backoff.String(),
			})
		}

		if batch.SubmissionAttempts() >= s.config.MaxSubmissionAttempts {
			s.giveUp(ctx, batch, fmt.Errorf("max attempts (%d) exceeded: %w", s.config.MaxSubmissionAttempts, err))
			return SubmitResult{}, err
		}

		slogger.Warn(ctx, "Batch submission failed, scheduling retry", slogger.Fields{
			"error":        err.Error(),
			"batch_number": batch.BatchNumber(),
			"attempts":     batch.SubmissionAttempts(),
			"retry_in":     backoff.String(),
		})
		s.save(ctx, batch, "after submission failure")

		if err := sleepContext(ctx, backoff); err != nil {
			return SubmitResult{}, err
		}
	}
}

// attempt runs one upload-and-create round trip. A batch whose input file was
// uploaded by an earlier attempt may already have a provider batch, so that
// batch is looked up by metadata before a new one is created.
func (s *BatchSubmitter) attempt(
	ctx context.Context,
	batch *entity.EmbeddingBatch,
	payload []byte,
) (*outbound.RemoteBatch, error) {
	if err := s.waitForGlobalBackoff(ctx); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetadataJobID:   batch.JobID().String(),
		MetadataBatchID: batch.ID().String(),
	}

	if batch.HasUploadedFile() {
		if remote := s.findExisting(ctx, batch, metadata); remote != nil {
			return remote, nil
		}
	} else {
		fileID, err := s.upload(ctx, batch, payload)
		if err != nil {
			return nil, err
		}
		if err := batch.RecordUpload(fileID); err != nil {
			return nil, err
		}
		if err := s.batches.Save(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to save batch after file upload: %w", err)
		}
		slogger.Debug(ctx, "Batch payload uploaded", slogger.Fields{
			"batch_number":  batch.BatchNumber(),
			"input_file_id": fileID,
		})
	}

	return s.provider.CreateBatch(ctx, batch.InputFileID(), metadata)
}

// findExisting returns the provider batch an earlier attempt created for
// batch, or nil. Lookup failures are logged and treated as not found.
func (s *BatchSubmitter) findExisting(
	ctx context.Context,
	batch *entity.EmbeddingBatch,
	metadata map[string]string,
) *outbound.RemoteBatch {
	since := batch.CreatedAt().Add(-providerClockSkew)
	remote, err := s.provider.FindBatch(ctx, map[string]string{MetadataBatchID: metadata[MetadataBatchID]}, since)
	if err != nil {
		slogger.Warn(ctx, "Failed to look up an earlier provider batch, creating a new one", slogger.Fields{
			"batch_number":  batch.BatchNumber(),
			"input_file_id": batch.InputFileID(),
			"error":         err.Error(),
		})
		return nil
	}
	if remote == nil {
		return nil
	}
	slogger.Info(ctx, "Adopting provider batch created by an earlier attempt", slogger.Fields{
		"batch_number":      batch.BatchNumber(),
		"provider_batch_id": remote.ID,
	})
	return remote
}

// upload writes payload to a scratch file scoped to the batch and uploads it.
// The scratch file is always removed.
func (s *BatchSubmitter) upload(ctx context.Context, batch *entity.EmbeddingBatch, payload []byte) (string, error) {
	f, err := os.CreateTemp(s.config.ScratchDir, fmt.Sprintf("batch-%d-*.jsonl", batch.BatchNumber()))
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer func() {
		_ = f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slogger.Warn(ctx, "Failed to remove scratch file", slogger.Fields{"path": f.Name(), "error": rmErr.Error()})
		}
	}()

	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("failed to rewind scratch file: %w", err)
	}

	filename := fmt.Sprintf("%s-batch-%d.jsonl", batch.JobID(), batch.BatchNumber())
	return s.provider.UploadBatchFile(ctx, filename, f)
}

func (s *BatchSubmitter) recordSubmitted(
	ctx context.Context,
	batch *entity.EmbeddingBatch,
	remote *outbound.RemoteBatch,
	payload []byte,
) (SubmitResult, error) {
	if err := batch.MarkSubmitted(remote.ID); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to mark batch as submitted", slogger.Fields{
			"batch_number":      batch.BatchNumber(),
			"provider_batch_id": remote.ID,
		})
		return SubmitResult{}, err
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to save batch after successful submission", slogger.Fields{
			"batch_number":      batch.BatchNumber(),
			"provider_batch_id": remote.ID,
		})
		return SubmitResult{}, fmt.Errorf("failed to save submitted batch: %w", err)
	}
	s.metrics.RecordSubmitted(ctx)

	slogger.Info(ctx, "Batch submitted", slogger.Fields{
		"batch_number":      batch.BatchNumber(),
		"total_batches":     batch.TotalBatches(),
		"provider_batch_id": remote.ID,
		"input_file_id":     batch.InputFileID(),
	})

	s.mirror(ctx, batch, payload)
	return SubmitResult{ProviderBatchID: remote.ID, InputFileID: batch.InputFileID()}, nil
}

// mirror copies the payload to the artifact store. Failures are only logged.
func (s *BatchSubmitter) mirror(ctx context.Context, batch *entity.EmbeddingBatch, payload []byte) {
	if s.artifacts == nil {
		return
	}
	key := ArtifactPath(s.config.ArtifactPrefix, batch)
	if err := s.artifacts.Save(ctx, key, payload, payloadContentType); err != nil {
		slogger.Warn(ctx, "Failed to mirror batch payload", slogger.Fields{
			"path":  key,
			"error": err.Error(),
		})
	}
}

// ArtifactPath returns <prefix>/<jobId>/batch-<n>.jsonl.
func ArtifactPath(prefix string, batch *entity.EmbeddingBatch) string {
	return path.Join(prefix, batch.JobID().String(), fmt.Sprintf("batch-%d.jsonl", batch.BatchNumber()))
}

// giveUp marks the batch submission_failed and persists it.
func (s *BatchSubmitter) giveUp(ctx context.Context, batch *entity.EmbeddingBatch, err error) {
	if markErr := batch.MarkSubmissionFailed(err.Error()); markErr != nil {
		slogger.ErrorWithError(ctx, markErr, "Failed to mark batch as submission_failed", slogger.Fields{
			"batch_number": batch.BatchNumber(),
		})
		return
	}
	s.metrics.RecordOutcome(ctx, valueobject.BatchStatusSubmissionFailed.String())
	slogger.Error(ctx, "Batch permanently failed submission", slogger.Fields{
		"error":        err.Error(),
		"batch_number": batch.BatchNumber(),
		"attempts":     batch.SubmissionAttempts(),
	})
	s.save(ctx, batch, "after submission_failed")
}

func (s *BatchSubmitter) save(ctx context.Context, batch *entity.EmbeddingBatch, when string) {
	if err := s.batches.Save(ctx, batch); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to save batch "+when, slogger.Fields{
			"batch_number": batch.BatchNumber(),
		})
	}
}

// calculateBackoff calculates exponential backoff duration.
func calculateBackoff(config BatchSubmitterConfig, attempts int) time.Duration {
	// Calculate 2^attempts * InitialBackoff
	backoff := config.InitialBackoff
	for range attempts {
		backoff *= 2
		if backoff >= config.MaxBackoff {
			return config.MaxBackoff
		}
	}
	return backoff
}

// isRateLimitError checks if an error indicates rate limiting.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	if outbound.IsRateLimitError(err) {
		return true
	}

	// Check error message for rate limit indicators (case-insensitive)
	errMsg := strings.ToLower(err.Error())
	indicators := []string{"quota", "rate limit", "too many requests"}

	for _, indicator := range indicators {
		if strings.Contains(errMsg, indicator) {
			return true
		}
	}

	return false
}

// setGlobalBackoff extends the global backoff to until.
func (s *BatchSubmitter) setGlobalBackoff(until time.Time) {
	s.globalBackoffMu.Lock()
	defer s.globalBackoffMu.Unlock()
	if until.After(s.globalBackoffUntil) {
		s.globalBackoffUntil = until
	}
}

// getGlobalBackoffUntil returns the global backoff time.
func (s *BatchSubmitter) getGlobalBackoffUntil() time.Time {
	s.globalBackoffMu.RLock()
	defer s.globalBackoffMu.RUnlock()
	return s.globalBackoffUntil
}

// waitForGlobalBackoff blocks until the global backoff has passed.
func (s *BatchSubmitter) waitForGlobalBackoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		wait := time.Until(s.getGlobalBackoffUntil())
		if wait <= 0 {
			return nil
		}
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
