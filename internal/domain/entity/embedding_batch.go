package entity

import (
	"fmt"
	"time"

	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
)

// EmbeddingBatch is one partition of documents submitted to the provider as a unit.
type EmbeddingBatch struct {
	id                 uuid.UUID
	jobID              uuid.UUID
	batchNumber        int
	totalBatches       int
	documentIDs        []string
	status             valueobject.BatchStatus
	inputFileID        string
	providerBatchID    string
	outputFileID       string
	errorFileID        string
	submissionAttempts int
	lastError          string
	vectorCount        int
	createdAt          time.Time
	updatedAt          time.Time
	submittedAt        *time.Time
	completedAt        *time.Time
	failedAt           *time.Time
	timedOutAt         *time.Time
	ingestedAt         *time.Time
}

// EmbeddingBatchSnapshot carries the persisted state of a batch.
type EmbeddingBatchSnapshot struct {
	ID                 uuid.UUID
	JobID              uuid.UUID
	BatchNumber        int
	TotalBatches       int
	DocumentIDs        []string
	Status             valueobject.BatchStatus
	InputFileID        string
	ProviderBatchID    string
	OutputFileID       string
	ErrorFileID        string
	SubmissionAttempts int
	LastError          string
	VectorCount        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SubmittedAt        *time.Time
	CompletedAt        *time.Time
	FailedAt           *time.Time
	TimedOutAt         *time.Time
	IngestedAt         *time.Time
}

// NewEmbeddingBatch creates a batch in the created status.
func NewEmbeddingBatch(jobID uuid.UUID, batchNumber, totalBatches int, documentIDs []string) (*EmbeddingBatch, error) {
	if jobID == uuid.Nil {
		return nil, NewDomainError("batch requires an owning job", CodeInvalidBatch)
	}
	if batchNumber < 1 || totalBatches < batchNumber {
		return nil, NewDomainError(
			fmt.Sprintf("invalid batch number %d of %d", batchNumber, totalBatches),
			CodeInvalidBatch,
		)
	}
	if err := validateDocumentIDs(documentIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	return &EmbeddingBatch{
		id:           uuid.New(),
		jobID:        jobID,
		batchNumber:  batchNumber,
		totalBatches: totalBatches,
		documentIDs:  append([]string(nil), documentIDs...),
		status:       valueobject.BatchStatusCreated,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// RestoreEmbeddingBatch rebuilds a batch from stored data.
func RestoreEmbeddingBatch(s EmbeddingBatchSnapshot) (*EmbeddingBatch, error) {
	if s.ID == uuid.Nil || s.JobID == uuid.Nil {
		return nil, NewDomainError("batch id and job id are required", CodeInvalidBatch)
	}
	if _, err := valueobject.NewBatchStatus(s.Status.String()); err != nil {
		return nil, NewDomainError(err.Error(), CodeInvalidBatch)
	}
	return &EmbeddingBatch{
		id:                 s.ID,
		jobID:              s.JobID,
		batchNumber:        s.BatchNumber,
		totalBatches:       s.TotalBatches,
		documentIDs:        append([]string(nil), s.DocumentIDs...),
		status:             s.Status,
		inputFileID:        s.InputFileID,
		providerBatchID:    s.ProviderBatchID,
		outputFileID:       s.OutputFileID,
		errorFileID:        s.ErrorFileID,
		submissionAttempts: s.SubmissionAttempts,
		lastError:          s.LastError,
		vectorCount:        s.VectorCount,
		createdAt:          s.CreatedAt,
		updatedAt:          s.UpdatedAt,
		submittedAt:        s.SubmittedAt,
		completedAt:        s.CompletedAt,
		failedAt:           s.FailedAt,
		timedOutAt:         s.TimedOutAt,
		ingestedAt:         s.IngestedAt,
	}, nil
}

func validateDocumentIDs(ids []string) error {
	if len(ids) == 0 {
		return NewDomainError("batch requires at least one document", CodeInvalidBatch)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return NewDomainError("document id cannot be empty", CodeInvalidBatch)
		}
		if _, dup := seen[id]; dup {
			return NewDomainError("duplicate document id in batch: "+id, CodeInvalidBatch)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ID returns the batch ID.
func (b *EmbeddingBatch) ID() uuid.UUID { return b.id }

// JobID returns the owning job ID.
func (b *EmbeddingBatch) JobID() uuid.UUID { return b.jobID }

// BatchNumber returns the 1-based position of the batch within its job.
func (b *EmbeddingBatch) BatchNumber() int { return b.batchNumber }

// TotalBatches returns the number of batches the job was partitioned into.
func (b *EmbeddingBatch) TotalBatches() int { return b.totalBatches }

// DocumentIDs returns the ordered document IDs of the batch.
func (b *EmbeddingBatch) DocumentIDs() []string { return append([]string(nil), b.documentIDs...) }

// Status returns the lifecycle status.
func (b *EmbeddingBatch) Status() valueobject.BatchStatus { return b.status }

// InputFileID returns the uploaded payload file handle.
func (b *EmbeddingBatch) InputFileID() string { return b.inputFileID }

// ProviderBatchID returns the compute provider's batch handle.
func (b *EmbeddingBatch) ProviderBatchID() string { return b.providerBatchID }

// OutputFileID returns the output artifact handle.
func (b *EmbeddingBatch) OutputFileID() string { return b.outputFileID }

// ErrorFileID returns the error artifact handle.
func (b *EmbeddingBatch) ErrorFileID() string { return b.errorFileID }

// SubmissionAttempts returns how many times submission was attempted.
func (b *EmbeddingBatch) SubmissionAttempts() int { return b.submissionAttempts }

// LastError returns the most recent error message recorded against the batch.
func (b *EmbeddingBatch) LastError() string { return b.lastError }

// VectorCount returns the number of vectors upserted for this batch.
func (b *EmbeddingBatch) VectorCount() int { return b.vectorCount }

// CreatedAt returns the creation timestamp.
func (b *EmbeddingBatch) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last update timestamp.
func (b *EmbeddingBatch) UpdatedAt() time.Time { return b.updatedAt }

// SubmittedAt returns when the batch was registered with the provider.
func (b *EmbeddingBatch) SubmittedAt() *time.Time { return b.submittedAt }

// CompletedAt returns when the provider completed the batch.
func (b *EmbeddingBatch) CompletedAt() *time.Time { return b.completedAt }

// FailedAt returns when the provider failed the batch.
func (b *EmbeddingBatch) FailedAt() *time.Time { return b.failedAt }

// TimedOutAt returns when polling gave up on the batch.
func (b *EmbeddingBatch) TimedOutAt() *time.Time { return b.timedOutAt }

// IngestedAt returns when the batch vectors were upserted.
func (b *EmbeddingBatch) IngestedAt() *time.Time { return b.ingestedAt }

// HasUploadedFile reports whether the payload was already uploaded by an earlier attempt.
func (b *EmbeddingBatch) HasUploadedFile() bool {
	return b.inputFileID != ""
}

// RecordUpload stores the uploaded payload file handle.
func (b *EmbeddingBatch) RecordUpload(inputFileID string) error {
	if b.status != valueobject.BatchStatusCreated {
		return b.invalidTransition("record upload")
	}
	b.inputFileID = inputFileID
	b.updatedAt = time.Now()
	return nil
}

// RecordSubmissionError counts a failed submission attempt.
func (b *EmbeddingBatch) RecordSubmissionError(err error) {
	b.submissionAttempts++
	if err != nil {
		b.lastError = err.Error()
	}
	b.updatedAt = time.Now()
}

// MarkSubmitted stores the provider batch handle and moves the batch to submitted.
func (b *EmbeddingBatch) MarkSubmitted(providerBatchID string) error {
	if providerBatchID == "" {
		return NewDomainError("provider batch id cannot be empty", CodeInvalidBatch)
	}
	if err := b.transition(valueobject.BatchStatusSubmitted); err != nil {
		return err
	}
	b.submissionAttempts++
	b.providerBatchID = providerBatchID
	b.lastError = ""
	b.submittedAt = timestampOrNow(time.Time{}, b.updatedAt)
	return nil
}

// MarkSubmissionFailed records that the retry budget was exhausted.
func (b *EmbeddingBatch) MarkSubmissionFailed(reason string) error {
	if err := b.transition(valueobject.BatchStatusSubmissionFailed); err != nil {
		return err
	}
	b.lastError = reason
	b.failedAt = timestampOrNow(time.Time{}, b.updatedAt)
	return nil
}

// MarkCompleted records the provider's successful completion.
func (b *EmbeddingBatch) MarkCompleted(outputFileID string, completedAt time.Time) error {
	if err := b.transition(valueobject.BatchStatusCompleted); err != nil {
		return err
	}
	b.outputFileID = outputFileID
	b.completedAt = timestampOrNow(completedAt, b.updatedAt)
	return nil
}

// MarkFailed records the provider's failure of the batch.
func (b *EmbeddingBatch) MarkFailed(errorFileID string, failedAt time.Time, reason string) error {
	if err := b.transition(valueobject.BatchStatusFailed); err != nil {
		return err
	}
	b.errorFileID = errorFileID
	b.lastError = reason
	b.failedAt = timestampOrNow(failedAt, b.updatedAt)
	return nil
}

// MarkTimedOut records that polling gave up waiting for the provider.
func (b *EmbeddingBatch) MarkTimedOut() error {
	if err := b.transition(valueobject.BatchStatusTimedOut); err != nil {
		return err
	}
	b.timedOutAt = timestampOrNow(time.Time{}, b.updatedAt)
	return nil
}

// MarkIngested records a successful upsert of the batch vectors.
func (b *EmbeddingBatch) MarkIngested(vectorCount int) error {
	if err := b.transition(valueobject.BatchStatusIngested); err != nil {
		return err
	}
	b.vectorCount = vectorCount
	b.ingestedAt = timestampOrNow(time.Time{}, b.updatedAt)
	return nil
}

// Snapshot returns the batch state for persistence.
func (b *EmbeddingBatch) Snapshot() EmbeddingBatchSnapshot {
	return EmbeddingBatchSnapshot{
		ID:                 b.id,
		JobID:              b.jobID,
		BatchNumber:        b.batchNumber,
		TotalBatches:       b.totalBatches,
		DocumentIDs:        b.DocumentIDs(),
		Status:             b.status,
		InputFileID:        b.inputFileID,
		ProviderBatchID:    b.providerBatchID,
		OutputFileID:       b.outputFileID,
		ErrorFileID:        b.errorFileID,
		SubmissionAttempts: b.submissionAttempts,
		LastError:          b.lastError,
		VectorCount:        b.vectorCount,
		CreatedAt:          b.createdAt,
		UpdatedAt:          b.updatedAt,
		SubmittedAt:        b.submittedAt,
		CompletedAt:        b.completedAt,
		FailedAt:           b.failedAt,
		TimedOutAt:         b.timedOutAt,
		IngestedAt:         b.ingestedAt,
	}
}

func (b *EmbeddingBatch) transition(target valueobject.BatchStatus) error {
	if !b.status.CanTransitionTo(target) {
		return b.invalidTransition("move to " + target.String())
	}
	b.status = target
	b.updatedAt = time.Now()
	return nil
}

func (b *EmbeddingBatch) invalidTransition(action string) error {
	return NewDomainError(
		fmt.Sprintf("cannot %s: batch %s is %s", action, b.id, b.status),
		CodeInvalidStatusTransition,
	)
}

func timestampOrNow(ts time.Time, now time.Time) *time.Time {
	if ts.IsZero() {
		return &now
	}
	return &ts
}
