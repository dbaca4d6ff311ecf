package outbound

import (
	"context"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
)

// BatchRepository persists batch tracking documents.
type BatchRepository interface {
	// Save upserts a batch by its ID
	Save(ctx context.Context, batch *entity.EmbeddingBatch) error

	// FindByJobID returns all batches of a job ordered by batch number
	FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error)

	// FindByStatus returns the job's batches in the given status ordered by batch number
	FindByStatus(ctx context.Context, jobID uuid.UUID, status valueobject.BatchStatus) ([]*entity.EmbeddingBatch, error)

	// CountByStatus counts the job's batches in the given status
	CountByStatus(ctx context.Context, jobID uuid.UUID, status valueobject.BatchStatus) (int, error)
}
