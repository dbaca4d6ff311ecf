package outbound

import (
	"context"

	"embeddingjob/internal/domain/entity"

	"github.com/google/uuid"
)

// JobRepository persists the job status document.
type JobRepository interface {
	// Create inserts a new job record
	Create(ctx context.Context, job *entity.EmbeddingJob) error

	// Save overwrites the stored job with its current state
	Save(ctx context.Context, job *entity.EmbeddingJob) error

	// FindByID returns ErrNotFound when the job does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*entity.EmbeddingJob, error)
}
