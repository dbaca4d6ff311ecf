package outbound

import (
	"context"

	"embeddingjob/internal/domain/entity"
)

// JobLogRepository is the append-only log sink of a job.
type JobLogRepository interface {
	Append(ctx context.Context, entry entity.JobLogEntry) error
}
