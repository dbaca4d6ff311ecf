package outbound

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrJobLocked is returned when another process already holds the job lock.
var ErrJobLocked = errors.New("job is locked by another run")

// JobLock guards a job against concurrent runs.
type JobLock interface {
	// Acquire returns a release function, or ErrJobLocked.
	Acquire(ctx context.Context, jobID uuid.UUID) (func(context.Context) error, error)
}
