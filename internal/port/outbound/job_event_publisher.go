package outbound

import (
	"context"
	"time"

	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
)

// JobStageChangedEvent announces a persisted stage transition.
type JobStageChangedEvent struct {
	JobID uuid.UUID            `json:"job_id"`
	From  valueobject.JobStage `json:"from"`
	To    valueobject.JobStage `json:"to"`
	At    time.Time            `json:"at"`
	Error string               `json:"error,omitempty"`
}

// JobEventPublisher broadcasts job lifecycle events.
type JobEventPublisher interface {
	PublishStageChanged(ctx context.Context, event JobStageChangedEvent) error
}
