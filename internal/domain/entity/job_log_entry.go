package entity

import (
	"time"

	"github.com/google/uuid"
)

// JobLogEntry is an append-only log line persisted for a job.
type JobLogEntry struct {
	JobID     uuid.UUID
	Level     string
	Message   string
	Timestamp time.Time
}
