package valueobject

import "fmt"

// BatchStatus represents the lifecycle status of a single embedding batch.
type BatchStatus string

// Batch status constants.
const (
	BatchStatusCreated          BatchStatus = "created"
	BatchStatusSubmitted        BatchStatus = "submitted"
	BatchStatusSubmissionFailed BatchStatus = "submission_failed"
	BatchStatusCompleted        BatchStatus = "completed"
	BatchStatusFailed           BatchStatus = "failed"
	BatchStatusTimedOut         BatchStatus = "timed_out"
	BatchStatusIngested         BatchStatus = "ingested"
)

var batchStatusTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusCreated: {
		BatchStatusSubmitted,
		BatchStatusSubmissionFailed,
	},
	BatchStatusSubmitted: {
		BatchStatusCompleted,
		BatchStatusFailed,
		BatchStatusTimedOut,
	},
	BatchStatusCompleted: {
		BatchStatusIngested,
	},
	// Terminal statuses cannot transition
	BatchStatusSubmissionFailed: {},
	BatchStatusFailed:           {},
	BatchStatusTimedOut:         {},
	BatchStatusIngested:         {},
}

// NewBatchStatus creates a new BatchStatus with validation.
func NewBatchStatus(status string) (BatchStatus, error) {
	s := BatchStatus(status)
	if _, ok := batchStatusTransitions[s]; !ok {
		return "", fmt.Errorf("invalid batch status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s BatchStatus) IsTerminal() bool {
	targets, ok := batchStatusTransitions[s]
	return ok && len(targets) == 0
}

// CanTransitionTo returns true if the status can transition to the target status.
func (s BatchStatus) CanTransitionTo(target BatchStatus) bool {
	for _, validTarget := range batchStatusTransitions[s] {
		if target == validTarget {
			return true
		}
	}
	return false
}

// AllBatchStatuses returns all valid batch statuses.
func AllBatchStatuses() []BatchStatus {
	return []BatchStatus{
		BatchStatusCreated,
		BatchStatusSubmitted,
		BatchStatusSubmissionFailed,
		BatchStatusCompleted,
		BatchStatusFailed,
		BatchStatusTimedOut,
		BatchStatusIngested,
	}
}
