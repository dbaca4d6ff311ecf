package valueobject

import "fmt"

// JobStage represents the stage an embedding job is currently in.
type JobStage string

// Job stage constants.
const (
	JobStageInitializing    JobStage = "initializing"
	JobStageBuildingBatches JobStage = "building_batches"
	JobStageCheckingStatus  JobStage = "checking_status"
	JobStageUpdatingIndex   JobStage = "updating_index"
	JobStageSucceeded       JobStage = "succeeded"
	JobStageFailed          JobStage = "failed"
	JobStageExited          JobStage = "exited"
)

// jobStageOrder lists the business stages in the order a job walks through them.
var jobStageOrder = []JobStage{
	JobStageInitializing,
	JobStageBuildingBatches,
	JobStageCheckingStatus,
	JobStageUpdatingIndex,
	JobStageSucceeded,
}

var validJobStages = map[JobStage]bool{
	JobStageInitializing:    true,
	JobStageBuildingBatches: true,
	JobStageCheckingStatus:  true,
	JobStageUpdatingIndex:   true,
	JobStageSucceeded:       true,
	JobStageFailed:          true,
	JobStageExited:          true,
}

// NewJobStage creates a new JobStage with validation.
func NewJobStage(stage string) (JobStage, error) {
	s := JobStage(stage)
	if !validJobStages[s] {
		return "", fmt.Errorf("invalid job stage: %s", stage)
	}
	return s, nil
}

// String returns the string representation of the stage.
func (s JobStage) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition is possible from this stage.
func (s JobStage) IsTerminal() bool {
	return s == JobStageSucceeded || s == JobStageFailed || s == JobStageExited
}

// Next returns the business stage that follows s. The second return value
// is false for terminal stages.
func (s JobStage) Next() (JobStage, bool) {
	for i, stage := range jobStageOrder {
		if stage == s && i+1 < len(jobStageOrder) {
			return jobStageOrder[i+1], true
		}
	}
	return "", false
}

// CanTransitionTo returns true if the stage can transition to the target stage.
// Every non-terminal stage may shortcut to failed or exited.
func (s JobStage) CanTransitionTo(target JobStage) bool {
	if s.IsTerminal() || !validJobStages[target] {
		return false
	}
	if target == JobStageFailed || target == JobStageExited {
		return true
	}
	next, ok := s.Next()
	return ok && next == target
}

// AllJobStages returns all valid job stages in walk order, followed by the shortcut stages.
func AllJobStages() []JobStage {
	stages := make([]JobStage, 0, len(validJobStages))
	stages = append(stages, jobStageOrder...)
	return append(stages, JobStageFailed, JobStageExited)
}
