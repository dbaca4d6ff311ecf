package entity

import (
	"fmt"
	"time"

	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
)

// Domain error codes raised by the job and batch entities.
const (
	CodeInvalidStageTransition  = "INVALID_STAGE_TRANSITION"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeInvalidBatch            = "INVALID_BATCH"
	CodeInvalidJob              = "INVALID_JOB"
)

// StageTransition is one entry of a job's audit trail.
type StageTransition struct {
	Stage valueobject.JobStage
	At    time.Time
}

// EmbeddingJob is one end-to-end orchestration run. It is never deleted; the
// stage history doubles as the audit trail.
type EmbeddingJob struct {
	id            uuid.UUID
	stage         valueobject.JobStage
	previousStage *valueobject.JobStage
	errors        []string
	transitions   []StageTransition
	createdAt     time.Time
	updatedAt     time.Time
	finishedAt    *time.Time
}

// EmbeddingJobSnapshot carries the persisted state of a job.
type EmbeddingJobSnapshot struct {
	ID            uuid.UUID
	Stage         valueobject.JobStage
	PreviousStage *valueobject.JobStage
	Errors        []string
	Transitions   []StageTransition
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// NewEmbeddingJob creates a job in the initializing stage.
func NewEmbeddingJob() *EmbeddingJob {
	now := time.Now()
	return &EmbeddingJob{
		id:          uuid.New(),
		stage:       valueobject.JobStageInitializing,
		transitions: []StageTransition{{Stage: valueobject.JobStageInitializing, At: now}},
		createdAt:   now,
		updatedAt:   now,
	}
}

// RestoreEmbeddingJob rebuilds a job from stored data.
func RestoreEmbeddingJob(s EmbeddingJobSnapshot) (*EmbeddingJob, error) {
	if s.ID == uuid.Nil {
		return nil, NewDomainError("job id is required", CodeInvalidJob)
	}
	if _, err := valueobject.NewJobStage(s.Stage.String()); err != nil {
		return nil, NewDomainError(err.Error(), CodeInvalidJob)
	}
	return &EmbeddingJob{
		id:            s.ID,
		stage:         s.Stage,
		previousStage: s.PreviousStage,
		errors:        append([]string(nil), s.Errors...),
		transitions:   append([]StageTransition(nil), s.Transitions...),
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		finishedAt:    s.FinishedAt,
	}, nil
}

// ID returns the job ID.
func (j *EmbeddingJob) ID() uuid.UUID {
	return j.id
}

// Namespace returns the vector index namespace owned by this job.
func (j *EmbeddingJob) Namespace() string {
	return j.id.String()
}

// Stage returns the current stage.
func (j *EmbeddingJob) Stage() valueobject.JobStage {
	return j.stage
}

// PreviousStage returns the last business stage before the job exited, if any.
func (j *EmbeddingJob) PreviousStage() *valueobject.JobStage {
	return j.previousStage
}

// Errors returns the error messages recorded against the job.
func (j *EmbeddingJob) Errors() []string {
	return append([]string(nil), j.errors...)
}

// Transitions returns the stage history.
func (j *EmbeddingJob) Transitions() []StageTransition {
	return append([]StageTransition(nil), j.transitions...)
}

// CreatedAt returns the creation timestamp.
func (j *EmbeddingJob) CreatedAt() time.Time {
	return j.createdAt
}

// UpdatedAt returns the last update timestamp.
func (j *EmbeddingJob) UpdatedAt() time.Time {
	return j.updatedAt
}

// FinishedAt returns when the job reached a terminal stage.
func (j *EmbeddingJob) FinishedAt() *time.Time {
	return j.finishedAt
}

// IsTerminal reports whether the job has finished.
func (j *EmbeddingJob) IsTerminal() bool {
	return j.stage.IsTerminal()
}

// TransitionTo moves the job to the target stage.
func (j *EmbeddingJob) TransitionTo(target valueobject.JobStage) error {
	if !j.stage.CanTransitionTo(target) {
		return NewDomainError(
			fmt.Sprintf("cannot transition job from %s to %s", j.stage, target),
			CodeInvalidStageTransition,
		)
	}

	now := time.Now()
	if target == valueobject.JobStageExited {
		previous := j.stage
		j.previousStage = &previous
	}
	j.stage = target
	j.transitions = append(j.transitions, StageTransition{Stage: target, At: now})
	j.updatedAt = now
	if target.IsTerminal() {
		j.finishedAt = &now
	}
	return nil
}

// Fail records the given errors and moves the job to failed.
func (j *EmbeddingJob) Fail(errs ...error) error {
	if j.IsTerminal() {
		return NewDomainError(
			fmt.Sprintf("cannot fail job in terminal stage %s", j.stage),
			CodeInvalidStageTransition,
		)
	}
	for _, err := range errs {
		if err != nil {
			j.errors = append(j.errors, err.Error())
		}
	}
	return j.TransitionTo(valueobject.JobStageFailed)
}

// Exit marks the job as exited by operator request.
func (j *EmbeddingJob) Exit() error {
	return j.TransitionTo(valueobject.JobStageExited)
}

// Snapshot returns the job state for persistence.
func (j *EmbeddingJob) Snapshot() EmbeddingJobSnapshot {
	return EmbeddingJobSnapshot{
		ID:            j.id,
		Stage:         j.stage,
		PreviousStage: j.previousStage,
		Errors:        j.Errors(),
		Transitions:   j.Transitions(),
		CreatedAt:     j.createdAt,
		UpdatedAt:     j.updatedAt,
		FinishedAt:    j.finishedAt,
	}
}
