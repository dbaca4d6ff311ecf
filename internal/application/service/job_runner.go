package service

import (
	"context"
	"errors"
	"fmt"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

// JobStatus is a read-only view of a job and its batches.
type JobStatus struct {
	Job          *entity.EmbeddingJob
	BatchCounts  map[valueobject.BatchStatus]int
	TotalBatches int
	Vectors      int
}

// JobRunner creates, resumes and inspects embedding jobs.
type JobRunner struct {
	deps    Dependencies
	machine *JobStateMachine
}

// NewJobRunner creates a runner over deps.
func NewJobRunner(deps Dependencies) (*JobRunner, error) {
	machine, err := NewJobStateMachine(deps)
	if err != nil {
		return nil, err
	}
	return &JobRunner{deps: deps, machine: machine}, nil
}

// Start creates a new job and runs it to a terminal stage. The job record is
// created before the lock is taken, so a lock backend failure is recorded as
// a failed job.
func (r *JobRunner) Start(ctx context.Context) (Outcome, error) {
	job := entity.NewEmbeddingJob()
	if err := r.deps.Jobs.Create(ctx, job); err != nil {
		return Outcome{}, fmt.Errorf("failed to create job: %w", err)
	}
	jobCtx := slogger.WithJobID(ctx, job.ID())
	slogger.Info(jobCtx, "Job created", slogger.Fields{
		"namespace": job.Namespace(),
	})

	release, err := r.acquire(ctx, job.ID())
	if err != nil {
		return r.machine.fail(jobCtx, job, err)
	}
	defer release()

	return r.machine.Run(ctx, job)
}

// Resume continues a job from its persisted stage. Finished jobs are rejected
// with ErrJobTerminal.
func (r *JobRunner) Resume(ctx context.Context, jobID uuid.UUID) (Outcome, error) {
	release, err := r.acquire(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	job, err := r.deps.Jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			return Outcome{}, fmt.Errorf("job %s: %w", jobID, err)
		}
		return Outcome{}, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		return outcomeOf(job), fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Stage())
	}

	slogger.Info(slogger.WithJobID(ctx, jobID), "Resuming job", slogger.Fields{
		"stage": job.Stage().String(),
	})
	return r.machine.Run(ctx, job)
}

// Status loads a job and summarizes its batches.
func (r *JobRunner) Status(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	return LoadJobStatus(ctx, r.deps.Jobs, r.deps.Batches, jobID)
}

// LoadJobStatus reads a job and counts its batches by status.
func LoadJobStatus(
	ctx context.Context,
	jobs outbound.JobRepository,
	batches outbound.BatchRepository,
	jobID uuid.UUID,
) (*JobStatus, error) {
	job, err := jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	jobBatches, err := batches.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batches of job %s: %w", jobID, err)
	}

	status := &JobStatus{
		Job:          job,
		BatchCounts:  make(map[valueobject.BatchStatus]int),
		TotalBatches: len(jobBatches),
	}
	for _, b := range jobBatches {
		status.BatchCounts[b.Status()]++
		status.Vectors += b.VectorCount()
	}
	return status, nil
}

// acquire takes the job lock. The returned release never fails the run; it
// only logs.
func (r *JobRunner) acquire(ctx context.Context, jobID uuid.UUID) (func(), error) {
	if r.deps.Lock == nil {
		return func() {}, nil
	}
	unlock, err := r.deps.Lock.Acquire(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			slogger.Warn(ctx, "Failed to release job lock", slogger.Fields{
				"job_id": jobID.String(),
				"error":  err.Error(),
			})
		}
	}, nil
}
