package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"
)

var (
	// ErrJobTerminal is returned when a finished job is asked to run again.
	ErrJobTerminal = errors.New("job already reached a terminal stage")
	// ErrProcessTerminated is the cancellation cause of a run stopped by the
	// process manager. The job keeps its persisted stage and can be resumed.
	ErrProcessTerminated = errors.New("process terminated")
)

// ExitCodeTerminated is the exit status of a suspended run (128 + SIGTERM).
const ExitCodeTerminated = 143

// Outcome is the result of a job run. Suspended outcomes carry the
// non-terminal stage the job was left in.
type Outcome struct {
	JobID         string
	Stage         valueobject.JobStage
	PreviousStage *valueobject.JobStage
	Errors        []string
	Suspended     bool
}

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch {
	case o.Suspended:
		return ExitCodeTerminated
	case o.Stage == valueobject.JobStageFailed:
		return 1
	default:
		return 0
	}
}

func outcomeOf(job *entity.EmbeddingJob) Outcome {
	return Outcome{
		JobID:         job.ID().String(),
		Stage:         job.Stage(),
		PreviousStage: job.PreviousStage(),
		Errors:        job.Errors(),
	}
}

type stageHandler func(ctx context.Context, job *entity.EmbeddingJob) error

// JobStateMachine sequences a job through its stages. Each transition is
// persisted before the work of the new stage starts.
type JobStateMachine struct {
	deps     Dependencies
	handlers map[valueobject.JobStage]stageHandler
}

// NewJobStateMachine creates a state machine over deps.
func NewJobStateMachine(deps Dependencies) (*JobStateMachine, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job dependencies: %w", err)
	}
	m := &JobStateMachine{deps: deps}
	m.handlers = map[valueobject.JobStage]stageHandler{
		valueobject.JobStageInitializing:    m.initialize,
		valueobject.JobStageBuildingBatches: m.buildBatches,
		valueobject.JobStageCheckingStatus:  m.checkStatus,
		valueobject.JobStageUpdatingIndex:   m.updateIndex,
	}
	return m, nil
}

// Run advances job from its current stage until it reaches a terminal stage.
// Stage errors and panics fail the job. Cancellation of ctx exits it, unless
// the cause is ErrProcessTerminated, which suspends it instead. The
// returned error is non-nil only when the job state could not be persisted.
func (m *JobStateMachine) Run(ctx context.Context, job *entity.EmbeddingJob) (Outcome, error) {
	if job.IsTerminal() {
		return outcomeOf(job), fmt.Errorf("%w: %s is %s", ErrJobTerminal, job.ID(), job.Stage())
	}
	ctx = slogger.WithJobID(ctx, job.ID())

	slogger.Info(ctx, "Job run started", slogger.Fields{"stage": job.Stage().String()})

	for !job.IsTerminal() {
		stage := job.Stage()
		if ctx.Err() != nil {
			return m.stop(ctx, job)
		}

		handler, ok := m.handlers[stage]
		if !ok {
			return m.fail(ctx, job, fmt.Errorf("no handler for stage %s", stage))
		}

		start := time.Now()
		err := m.runStage(ctx, stage, handler, job)
		elapsed := time.Since(start)

		switch {
		case ctx.Err() != nil:
			m.deps.Metrics.RecordStage(ctx, stage, StageResultCancelled, elapsed)
			slogger.Warn(ctx, "Job interrupted", slogger.Fields{"stage": stage.String()})
			return m.stop(ctx, job)
		case err != nil:
			m.deps.Metrics.RecordStage(ctx, stage, StageResultError, elapsed)
			return m.fail(ctx, job, err)
		}
		m.deps.Metrics.RecordStage(ctx, stage, StageResultOK, elapsed)
		slogger.Info(ctx, "Stage finished", slogger.Fields{
			"stage":    stage.String(),
			"duration": elapsed.String(),
		})

		next, _ := stage.Next()
		if err := m.transition(ctx, job, func() error { return job.TransitionTo(next) }, ""); err != nil {
			return outcomeOf(job), err
		}
	}

	m.finished(ctx, job)
	return outcomeOf(job), nil
}

// runStage calls handler, converting a panic into an error.
func (m *JobStateMachine) runStage(
	ctx context.Context,
	stage valueobject.JobStage,
	handler stageHandler,
	job *entity.EmbeddingJob,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage, r)
			slogger.Error(ctx, "Stage handler panicked", slogger.Fields{
				"stage": stage.String(),
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
	}()
	return handler(ctx, job)
}

// transition applies mutate, persists the job and publishes the stage change.
func (m *JobStateMachine) transition(
	ctx context.Context,
	job *entity.EmbeddingJob,
	mutate func() error,
	errMsg string,
) error {
	from := job.Stage()
	if err := mutate(); err != nil {
		return err
	}
	if err := m.deps.Jobs.Save(ctx, job); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to persist job stage", slogger.Fields{
			"from": from.String(),
			"to":   job.Stage().String(),
		})
		return fmt.Errorf("failed to persist job stage %s: %w", job.Stage(), err)
	}

	slogger.Info(ctx, "Job stage changed", slogger.Fields{
		"from": from.String(),
		"to":   job.Stage().String(),
	})
	m.publish(ctx, outbound.JobStageChangedEvent{
		JobID: job.ID(),
		From:  from,
		To:    job.Stage(),
		At:    job.UpdatedAt(),
		Error: errMsg,
	})
	return nil
}

func (m *JobStateMachine) publish(ctx context.Context, event outbound.JobStageChangedEvent) {
	if m.deps.Events == nil {
		return
	}
	if err := m.deps.Events.PublishStageChanged(ctx, event); err != nil {
		slogger.Warn(ctx, "Failed to publish job stage event", slogger.Fields{
			"to":    event.To.String(),
			"error": err.Error(),
		})
	}
}

// fail records err against the job and moves it to failed. A joined error is
// recorded as one message per member.
func (m *JobStateMachine) fail(ctx context.Context, job *entity.EmbeddingJob, err error) (Outcome, error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	slogger.ErrorWithError(ctx, err, "Job failed", slogger.Fields{"stage": job.Stage().String()})
	persistCtx := context.WithoutCancel(ctx)
	if perr := m.transition(persistCtx, job, func() error { return job.Fail(errs...) }, err.Error()); perr != nil {
		return outcomeOf(job), perr
	}
	m.finished(persistCtx, job)
	return outcomeOf(job), nil
}

// stop ends a cancelled run. A terminated process leaves the job at its
// persisted stage; any other cancellation exits it.
func (m *JobStateMachine) stop(ctx context.Context, job *entity.EmbeddingJob) (Outcome, error) {
	if !errors.Is(context.Cause(ctx), ErrProcessTerminated) {
		return m.exit(ctx, job)
	}
	slogger.Warn(ctx, "Job suspended, resume it to continue", slogger.Fields{
		"stage": job.Stage().String(),
	})
	outcome := outcomeOf(job)
	outcome.Suspended = true
	return outcome, nil
}

// exit moves the job to exited. It persists with a context that outlives the
// cancelled run.
func (m *JobStateMachine) exit(ctx context.Context, job *entity.EmbeddingJob) (Outcome, error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := m.transition(persistCtx, job, job.Exit, ""); err != nil {
		return outcomeOf(job), err
	}
	m.finished(persistCtx, job)
	return outcomeOf(job), nil
}

func (m *JobStateMachine) finished(ctx context.Context, job *entity.EmbeddingJob) {
	m.deps.Metrics.RecordJobFinished(ctx, job.Stage())
	fields := slogger.Fields{
		"stage":    job.Stage().String(),
		"duration": job.UpdatedAt().Sub(job.CreatedAt()).String(),
	}
	if previous := job.PreviousStage(); previous != nil {
		fields["previous_stage"] = previous.String()
	}
	if errs := job.Errors(); len(errs) > 0 {
		fields["errors"] = strings.Join(errs, "; ")
	}
	slogger.Info(ctx, "Job finished", fields)
}

// initialize runs every dependency probe and reports all failures together.
func (m *JobStateMachine) initialize(ctx context.Context, _ *entity.EmbeddingJob) error {
	var errs []error
	for _, probe := range m.deps.Probes {
		if err := probe.Probe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slogger.ErrorWithError(ctx, err, "Dependency probe failed", slogger.Fields{"dependency": probe.Name()})
			errs = append(errs, fmt.Errorf("%s: %w", probe.Name(), err))
			continue
		}
		slogger.Debug(ctx, "Dependency probe passed", slogger.Fields{"dependency": probe.Name()})
	}
	return errors.Join(errs...)
}

func (m *JobStateMachine) buildBatches(ctx context.Context, job *entity.EmbeddingJob) error {
	batches, err := m.deps.Builder.Build(ctx, job.ID())
	if err != nil {
		return fmt.Errorf("failed to build batches: %w", err)
	}
	summary, err := m.deps.Submitter.SubmitPending(ctx, job.ID())
	if err != nil {
		return fmt.Errorf("failed to submit batches: %w", err)
	}
	slogger.Info(ctx, "Batches built and submitted", slogger.Fields{
		"batch_count": len(batches),
		"submitted":   summary.Submitted,
		"failed":      summary.Failed,
	})
	return nil
}

func (m *JobStateMachine) checkStatus(ctx context.Context, job *entity.EmbeddingJob) error {
	summary, err := m.deps.Poller.PollUntilDrained(ctx, job.ID())
	if err != nil {
		return fmt.Errorf("failed to poll batches: %w", err)
	}
	slogger.Info(ctx, "Batch polling finished", slogger.Fields{
		"passes":    summary.Passes,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"timed_out": summary.TimedOut,
	})
	return nil
}

func (m *JobStateMachine) updateIndex(ctx context.Context, job *entity.EmbeddingJob) error {
	summary, err := m.deps.Ingestor.Ingest(ctx, job.ID())
	if err != nil {
		return fmt.Errorf("failed to ingest results: %w", err)
	}
	slogger.Info(ctx, "Index updated", slogger.Fields{
		"namespace":     job.Namespace(),
		"batches":       summary.Batches,
		"vectors":       summary.Vectors,
		"skipped_lines": summary.SkippedLines,
	})
	return nil
}
