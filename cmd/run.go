package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/application/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type jobStarter func(ctx context.Context, runner *service.JobRunner) (service.Outcome, error)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create a new embedding job and run it to completion",
		Long: `Create a new embedding job and drive it through every stage until it has
succeeded, failed or exited.

SIGINT stops the job at the next safe point and records it as exited.
SIGTERM stops the process but leaves the job at its persisted stage, so
"embedjob resume" can continue it, as it can any job whose process died.
The process exits 1 when the job fails and 143 when it is suspended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, func(ctx context.Context, runner *service.JobRunner) (service.Outcome, error) {
				return runner.Start(ctx)
			})
		},
	}
}

func newResumeCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an unfinished job from its persisted stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(jobID)
			if err != nil {
				return fmt.Errorf("invalid --job-id %q: %w", jobID, err)
			}
			return runJob(cmd, func(ctx context.Context, runner *service.JobRunner) (service.Outcome, error) {
				return runner.Resume(ctx, id)
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "id of the job to resume")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

// runJob bootstraps the application, runs start under a signal-aware context
// and maps the outcome to the exit status.
func runJob(cmd *cobra.Command, start jobStarter) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := configureLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	outcome, runErr := start(ctx, app.runner)
	app.meters.Log(context.WithoutCancel(ctx))

	if outcome.JobID != "" {
		if err := writeOutcome(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	}
	if runErr != nil {
		slogger.ErrorWithError(ctx, runErr, "Job run did not complete", slogger.Fields{"job_id": outcome.JobID})
		return runErr
	}
	if code := outcome.ExitCode(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM. SIGTERM cancels with
// service.ErrProcessTerminated so the job is suspended rather than exited.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-signals:
			cancel(signalCause(sig))
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		close(done)
		cancel(nil)
	}
}

func signalCause(sig os.Signal) error {
	if sig == syscall.SIGTERM {
		return service.ErrProcessTerminated
	}
	return context.Canceled
}

func writeOutcome(w io.Writer, outcome service.Outcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s: %s", outcome.JobID, outcome.Stage)
	if outcome.Suspended {
		b.WriteString(" (suspended)")
	} else if outcome.PreviousStage != nil {
		fmt.Fprintf(&b, " (from %s)", *outcome.PreviousStage)
	}
	b.WriteString("\n")
	for _, e := range outcome.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResumeCmd())
}
