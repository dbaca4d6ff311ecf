package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"embeddingjob/internal/adapter/outbound/mongodb"
	"embeddingjob/internal/application/service"
	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// statusView is the YAML rendering of a job status.
type statusView struct {
	JobID         string         `yaml:"job_id"`
	Stage         string         `yaml:"stage"`
	PreviousStage string         `yaml:"previous_stage,omitempty"`
	CreatedAt     time.Time      `yaml:"created_at"`
	UpdatedAt     time.Time      `yaml:"updated_at"`
	FinishedAt    *time.Time     `yaml:"finished_at,omitempty"`
	Errors        []string       `yaml:"errors,omitempty"`
	TotalBatches  int            `yaml:"total_batches"`
	Batches       map[string]int `yaml:"batches"`
	Vectors       int            `yaml:"vectors"`
}

func newStatusView(status *service.JobStatus) statusView {
	job := status.Job
	view := statusView{
		JobID:        job.ID().String(),
		Stage:        job.Stage().String(),
		CreatedAt:    job.CreatedAt(),
		UpdatedAt:    job.UpdatedAt(),
		FinishedAt:   job.FinishedAt(),
		Errors:       job.Errors(),
		TotalBatches: status.TotalBatches,
		Batches:      make(map[string]int),
		Vectors:      status.Vectors,
	}
	if previous := job.PreviousStage(); previous != nil {
		view.PreviousStage = previous.String()
	}
	for _, s := range valueobject.AllBatchStatuses() {
		if n := status.BatchCounts[s]; n > 0 {
			view.Batches[s.String()] = n
		}
	}
	return view
}

func writeStatus(w io.Writer, status *service.JobStatus) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newStatusView(status)); err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return enc.Close()
}

func newStatusCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted stage and batch counts of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(jobID)
			if err != nil {
				return fmt.Errorf("invalid --job-id %q: %w", jobID, err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := configureLogging(cfg); err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := connectMongo(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

			status, err := service.LoadJobStatus(ctx,
				mongodb.NewJobRepository(conn), mongodb.NewBatchRepository(conn), id)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), status)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "id of the job")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newStatusCmd())
}
