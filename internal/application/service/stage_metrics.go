package service

import (
	"context"
	"time"

	"embeddingjob/internal/domain/valueobject"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	StageDurationHistogramName = "embedjob_stage_duration_seconds"
	JobsFinishedCounterName    = "embedjob_jobs_finished_total"
)

// Attribute keys.
const (
	AttrStage  = "stage"
	AttrResult = "result" // ok, error, cancelled
)

// Stage results.
const (
	StageResultOK        = "ok"
	StageResultError     = "error"
	StageResultCancelled = "cancelled"
)

// stageDurationBuckets spans sub-second probes up to a full day of polling.
var stageDurationBuckets = []float64{0.1, 1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600, 25 * 3600} //nolint:gochecknoglobals // bucket boundaries

// StageMetrics records job engine instruments. A nil *StageMetrics records nothing.
type StageMetrics struct {
	stageDuration metric.Float64Histogram
	jobsFinished  metric.Int64Counter
}

// NewStageMetrics creates the job engine instruments on meter, or on the
// global meter provider when meter is nil.
func NewStageMetrics(meter metric.Meter) (*StageMetrics, error) {
	if meter == nil {
		meter = otel.Meter("embeddingjob/service", metric.WithInstrumentationVersion("1.0.0"))
	}

	stageDuration, err := meter.Float64Histogram(
		StageDurationHistogramName,
		metric.WithDescription("Time spent running a job stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageDurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	jobsFinished, err := meter.Int64Counter(
		JobsFinishedCounterName,
		metric.WithDescription("Jobs reaching a terminal stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &StageMetrics{stageDuration: stageDuration, jobsFinished: jobsFinished}, nil
}

// RecordStage records how long stage ran and how it ended.
func (m *StageMetrics) RecordStage(ctx context.Context, stage valueobject.JobStage, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(AttrStage, stage.String()),
		attribute.String(AttrResult, result),
	))
}

// RecordJobFinished counts a job reaching the terminal stage.
func (m *StageMetrics) RecordJobFinished(ctx context.Context, stage valueobject.JobStage) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStage, stage.String())))
}
