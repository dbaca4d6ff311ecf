package worker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names following OpenTelemetry semantic conventions.
const (
	BatchesCreatedCounterName   = "embedjob_batches_created_total"
	BatchesSubmittedCounterName = "embedjob_batches_submitted_total"
	SubmissionErrorsCounterName = "embedjob_submission_errors_total"
	BatchOutcomesCounterName    = "embedjob_batch_outcomes_total"
	PollPassesCounterName       = "embedjob_poll_passes_total"
	VectorsUpsertedCounterName  = "embedjob_vectors_upserted_total"
	SkippedLinesCounterName     = "embedjob_output_lines_skipped_total"
)

// Attribute keys.
const (
	AttrOutcome    = "outcome"     // completed, failed, timed_out, submission_failed, ingested
	AttrRateLimit  = "rate_limited" // true, false
	AttrSkipReason = "reason"
)

// PipelineMetrics records batch pipeline counters. A nil *PipelineMetrics
// records nothing.
type PipelineMetrics struct {
	batchesCreated   metric.Int64Counter
	batchesSubmitted metric.Int64Counter
	submissionErrors metric.Int64Counter
	batchOutcomes    metric.Int64Counter
	pollPasses       metric.Int64Counter
	vectorsUpserted  metric.Int64Counter
	skippedLines     metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on meter, or on the
// global meter provider when meter is nil.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = otel.Meter("embeddingjob/worker", metric.WithInstrumentationVersion("1.0.0"))
	}

	counter := func(name, description string) (metric.Int64Counter, error) {
		return meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("1"))
	}

	m := &PipelineMetrics{}
	var err error
	if m.batchesCreated, err = counter(BatchesCreatedCounterName, "Batches partitioned and persisted"); err != nil {
		return nil, err
	}
	if m.batchesSubmitted, err = counter(BatchesSubmittedCounterName, "Batches accepted by the provider"); err != nil {
		return nil, err
	}
	if m.submissionErrors, err = counter(SubmissionErrorsCounterName, "Failed submission attempts"); err != nil {
		return nil, err
	}
	if m.batchOutcomes, err = counter(BatchOutcomesCounterName, "Batches reaching a status after submission"); err != nil {
		return nil, err
	}
	if m.pollPasses, err = counter(PollPassesCounterName, "Status polling passes"); err != nil {
		return nil, err
	}
	if m.vectorsUpserted, err = counter(VectorsUpsertedCounterName, "Vector records upserted into the index"); err != nil {
		return nil, err
	}
	if m.skippedLines, err = counter(SkippedLinesCounterName, "Output lines skipped during ingestion"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordBatchesCreated counts newly partitioned batches.
func (m *PipelineMetrics) RecordBatchesCreated(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.batchesCreated.Add(ctx, int64(n))
}

// RecordSubmitted counts a batch accepted by the provider.
func (m *PipelineMetrics) RecordSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.batchesSubmitted.Add(ctx, 1)
}

// RecordSubmissionError counts a failed submission attempt.
func (m *PipelineMetrics) RecordSubmissionError(ctx context.Context, rateLimited bool) {
	if m == nil {
		return
	}
	m.submissionErrors.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrRateLimit, rateLimited)))
}

// RecordOutcome counts a batch reaching outcome.
func (m *PipelineMetrics) RecordOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.batchOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}

// RecordPollPass counts one polling pass.
func (m *PipelineMetrics) RecordPollPass(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollPasses.Add(ctx, 1)
}

// RecordVectorsUpserted counts upserted vectors.
func (m *PipelineMetrics) RecordVectorsUpserted(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.vectorsUpserted.Add(ctx, int64(n))
}

// RecordSkippedLine counts an unusable output line.
func (m *PipelineMetrics) RecordSkippedLine(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.skippedLines.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrSkipReason, reason)))
}
