package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

const maxOutputLineBytes = 16 * 1024 * 1024

// Reasons an output line is skipped.
const (
	SkipMalformed      = "malformed"
	SkipProviderError  = "provider_error"
	SkipBadStatus      = "bad_status"
	SkipNoEmbedding    = "no_embedding"
	SkipWrongDimension = "wrong_dimension"
)

// ResultIngestorConfig holds configuration for result ingestion.
type ResultIngestorConfig struct {
	Dimensions int
}

// IngestSummary counts what Ingest did.
type IngestSummary struct {
	Batches      int
	Vectors      int
	SkippedLines int
}

// ResultIngestor turns completed batch output into vector records.
type ResultIngestor struct {
	batches   outbound.BatchRepository
	documents outbound.DocumentRepository
	provider  outbound.BatchEmbeddingProvider
	index     outbound.VectorIndex
	config    ResultIngestorConfig
	metrics   *PipelineMetrics
}

// NewResultIngestor creates a new result ingestor.
func NewResultIngestor(
	batches outbound.BatchRepository,
	documents outbound.DocumentRepository,
	provider outbound.BatchEmbeddingProvider,
	index outbound.VectorIndex,
	config ResultIngestorConfig,
	metrics *PipelineMetrics,
) *ResultIngestor {
	if config.Dimensions <= 0 {
		config.Dimensions = 1536
	}
	return &ResultIngestor{
		batches:   batches,
		documents: documents,
		provider:  provider,
		index:     index,
		config:    config,
		metrics:   metrics,
	}
}

// outputLine is one record of a provider batch output file.
type outputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type parsedEmbedding struct {
	id     string
	vector []float32
}

// Ingest upserts the output of every completed batch of the job under the
// job's namespace and marks each batch ingested. Per-batch errors are logged
// and the next batch continues; only a repository read error is returned.
func (r *ResultIngestor) Ingest(ctx context.Context, jobID uuid.UUID) (IngestSummary, error) {
	var summary IngestSummary

	completed, err := r.batches.FindByStatus(ctx, jobID, valueobject.BatchStatusCompleted)
	if err != nil {
		return summary, fmt.Errorf("failed to get completed batches: %w", err)
	}
	if len(completed) == 0 {
		slogger.Info(ctx, "No completed batches to ingest", nil)
		return summary, nil
	}

	namespace := jobID.String()
	for _, batch := range completed {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		vectors, skipped, ok := r.ingestBatch(ctx, namespace, batch)
		summary.SkippedLines += skipped
		if !ok {
			continue
		}
		summary.Batches++
		summary.Vectors += vectors
	}

	slogger.Info(ctx, "Result ingestion finished", slogger.Fields{
		"batches_ingested": summary.Batches,
		"vectors":          summary.Vectors,
		"skipped_lines":    summary.SkippedLines,
		"namespace":        namespace,
	})
	return summary, nil
}

// ingestBatch ingests one batch and reports the vector count, the skipped
// line count and whether the batch reached ingested.
func (r *ResultIngestor) ingestBatch(
	ctx context.Context,
	namespace string,
	batch *entity.EmbeddingBatch,
) (int, int, bool) {
	fields := slogger.Fields{
		"batch_number":      batch.BatchNumber(),
		"provider_batch_id": batch.ProviderBatchID(),
	}

	if batch.OutputFileID() == "" {
		slogger.Warn(ctx, "Completed batch has no output file, skipping", fields)
		return 0, 0, false
	}
	fields["output_file_id"] = batch.OutputFileID()

	content, err := r.provider.FileContent(ctx, batch.OutputFileID())
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to fetch batch output", fields)
		return 0, 0, false
	}

	embeddings, skipped := r.parseOutput(ctx, content, batch.BatchNumber())

	ids := make([]string, 0, len(embeddings))
	for _, e := range embeddings {
		ids = append(ids, e.id)
	}
	docs, err := r.documents.FindByIDs(ctx, ids)
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to look up batch documents", fields)
		return 0, skipped, false
	}

	records := make([]entity.VectorRecord, 0, len(embeddings))
	for _, e := range embeddings {
		record, err := entity.NewVectorRecord(e.id, e.vector, r.config.Dimensions, docs[e.id].VectorMetadata())
		if err != nil {
			slogger.Warn(ctx, "Skipping invalid vector record", slogger.Fields{
				"custom_id":    e.id,
				"batch_number": batch.BatchNumber(),
				"error":        err.Error(),
			})
			skipped++
			continue
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		if err := r.index.Upsert(ctx, namespace, records); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to upsert batch vectors", fields)
			return 0, skipped, false
		}
		r.metrics.RecordVectorsUpserted(ctx, len(records))
	} else {
		slogger.Warn(ctx, "Batch output held no usable embeddings", fields)
	}

	if err := batch.MarkIngested(len(records)); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to mark batch ingested", fields)
		return len(records), skipped, false
	}
	if err := r.batches.Save(ctx, batch); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to save ingested batch", fields)
		return len(records), skipped, false
	}
	r.metrics.RecordOutcome(ctx, valueobject.BatchStatusIngested.String())

	fields["vector_count"] = len(records)
	fields["skipped_lines"] = skipped
	slogger.Info(ctx, "Batch ingested", fields)
	return len(records), skipped, true
}

// parseOutput extracts the first embedding of every usable output line.
func (r *ResultIngestor) parseOutput(ctx context.Context, content []byte, batchNumber int) ([]parsedEmbedding, int) {
	var (
		embeddings []parsedEmbedding
		skipped    int
	)
	skip := func(lineNumber int, customID, reason, detail string) {
		skipped++
		r.metrics.RecordSkippedLine(ctx, reason)
		slogger.Warn(ctx, "Skipping batch output line", slogger.Fields{
			"batch_number": batchNumber,
			"line":         lineNumber,
			"custom_id":    customID,
			"reason":       reason,
			"detail":       detail,
		})
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line outputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			skip(lineNumber, "", SkipMalformed, err.Error())
			continue
		}
		if line.CustomID == "" {
			skip(lineNumber, "", SkipMalformed, "missing custom_id")
			continue
		}
		if line.Error != nil {
			skip(lineNumber, line.CustomID, SkipProviderError, line.Error.Code+": "+line.Error.Message)
			continue
		}
		if line.Response == nil || line.Response.StatusCode != http.StatusOK {
			status := 0
			if line.Response != nil {
				status = line.Response.StatusCode
			}
			skip(lineNumber, line.CustomID, SkipBadStatus, fmt.Sprintf("status %d", status))
			continue
		}
		if len(line.Response.Body.Data) == 0 || len(line.Response.Body.Data[0].Embedding) == 0 {
			skip(lineNumber, line.CustomID, SkipNoEmbedding, "")
			continue
		}
		vector := line.Response.Body.Data[0].Embedding
		if len(vector) != r.config.Dimensions {
			skip(lineNumber, line.CustomID, SkipWrongDimension,
				fmt.Sprintf("got %d, want %d", len(vector), r.config.Dimensions))
			continue
		}
		embeddings = append(embeddings, parsedEmbedding{id: line.CustomID, vector: vector})
	}
	if err := scanner.Err(); err != nil {
		skip(lineNumber+1, "", SkipMalformed, err.Error())
	}
	return embeddings, skipped
}
