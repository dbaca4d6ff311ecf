package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

// ErrEmptyPayload is returned when none of a batch's documents can be read.
var ErrEmptyPayload = errors.New("batch has no readable documents")

// BatchBuilderConfig holds the document selection and request format.
type BatchBuilderConfig struct {
	BatchSize      int
	DisplayedSince time.Time
	PublishedState string
	MaxDocuments   int
	Model          string
	Endpoint       string
	EncodingFormat string
}

// BatchRequest is one line of a provider batch input file.
type BatchRequest struct {
	CustomID string           `json:"custom_id"`
	Method   string           `json:"method"`
	URL      string           `json:"url"`
	Body     EmbeddingRequest `json:"body"`
}

// EmbeddingRequest is the embeddings call carried by a batch request.
type EmbeddingRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
}

// BatchBuilder partitions the selected documents into persisted batches and
// renders their provider payloads.
type BatchBuilder struct {
	documents outbound.DocumentRepository
	batches   outbound.BatchRepository
	text      *InputTextBuilder
	config    BatchBuilderConfig
	metrics   *PipelineMetrics
}

// NewBatchBuilder creates a new batch builder with default values applied.
func NewBatchBuilder(
	documents outbound.DocumentRepository,
	batches outbound.BatchRepository,
	text *InputTextBuilder,
	config BatchBuilderConfig,
	metrics *PipelineMetrics,
) *BatchBuilder {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Endpoint == "" {
		config.Endpoint = "/v1/embeddings"
	}
	if config.EncodingFormat == "" {
		config.EncodingFormat = "float"
	}
	if text == nil {
		text = NewInputTextBuilder(nil, 0)
	}
	return &BatchBuilder{
		documents: documents,
		batches:   batches,
		text:      text,
		config:    config,
		metrics:   metrics,
	}
}

// Build returns the job's batches. A job with a complete set of batches gets
// them back unchanged. Otherwise the selected documents are partitioned into
// batches of at most BatchSize in cursor order, each persisted as created.
// When an earlier run stopped part way, only documents not yet recorded in a
// batch are partitioned, under the batch numbers still free.
func (b *BatchBuilder) Build(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error) {
	existing, err := b.batches.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing batches: %w", err)
	}
	if len(existing) > 0 && len(existing) >= recordedTotal(existing) {
		slogger.Info(ctx, "Reusing batches from an earlier run", slogger.Fields{
			"batch_count": len(existing),
		})
		return existing, nil
	}

	if err := b.documents.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure document indexes: %w", err)
	}

	ids, err := b.selectDocumentIDs(ctx)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		slogger.Warn(ctx, "Completing a partially built batch set", slogger.Fields{
			"batch_count":    len(existing),
			"recorded_total": recordedTotal(existing),
		})
		ids = withoutRecorded(ids, existing)
	}

	partitions := partition(ids, b.config.BatchSize)
	total := len(existing) + len(partitions)
	if recorded := recordedTotal(existing); recorded > total {
		total = recorded
	}
	numbers := freeBatchNumbers(existing, total, len(partitions))

	batches := make([]*entity.EmbeddingBatch, 0, total)
	batches = append(batches, existing...)
	for i, documentIDs := range partitions {
		batch, err := entity.NewEmbeddingBatch(jobID, numbers[i], total, documentIDs)
		if err != nil {
			return nil, err
		}
		if err := b.batches.Save(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to save batch %d: %w", batch.BatchNumber(), err)
		}
		batches = append(batches, batch)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].BatchNumber() < batches[j].BatchNumber() })
	b.metrics.RecordBatchesCreated(ctx, len(partitions))

	slogger.Info(ctx, "Batches created", slogger.Fields{
		"document_count": len(ids),
		"batch_count":    len(partitions),
		"batch_size":     b.config.BatchSize,
	})
	return batches, nil
}

// recordedTotal is the largest batch total recorded on any of batches.
func recordedTotal(batches []*entity.EmbeddingBatch) int {
	total := 0
	for _, batch := range batches {
		if batch.TotalBatches() > total {
			total = batch.TotalBatches()
		}
	}
	return total
}

// withoutRecorded drops the IDs already assigned to one of batches.
func withoutRecorded(ids []string, batches []*entity.EmbeddingBatch) []string {
	recorded := make(map[string]struct{})
	for _, batch := range batches {
		for _, id := range batch.DocumentIDs() {
			recorded[id] = struct{}{}
		}
	}
	remaining := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := recorded[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// freeBatchNumbers returns the first n numbers in 1..total not used by batches.
func freeBatchNumbers(batches []*entity.EmbeddingBatch, total, n int) []int {
	used := make(map[int]struct{}, len(batches))
	for _, batch := range batches {
		used[batch.BatchNumber()] = struct{}{}
	}
	numbers := make([]int, 0, n)
	for number := 1; number <= total && len(numbers) < n; number++ {
		if _, ok := used[number]; !ok {
			numbers = append(numbers, number)
		}
	}
	return numbers
}

// selectDocumentIDs pages through the query and returns unique IDs in cursor order.
func (b *BatchBuilder) selectDocumentIDs(ctx context.Context) ([]string, error) {
	query := outbound.DocumentQuery{
		DisplayedSince: b.config.DisplayedSince,
		State:          b.config.PublishedState,
		Limit:          b.config.MaxDocuments,
	}

	total, err := b.documents.CountPublished(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	slogger.Info(ctx, "Documents selected for embedding", slogger.Fields{
		"document_count":  total,
		"displayed_since": b.config.DisplayedSince.Format(time.RFC3339),
		"state":           b.config.PublishedState,
	})

	ids := make([]string, 0, total)
	seen := make(map[string]struct{}, total)
	for skip := 0; skip < total; skip += b.config.BatchSize {
		page, err := b.documents.FindPublished(ctx, query, skip, b.config.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read documents at offset %d: %w", skip, err)
		}
		if len(page) == 0 {
			break
		}
		for _, doc := range page {
			if _, dup := seen[doc.ID]; dup {
				slogger.Warn(ctx, "Dropping duplicate document", slogger.Fields{"document_id": doc.ID})
				continue
			}
			seen[doc.ID] = struct{}{}
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

// Payload renders the JSONL input file of a batch from its recorded document
// IDs. Documents that no longer exist are left out.
func (b *BatchBuilder) Payload(ctx context.Context, batch *entity.EmbeddingBatch) ([]byte, error) {
	ids := batch.DocumentIDs()
	docs, err := b.documents.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents of batch %d: %w", batch.BatchNumber(), err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	written := 0
	for _, id := range ids {
		doc, ok := docs[id]
		if !ok {
			slogger.Warn(ctx, "Document disappeared before submission", slogger.Fields{
				"document_id":  id,
				"batch_number": batch.BatchNumber(),
			})
			continue
		}
		if err := encoder.Encode(b.request(doc)); err != nil {
			return nil, fmt.Errorf("failed to encode request for document %s: %w", id, err)
		}
		written++
	}
	if written == 0 {
		return nil, ErrEmptyPayload
	}
	return buf.Bytes(), nil
}

func (b *BatchBuilder) request(doc *entity.Document) BatchRequest {
	return BatchRequest{
		CustomID: doc.ID,
		Method:   "POST",
		URL:      b.config.Endpoint,
		Body: EmbeddingRequest{
			Model:          b.config.Model,
			Input:          b.text.Build(doc),
			EncodingFormat: b.config.EncodingFormat,
		},
	}
}

// partition splits ids into consecutive groups of at most size.
func partition(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		groups = append(groups, ids[start:end])
	}
	return groups
}
