package mongodb

import (
	"context"
	"fmt"
	"time"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// batchRecord is the batch tracking document.
type batchRecord struct {
	ID                 string     `bson:"_id"`
	JobID              string     `bson:"jobId"`
	BatchNumber        int        `bson:"batchNumber"`
	TotalBatches       int        `bson:"totalBatches"`
	ArticleIDs         []string   `bson:"articleIds"`
	Status             string     `bson:"status"`
	InputFileID        string     `bson:"openaiInputFileId,omitempty"`
	ProviderBatchID    string     `bson:"openaiBatchId,omitempty"`
	OutputFileID       string     `bson:"openaiOutputFileId,omitempty"`
	ErrorFileID        string     `bson:"openaiErrorFileId,omitempty"`
	SubmissionAttempts int        `bson:"submissionAttempts"`
	LastError          string     `bson:"lastError,omitempty"`
	VectorCount        int        `bson:"vectorCount"`
	CreatedAt          time.Time  `bson:"createdAt"`
	UpdatedAt          time.Time  `bson:"updatedAt"`
	SubmittedAt        *time.Time `bson:"submittedAt,omitempty"`
	CompletedAt        *time.Time `bson:"completedAt,omitempty"`
	FailedAt           *time.Time `bson:"failedAt,omitempty"`
	TimedOutAt         *time.Time `bson:"timedOutAt,omitempty"`
	UpsertedAt         *time.Time `bson:"upsertedAt,omitempty"`
}

// BatchRepository persists batch tracking documents.
type BatchRepository struct {
	collection *mongo.Collection
}

// NewBatchRepository creates a batch repository on the batches collection.
func NewBatchRepository(conn *Connection) *BatchRepository {
	return &BatchRepository{collection: conn.collection(conn.collections.Batches)}
}

// EnsureIndexes creates the job/status lookup index.
func (r *BatchRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "jobId", Value: 1}, {Key: "status", Value: 1}, {Key: "batchNumber", Value: 1}},
	})
	return wrapError(err, "create batch index")
}

// Save upserts a batch by its ID.
func (r *BatchRepository) Save(ctx context.Context, batch *entity.EmbeddingBatch) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": batch.ID().String()},
		newBatchRecord(batch),
		options.Replace().SetUpsert(true),
	)
	return wrapError(err, fmt.Sprintf("save batch %d", batch.BatchNumber()))
}

// FindByJobID returns every batch of the job ordered by batch number.
func (r *BatchRepository) FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error) {
	return r.find(ctx, bson.M{"jobId": jobID.String()}, "find batches")
}

// FindByStatus returns the job's batches in status ordered by batch number.
func (r *BatchRepository) FindByStatus(
	ctx context.Context,
	jobID uuid.UUID,
	status valueobject.BatchStatus,
) ([]*entity.EmbeddingBatch, error) {
	return r.find(ctx, bson.M{"jobId": jobID.String(), "status": status.String()}, "find "+status.String()+" batches")
}

// CountByStatus counts the job's batches in status.
func (r *BatchRepository) CountByStatus(
	ctx context.Context,
	jobID uuid.UUID,
	status valueobject.BatchStatus,
) (int, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"jobId": jobID.String(), "status": status.String()})
	if err != nil {
		return 0, wrapError(err, "count "+status.String()+" batches")
	}
	return int(n), nil
}

func (r *BatchRepository) find(ctx context.Context, filter bson.M, operation string) ([]*entity.EmbeddingBatch, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "batchNumber", Value: 1}}))
	if err != nil {
		return nil, wrapError(err, operation)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var batches []*entity.EmbeddingBatch
	for cursor.Next(ctx) {
		var record batchRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, wrapError(err, operation)
		}
		batch, err := record.toEntity()
		if err != nil {
			return nil, fmt.Errorf("invalid stored batch %s: %w", record.ID, err)
		}
		batches = append(batches, batch)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapError(err, operation)
	}
	return batches, nil
}

func newBatchRecord(batch *entity.EmbeddingBatch) batchRecord {
	s := batch.Snapshot()
	return batchRecord{
		ID:                 s.ID.String(),
		JobID:              s.JobID.String(),
		BatchNumber:        s.BatchNumber,
		TotalBatches:       s.TotalBatches,
		ArticleIDs:         s.DocumentIDs,
		Status:             s.Status.String(),
		InputFileID:        s.InputFileID,
		ProviderBatchID:    s.ProviderBatchID,
		OutputFileID:       s.OutputFileID,
		ErrorFileID:        s.ErrorFileID,
		SubmissionAttempts: s.SubmissionAttempts,
		LastError:          s.LastError,
		VectorCount:        s.VectorCount,
		CreatedAt:          s.CreatedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
		SubmittedAt:        utcPtr(s.SubmittedAt),
		CompletedAt:        utcPtr(s.CompletedAt),
		FailedAt:           utcPtr(s.FailedAt),
		TimedOutAt:         utcPtr(s.TimedOutAt),
		UpsertedAt:         utcPtr(s.IngestedAt),
	}
}

func (r batchRecord) toEntity() (*entity.EmbeddingBatch, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid batch id: %w", err)
	}
	jobID, err := uuid.Parse(r.JobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", r.JobID, err)
	}
	status, err := valueobject.NewBatchStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return entity.RestoreEmbeddingBatch(entity.EmbeddingBatchSnapshot{
		ID:                 id,
		JobID:              jobID,
		BatchNumber:        r.BatchNumber,
		TotalBatches:       r.TotalBatches,
		DocumentIDs:        r.ArticleIDs,
		Status:             status,
		InputFileID:        r.InputFileID,
		ProviderBatchID:    r.ProviderBatchID,
		OutputFileID:       r.OutputFileID,
		ErrorFileID:        r.ErrorFileID,
		SubmissionAttempts: r.SubmissionAttempts,
		LastError:          r.LastError,
		VectorCount:        r.VectorCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		SubmittedAt:        r.SubmittedAt,
		CompletedAt:        r.CompletedAt,
		FailedAt:           r.FailedAt,
		TimedOutAt:         r.TimedOutAt,
		IngestedAt:         r.UpsertedAt,
	})
}
