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

// jobRecord is the job status document.
type jobRecord struct {
	ID            string             `bson:"_id"`
	Status        string             `bson:"status"`
	PreviousStage *string            `bson:"previousStage,omitempty"`
	Errors        []string           `bson:"errors,omitempty"`
	Transitions   []transitionRecord `bson:"transitions"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
	FinishedAt    *time.Time         `bson:"finishedAt,omitempty"`
}

type transitionRecord struct {
	Stage string    `bson:"stage"`
	At    time.Time `bson:"at"`
}

// JobRepository persists job status documents.
type JobRepository struct {
	collection *mongo.Collection
}

// NewJobRepository creates a job repository on the jobs collection.
func NewJobRepository(conn *Connection) *JobRepository {
	return &JobRepository{collection: conn.collection(conn.collections.Jobs)}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *entity.EmbeddingJob) error {
	_, err := r.collection.InsertOne(ctx, newJobRecord(job))
	return wrapError(err, "create job")
}

// Save replaces the stored job with its current state.
func (r *JobRepository) Save(ctx context.Context, job *entity.EmbeddingJob) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": job.ID().String()},
		newJobRecord(job),
		options.Replace().SetUpsert(true),
	)
	return wrapError(err, "save job")
}

// FindByID loads a job.
func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.EmbeddingJob, error) {
	var record jobRecord
	if err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&record); err != nil {
		return nil, wrapError(err, "find job "+id.String())
	}
	job, err := record.toEntity()
	if err != nil {
		return nil, fmt.Errorf("invalid stored job %s: %w", id, err)
	}
	return job, nil
}

func newJobRecord(job *entity.EmbeddingJob) jobRecord {
	s := job.Snapshot()
	record := jobRecord{
		ID:          s.ID.String(),
		Status:      s.Stage.String(),
		Errors:      s.Errors,
		Transitions: make([]transitionRecord, 0, len(s.Transitions)),
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
		FinishedAt:  utcPtr(s.FinishedAt),
	}
	if s.PreviousStage != nil {
		previous := s.PreviousStage.String()
		record.PreviousStage = &previous
	}
	for _, t := range s.Transitions {
		record.Transitions = append(record.Transitions, transitionRecord{Stage: t.Stage.String(), At: t.At.UTC()})
	}
	return record
}

func (r jobRecord) toEntity() (*entity.EmbeddingJob, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", r.ID, err)
	}
	stage, err := valueobject.NewJobStage(r.Status)
	if err != nil {
		return nil, err
	}

	snapshot := entity.EmbeddingJobSnapshot{
		ID:          id,
		Stage:       stage,
		Errors:      r.Errors,
		Transitions: make([]entity.StageTransition, 0, len(r.Transitions)),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.PreviousStage != nil {
		previous, err := valueobject.NewJobStage(*r.PreviousStage)
		if err != nil {
			return nil, err
		}
		snapshot.PreviousStage = &previous
	}
	for _, t := range r.Transitions {
		s, err := valueobject.NewJobStage(t.Stage)
		if err != nil {
			return nil, err
		}
		snapshot.Transitions = append(snapshot.Transitions, entity.StageTransition{Stage: s, At: t.At})
	}
	return entity.RestoreEmbeddingJob(snapshot)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
