package mongodb

import (
	"context"
	"time"

	"embeddingjob/internal/domain/entity"

	"go.mongodb.org/mongo-driver/mongo"
)

type logRecord struct {
	JobID     string    `bson:"jobId"`
	Level     string    `bson:"level"`
	Message   string    `bson:"message"`
	Timestamp time.Time `bson:"timestamp"`
}

// JobLogRepository appends job log entries.
type JobLogRepository struct {
	collection *mongo.Collection
}

// NewJobLogRepository creates a log repository on the logs collection.
func NewJobLogRepository(conn *Connection) *JobLogRepository {
	return &JobLogRepository{collection: conn.collection(conn.collections.Logs)}
}

// Append inserts entry.
func (r *JobLogRepository) Append(ctx context.Context, entry entity.JobLogEntry) error {
	_, err := r.collection.InsertOne(ctx, logRecord{
		JobID:     entry.JobID.String(),
		Level:     entry.Level,
		Message:   entry.Message,
		Timestamp: entry.Timestamp.UTC(),
	})
	return wrapError(err, "append job log")
}
