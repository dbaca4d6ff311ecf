package mongodb

import (
	"testing"
	"time"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestArticleRecord_ToEntity(t *testing.T) {
	t.Run("should map present fields and keep absent ones absent", func(t *testing.T) {
		// Arrange
		oid := primitive.NewObjectID()
		headline := "Rates rise again"
		state := "published"
		display := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
		record := articleRecord{
			ID:          oid,
			Headline:    &headline,
			State:       &state,
			DisplayDate: &display,
			Body: &bodyDoc{Widgets: []widgetDoc{
				{Type: "text", HTML: "<p>One</p>"},
				{Type: "image", HTML: "<img/>"},
			}},
			Extra: bson.M{
				entity.MetadataTags:     primitive.A{"economy", "rates"},
				entity.MetadataCategory: "news",
				"unrelated":             "ignored",
			},
		}

		// Act
		doc, err := record.toEntity()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, oid.Hex(), doc.ID)
		assert.Equal(t, headline, doc.Headline)
		assert.Empty(t, doc.Standfirst)
		assert.Equal(t, display.UTC(), doc.DisplayDate)
		require.Len(t, doc.Body, 2)
		assert.Equal(t, "image", doc.Body[1].Type)
		assert.Equal(t, []any{"economy", "rates"}, doc.Fields[entity.MetadataTags])
		assert.Equal(t, "news", doc.Fields[entity.MetadataCategory])
		assert.NotContains(t, doc.Fields, "unrelated")
		assert.NotContains(t, doc.Fields, entity.MetadataAuthor)
	})

	t.Run("should accept string ids", func(t *testing.T) {
		doc, err := articleRecord{ID: "legacy-42"}.toEntity()

		require.NoError(t, err)
		assert.Equal(t, "legacy-42", doc.ID)
		assert.Empty(t, doc.Fields)
	})

	t.Run("should reject unsupported id types", func(t *testing.T) {
		_, err := articleRecord{ID: int32(7)}.toEntity()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported article _id type int32")
	})
}

func TestPlainValue(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)

	got := plainValue(primitive.D{
		{Key: "when", Value: primitive.NewDateTimeFromTime(at)},
		{Key: "ref", Value: oid},
		{Key: "nested", Value: primitive.M{"list": primitive.A{int32(1), "two"}}},
	})

	assert.Equal(t, map[string]any{
		"when":   at,
		"ref":    oid.Hex(),
		"nested": map[string]any{"list": []any{int32(1), "two"}},
	}, got)
}

func TestJobRecord_RoundTrip(t *testing.T) {
	job := entity.NewEmbeddingJob()
	require.NoError(t, job.TransitionTo(valueobject.JobStageBuildingBatches))
	require.NoError(t, job.Exit())

	restored, err := newJobRecord(job).toEntity()

	require.NoError(t, err)
	assert.Equal(t, job.ID(), restored.ID())
	assert.Equal(t, valueobject.JobStageExited, restored.Stage())
	require.NotNil(t, restored.PreviousStage())
	assert.Equal(t, valueobject.JobStageBuildingBatches, *restored.PreviousStage())
	assert.Len(t, restored.Transitions(), len(job.Transitions()))
	assert.NotNil(t, restored.FinishedAt())
}

func TestJobRecord_ToEntity_RejectsUnknownStage(t *testing.T) {
	record := jobRecord{ID: uuid.NewString(), Status: "paused"}

	_, err := record.toEntity()

	require.Error(t, err)
}

func TestBatchRecord_ToEntity(t *testing.T) {
	t.Run("should restore a submitted batch", func(t *testing.T) {
		batch, err := entity.NewEmbeddingBatch(uuid.New(), 2, 5, []string{"a", "b"})
		require.NoError(t, err)
		require.NoError(t, batch.RecordUpload("file-in"))
		require.NoError(t, batch.MarkSubmitted("batch-remote"))

		record := newBatchRecord(batch)
		restored, err := record.toEntity()

		require.NoError(t, err)
		assert.Equal(t, "submitted", record.Status)
		assert.Equal(t, []string{"a", "b"}, record.ArticleIDs)
		assert.Equal(t, batch.ID(), restored.ID())
		assert.Equal(t, valueobject.BatchStatusSubmitted, restored.Status())
		assert.Equal(t, "batch-remote", restored.ProviderBatchID())
		assert.Equal(t, 1, restored.SubmissionAttempts())
		assert.NotNil(t, restored.SubmittedAt())
	})

	t.Run("should reject statuses outside the closed set", func(t *testing.T) {
		record := batchRecord{
			ID:         uuid.NewString(),
			JobID:      uuid.NewString(),
			Status:     "processing",
			ArticleIDs: []string{"a"},
		}

		_, err := record.toEntity()

		require.Error(t, err)
	})
}
