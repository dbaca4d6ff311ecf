package outbound

import (
	"context"
	"time"

	"embeddingjob/internal/domain/entity"
)

// DocumentQuery selects the documents a job embeds.
type DocumentQuery struct {
	// DisplayedSince is the inclusive display date cutoff.
	DisplayedSince time.Time
	// State is the required publish state.
	State string
	// Limit caps the number of documents considered; zero means no cap.
	Limit int
}

// DocumentRepository reads source documents. It never writes them.
type DocumentRepository interface {
	// EnsureIndexes creates the display date index the job query relies on.
	EnsureIndexes(ctx context.Context) error

	// CountPublished returns the number of documents matching the query.
	CountPublished(ctx context.Context, query DocumentQuery) (int, error)

	// FindPublished returns one page of matching documents ordered by display date
	// descending, ties broken by ID.
	FindPublished(ctx context.Context, query DocumentQuery, skip, limit int) ([]*entity.Document, error)

	// FindByIDs returns the documents with the given IDs keyed by ID. Unknown IDs are omitted.
	FindByIDs(ctx context.Context, ids []string) (map[string]*entity.Document, error)
}
