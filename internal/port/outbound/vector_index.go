package outbound

import (
	"context"

	"embeddingjob/internal/domain/entity"
)

// VectorIndex stores vector records partitioned by namespace. Upserting a
// record with an existing ID in the same namespace replaces it.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, records []entity.VectorRecord) error
}
