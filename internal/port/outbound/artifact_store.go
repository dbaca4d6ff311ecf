package outbound

import "context"

// ArtifactStore is a write-only sink for audit artifacts.
type ArtifactStore interface {
	Save(ctx context.Context, path string, data []byte, contentType string) error
}
