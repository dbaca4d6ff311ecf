package mongodb

import (
	"errors"
	"fmt"

	"embeddingjob/internal/port/outbound"

	"go.mongodb.org/mongo-driver/mongo"
)

// wrapError wraps a driver error with the operation and maps it onto the
// outbound sentinel errors.
func wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s failed: %w", operation, outbound.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s failed: %w", operation, outbound.ErrAlreadyExists)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
