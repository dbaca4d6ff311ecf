package vectorindex

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConnectionFailed marks errors raised by a lost or refused connection.
var ErrConnectionFailed = errors.New("vector index connection failed")

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08": // connection exception
			return true
		case "57": // operator intervention
			return true
		}
	}
	return errors.Is(err, ErrConnectionFailed)
}

// WrapError wraps a database error with the operation that raised it.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%s failed: %w: %w", operation, ErrConnectionFailed, err)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
