package outbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RemoteBatchState is the status the compute provider reports for a batch.
type RemoteBatchState string

// Remote batch states reported by the provider.
const (
	RemoteBatchValidating RemoteBatchState = "validating"
	RemoteBatchInProgress RemoteBatchState = "in_progress"
	RemoteBatchFinalizing RemoteBatchState = "finalizing"
	RemoteBatchCompleted  RemoteBatchState = "completed"
	RemoteBatchFailed     RemoteBatchState = "failed"
	RemoteBatchExpired    RemoteBatchState = "expired"
	RemoteBatchCancelling RemoteBatchState = "cancelling"
	RemoteBatchCancelled  RemoteBatchState = "cancelled"
)

// RemoteBatch is the provider's view of a submitted batch.
type RemoteBatch struct {
	ID           string
	State        RemoteBatchState
	InputFileID  string
	OutputFileID string
	ErrorFileID  string
	CompletedAt  time.Time
	FailedAt     time.Time
	// Reason carries the provider's first error message when the batch failed.
	Reason string
}

// BatchEmbeddingProvider is the asynchronous embedding compute service.
type BatchEmbeddingProvider interface {
	// UploadBatchFile uploads a JSONL payload with the batch purpose and returns the file ID
	UploadBatchFile(ctx context.Context, filename string, payload io.Reader) (string, error)

	// CreateBatch registers an asynchronous job against an uploaded file
	CreateBatch(ctx context.Context, inputFileID string, metadata map[string]string) (*RemoteBatch, error)

	// RetrieveBatch returns the current remote status of a batch
	RetrieveBatch(ctx context.Context, batchID string) (*RemoteBatch, error)

	// FileContent returns the newline-delimited content of a provider file
	FileContent(ctx context.Context, fileID string) ([]byte, error)

	// FindBatch returns the newest batch created at or after since whose
	// metadata holds every pair in match, or nil when there is none
	FindBatch(ctx context.Context, match map[string]string, since time.Time) (*RemoteBatch, error)
}

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return "provider " + e.Op + " failed (" + strconv.Itoa(e.StatusCode) + "): " + e.Err.Error()
	}
	return "provider " + e.Op + " failed: " + e.Err.Error()
}

// Unwrap returns the underlying cause error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the provider throttled the call.
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimitError reports whether err wraps a throttled provider call.
func IsRateLimitError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.IsRateLimited()
}
