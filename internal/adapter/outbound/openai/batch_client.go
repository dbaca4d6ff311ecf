// Package openai implements the batch embedding provider on the OpenAI files
// and batches API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/port/outbound"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultEndpoint is the API path every request line targets.
	DefaultEndpoint = "/v1/embeddings"
	// DefaultCompletionWindow is the only window the batches API accepts.
	DefaultCompletionWindow = "24h"

	jsonlContentType = "application/jsonl"
	findPageSize     = 100
)

// ClientConfig holds the configuration for the OpenAI batch client.
type ClientConfig struct {
	APIKey           string
	BaseURL          string
	Endpoint         string
	CompletionWindow string
	MaxRetries       int
	Timeout          time.Duration
}

// Validate validates the client configuration.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key cannot be empty")
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http") {
		return errors.New("invalid base URL")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// BatchClient talks to the files and batches endpoints.
type BatchClient struct {
	client           openai.Client
	endpoint         openai.BatchNewParamsEndpoint
	completionWindow openai.BatchNewParamsCompletionWindow
}

// NewBatchClient creates a batch client.
func NewBatchClient(config ClientConfig) (*BatchClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openai configuration: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	window := config.CompletionWindow
	if window == "" {
		window = DefaultCompletionWindow
	}

	return &BatchClient{
		client:           openai.NewClient(opts...),
		endpoint:         openai.BatchNewParamsEndpoint(endpoint),
		completionWindow: openai.BatchNewParamsCompletionWindow(window),
	}, nil
}

// UploadBatchFile uploads a JSONL payload with the batch purpose.
func (c *BatchClient) UploadBatchFile(ctx context.Context, filename string, payload io.Reader) (string, error) {
	file, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(payload, filename, jsonlContentType),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", wrapProviderError("upload file", err)
	}

	slogger.Debug(ctx, "Uploaded batch input file", slogger.Fields{
		"file_id":  file.ID,
		"filename": filename,
		"bytes":    file.Bytes,
	})
	return file.ID, nil
}

// CreateBatch registers a batch against an uploaded input file.
func (c *BatchClient) CreateBatch(
	ctx context.Context,
	inputFileID string,
	metadata map[string]string,
) (*outbound.RemoteBatch, error) {
	batch, err := c.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      inputFileID,
		Endpoint:         c.endpoint,
		CompletionWindow: c.completionWindow,
		Metadata:         metadata,
	})
	if err != nil {
		return nil, wrapProviderError("create batch", err)
	}
	return toRemoteBatch(batch), nil
}

// RetrieveBatch returns the current remote status of a batch.
func (c *BatchClient) RetrieveBatch(ctx context.Context, batchID string) (*outbound.RemoteBatch, error) {
	batch, err := c.client.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, wrapProviderError("retrieve batch", err)
	}
	return toRemoteBatch(batch), nil
}

// FileContent downloads the content of a provider file.
func (c *BatchClient) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, wrapProviderError("download file", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapProviderError("download file", err)
	}
	return data, nil
}

// FindBatch pages through the batches newest first and stops at the first one
// created before since.
func (c *BatchClient) FindBatch(
	ctx context.Context,
	match map[string]string,
	since time.Time,
) (*outbound.RemoteBatch, error) {
	iter := c.client.Batches.ListAutoPaging(ctx, openai.BatchListParams{Limit: openai.Int(findPageSize)})
	for iter.Next() {
		batch := iter.Current()
		if batch.CreatedAt < since.Unix() {
			break
		}
		if metadataMatches(batch.Metadata, match) {
			return toRemoteBatch(&batch), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, wrapProviderError("list batches", err)
	}
	return nil, nil //nolint:nilnil // no batch carries the metadata
}

func metadataMatches(have, want map[string]string) bool {
	for key, value := range want {
		if have[key] != value {
			return false
		}
	}
	return true
}

// Probe lists at most one batch to confirm the credentials are accepted.
func (c *BatchClient) Probe(ctx context.Context) error {
	if _, err := c.client.Batches.List(ctx, openai.BatchListParams{Limit: openai.Int(1)}); err != nil {
		return wrapProviderError("list batches", err)
	}
	return nil
}

func toRemoteBatch(b *openai.Batch) *outbound.RemoteBatch {
	remote := &outbound.RemoteBatch{
		ID:           b.ID,
		State:        outbound.RemoteBatchState(b.Status),
		InputFileID:  b.InputFileID,
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
	}
	if b.CompletedAt > 0 {
		remote.CompletedAt = time.Unix(b.CompletedAt, 0).UTC()
	}
	switch {
	case b.FailedAt > 0:
		remote.FailedAt = time.Unix(b.FailedAt, 0).UTC()
	case b.ExpiredAt > 0:
		remote.FailedAt = time.Unix(b.ExpiredAt, 0).UTC()
	case b.CancelledAt > 0:
		remote.FailedAt = time.Unix(b.CancelledAt, 0).UTC()
	}
	if len(b.Errors.Data) > 0 {
		remote.Reason = b.Errors.Data[0].Message
	}
	return remote
}

func wrapProviderError(op string, err error) error {
	providerErr := &outbound.ProviderError{Op: op, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		providerErr.StatusCode = apiErr.StatusCode
	}
	return providerErr
}
