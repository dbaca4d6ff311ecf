package testfixtures

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"embeddingjob/internal/port/outbound"
)

// FakeProvider is an in-memory outbound.BatchEmbeddingProvider. Submitted
// batches stay in_progress until the test completes or fails them.
type FakeProvider struct {
	mu         sync.Mutex
	dimensions int
	seq        int
	files      map[string][]byte
	batches    map[string]*outbound.RemoteBatch
	metadata   map[string]map[string]string
	order      []string

	// UploadErrs and CreateErrs are consumed one per call; nil entries succeed.
	UploadErrs []error
	CreateErrs []error
	// FindErr fails every FindBatch.
	FindErr error
	// RetrieveErrs fails RetrieveBatch for the keyed batch IDs.
	RetrieveErrs map[string]error
	// OnRetrieve, when set, runs before RetrieveBatch reads the batch. It may
	// call Complete or Fail.
	OnRetrieve func(batchID string)

	uploads   int
	creates   int
	retrieves int
	finds     int
}

// NewFakeProvider creates a provider emitting vectors of the given size.
func NewFakeProvider(dimensions int) *FakeProvider {
	return &FakeProvider{
		dimensions:   dimensions,
		files:        make(map[string][]byte),
		batches:      make(map[string]*outbound.RemoteBatch),
		metadata:     make(map[string]map[string]string),
		RetrieveErrs: make(map[string]error),
	}
}

// RateLimitError returns a throttled provider error.
func RateLimitError(op string) error {
	return &outbound.ProviderError{Op: op, StatusCode: http.StatusTooManyRequests, Err: errors.New("rate limit exceeded")}
}

// UploadBatchFile stores the payload.
func (p *FakeProvider) UploadBatchFile(_ context.Context, _ string, payload io.Reader) (string, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads++
	if err := pop(&p.UploadErrs); err != nil {
		return "", err
	}
	p.seq++
	id := fmt.Sprintf("file-%d", p.seq)
	p.files[id] = data
	return id, nil
}

// CreateBatch registers an in_progress batch.
func (p *FakeProvider) CreateBatch(
	_ context.Context,
	inputFileID string,
	metadata map[string]string,
) (*outbound.RemoteBatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if err := pop(&p.CreateErrs); err != nil {
		return nil, err
	}
	if _, ok := p.files[inputFileID]; !ok {
		return nil, notFound("create batch", inputFileID)
	}
	p.seq++
	id := fmt.Sprintf("batch_%d", p.seq)
	batch := &outbound.RemoteBatch{ID: id, State: outbound.RemoteBatchInProgress, InputFileID: inputFileID}
	p.batches[id] = batch
	p.metadata[id] = metadata
	p.order = append(p.order, id)
	copied := *batch
	return &copied, nil
}

// RetrieveBatch returns the current remote batch.
func (p *FakeProvider) RetrieveBatch(_ context.Context, batchID string) (*outbound.RemoteBatch, error) {
	p.mu.Lock()
	p.retrieves++
	hook := p.OnRetrieve
	p.mu.Unlock()
	if hook != nil {
		hook(batchID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.RetrieveErrs[batchID]; err != nil {
		return nil, err
	}
	batch, ok := p.batches[batchID]
	if !ok {
		return nil, notFound("retrieve batch", batchID)
	}
	copied := *batch
	return &copied, nil
}

// FileContent returns a stored file.
func (p *FakeProvider) FileContent(_ context.Context, fileID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[fileID]
	if !ok {
		return nil, notFound("file content", fileID)
	}
	return append([]byte(nil), data...), nil
}

// Complete answers every request of the batch with a deterministic embedding.
// Requests whose custom_id is listed in omit get no output line.
func (p *FakeProvider) Complete(batchID string, omit ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch, ok := p.batches[batchID]
	if !ok {
		return notFound("complete", batchID)
	}
	skip := make(map[string]bool, len(omit))
	for _, id := range omit {
		skip[id] = true
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(p.files[batch.InputFileID]))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var request struct {
			CustomID string `json:"custom_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &request); err != nil {
			return err
		}
		if skip[request.CustomID] {
			continue
		}
		line, err := json.Marshal(OutputLine(request.CustomID, Embedding(request.CustomID, p.dimensions)))
		if err != nil {
			return err
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return p.completeLocked(batch, out.Bytes())
}

// CompleteWithOutput completes the batch with a raw output file.
func (p *FakeProvider) CompleteWithOutput(batchID string, output []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch, ok := p.batches[batchID]
	if !ok {
		return notFound("complete", batchID)
	}
	return p.completeLocked(batch, output)
}

func (p *FakeProvider) completeLocked(batch *outbound.RemoteBatch, output []byte) error {
	p.seq++
	outputID := fmt.Sprintf("file-%d", p.seq)
	p.files[outputID] = output
	batch.State = outbound.RemoteBatchCompleted
	batch.OutputFileID = outputID
	batch.CompletedAt = time.Now().UTC().Truncate(time.Second)
	return nil
}

// CompleteAll completes every in_progress batch.
func (p *FakeProvider) CompleteAll() error {
	for _, id := range p.BatchIDs() {
		if p.State(id) != outbound.RemoteBatchInProgress {
			continue
		}
		if err := p.Complete(id); err != nil {
			return err
		}
	}
	return nil
}

// Fail moves the batch to state with an error file and reason.
func (p *FakeProvider) Fail(batchID string, state outbound.RemoteBatchState, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.batches[batchID]
	p.seq++
	errorID := fmt.Sprintf("file-%d", p.seq)
	p.files[errorID] = []byte(reason + "\n")
	batch.State = state
	batch.ErrorFileID = errorID
	batch.FailedAt = time.Now().UTC().Truncate(time.Second)
	batch.Reason = reason
}

// FindBatch returns the newest batch whose metadata holds every pair in match.
// since is ignored.
func (p *FakeProvider) FindBatch(
	_ context.Context,
	match map[string]string,
	_ time.Time,
) (*outbound.RemoteBatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds++
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	for i := len(p.order) - 1; i >= 0; i-- {
		id := p.order[i]
		if metadataHolds(p.metadata[id], match) {
			copied := *p.batches[id]
			return &copied, nil
		}
	}
	return nil, nil //nolint:nilnil // no batch carries the metadata
}

// Finds returns the number of FindBatch calls.
func (p *FakeProvider) Finds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finds
}

func metadataHolds(have, want map[string]string) bool {
	for key, value := range want {
		if have[key] != value {
			return false
		}
	}
	return true
}

// State returns the remote state of a batch.
func (p *FakeProvider) State(batchID string) outbound.RemoteBatchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batches[batchID]; ok {
		return b.State
	}
	return ""
}

// BatchIDs returns the created batch IDs in creation order.
func (p *FakeProvider) BatchIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Input returns the uploaded payload of a batch.
func (p *FakeProvider) Input(batchID string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batches[batchID]; ok {
		return p.files[b.InputFileID]
	}
	return nil
}

// Metadata returns the metadata a batch was created with.
func (p *FakeProvider) Metadata(batchID string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata[batchID]
}

// Calls returns the upload, create and retrieve call counts.
func (p *FakeProvider) Calls() (uploads, creates, retrieves int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads, p.creates, p.retrieves
}

// OutputLine builds one provider output record for customID.
func OutputLine(customID string, embedding []float32) map[string]any {
	return map[string]any{
		"id":        "batch_req_" + customID,
		"custom_id": customID,
		"response": map[string]any{
			"status_code": http.StatusOK,
			"body": map[string]any{
				"object": "list",
				"data": []any{
					map[string]any{"object": "embedding", "index": 0, "embedding": embedding},
				},
			},
		},
		"error": nil,
	}
}

// Embedding returns a deterministic vector for id.
func Embedding(id string, dimensions int) []float32 {
	v := make([]float32, dimensions)
	for i := range v {
		v[i] = float32(len(id)+i) / 100
	}
	return v
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func notFound(op, id string) error {
	return &outbound.ProviderError{Op: op, StatusCode: http.StatusNotFound, Err: fmt.Errorf("no such object: %s", id)}
}
