// Package testfixtures provides in-memory collaborators for the embedding job
// ports. They are safe for concurrent use and copy entities through snapshots
// so tests observe exactly what was persisted.
package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
)

// DocumentStore is an in-memory outbound.DocumentRepository.
type DocumentStore struct {
	mu               sync.Mutex
	docs             []*entity.Document
	IndexesEnsured   int
	FindPublishedErr error
	FindByIDsErr     error
	// Duplicates, when set, are appended to every FindPublished page.
	Duplicates []*entity.Document
}

// NewDocumentStore creates a store holding docs.
func NewDocumentStore(docs ...*entity.Document) *DocumentStore {
	return &DocumentStore{docs: docs}
}

// EnsureIndexes records the call.
func (s *DocumentStore) EnsureIndexes(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IndexesEnsured++
	return nil
}

// CountPublished counts matching documents.
func (s *DocumentStore) CountPublished(_ context.Context, query outbound.DocumentQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matching(query)), nil
}

// FindPublished returns one page of matching documents.
func (s *DocumentStore) FindPublished(
	_ context.Context,
	query outbound.DocumentQuery,
	skip, limit int,
) ([]*entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindPublishedErr != nil {
		return nil, s.FindPublishedErr
	}
	matching := s.matching(query)
	if skip >= len(matching) {
		return nil, nil
	}
	end := len(matching)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	page := append([]*entity.Document(nil), matching[skip:end]...)
	return append(page, s.Duplicates...), nil
}

// FindByIDs returns the known documents among ids.
func (s *DocumentStore) FindByIDs(_ context.Context, ids []string) (map[string]*entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindByIDsErr != nil {
		return nil, s.FindByIDsErr
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	found := make(map[string]*entity.Document, len(ids))
	for _, d := range s.docs {
		if _, ok := wanted[d.ID]; ok {
			found[d.ID] = d
		}
	}
	return found, nil
}

func (s *DocumentStore) matching(query outbound.DocumentQuery) []*entity.Document {
	var out []*entity.Document
	for _, d := range s.docs {
		if d.DisplayDate.Before(query.DisplayedSince) || d.State != query.State {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DisplayDate.Equal(out[j].DisplayDate) {
			return out[i].DisplayDate.After(out[j].DisplayDate)
		}
		return out[i].ID > out[j].ID
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out
}

// JobStore is an in-memory outbound.JobRepository.
type JobStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]entity.EmbeddingJobSnapshot
	SaveErr error
	// Saved lists the stage of every Save call in order.
	Saved []valueobject.JobStage
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]entity.EmbeddingJobSnapshot)}
}

// Create inserts a job.
func (s *JobStore) Create(_ context.Context, job *entity.EmbeddingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID()]; ok {
		return fmt.Errorf("job %s: %w", job.ID(), outbound.ErrAlreadyExists)
	}
	s.jobs[job.ID()] = job.Snapshot()
	return nil
}

// Save overwrites a job.
func (s *JobStore) Save(_ context.Context, job *entity.EmbeddingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.jobs[job.ID()] = job.Snapshot()
	s.Saved = append(s.Saved, job.Stage())
	return nil
}

// FindByID returns a copy of the stored job.
func (s *JobStore) FindByID(_ context.Context, id uuid.UUID) (*entity.EmbeddingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, outbound.ErrNotFound)
	}
	return entity.RestoreEmbeddingJob(snapshot)
}

// BatchStore is an in-memory outbound.BatchRepository.
type BatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]entity.EmbeddingBatchSnapshot
	SaveErr error
	saves   int
}

// NewBatchStore creates an empty batch store.
func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[uuid.UUID]entity.EmbeddingBatchSnapshot)}
}

// Save upserts a batch.
func (s *BatchStore) Save(_ context.Context, batch *entity.EmbeddingBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.batches[batch.ID()] = batch.Snapshot()
	s.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (s *BatchStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FindByJobID returns the job's batches ordered by batch number.
func (s *BatchStore) FindByJobID(_ context.Context, jobID uuid.UUID) ([]*entity.EmbeddingBatch, error) {
	return s.find(func(b entity.EmbeddingBatchSnapshot) bool { return b.JobID == jobID })
}

// FindByStatus returns the job's batches in status ordered by batch number.
func (s *BatchStore) FindByStatus(
	_ context.Context,
	jobID uuid.UUID,
	status valueobject.BatchStatus,
) ([]*entity.EmbeddingBatch, error) {
	return s.find(func(b entity.EmbeddingBatchSnapshot) bool { return b.JobID == jobID && b.Status == status })
}

// CountByStatus counts the job's batches in status.
func (s *BatchStore) CountByStatus(ctx context.Context, jobID uuid.UUID, status valueobject.BatchStatus) (int, error) {
	batches, err := s.FindByStatus(ctx, jobID, status)
	return len(batches), err
}

// Put stores a batch directly, bypassing SaveErr.
func (s *BatchStore) Put(batch *entity.EmbeddingBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID()] = batch.Snapshot()
}

// StatusCounts tallies the job's batches per status.
func (s *BatchStore) StatusCounts(jobID uuid.UUID) map[valueobject.BatchStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[valueobject.BatchStatus]int)
	for _, b := range s.batches {
		if b.JobID == jobID {
			counts[b.Status]++
		}
	}
	return counts
}

func (s *BatchStore) find(keep func(entity.EmbeddingBatchSnapshot) bool) ([]*entity.EmbeddingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snapshots []entity.EmbeddingBatchSnapshot
	for _, b := range s.batches {
		if keep(b) {
			snapshots = append(snapshots, b)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].BatchNumber < snapshots[j].BatchNumber })
	out := make([]*entity.EmbeddingBatch, 0, len(snapshots))
	for _, snapshot := range snapshots {
		batch, err := entity.RestoreEmbeddingBatch(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// JobLog is an in-memory outbound.JobLogRepository.
type JobLog struct {
	mu      sync.Mutex
	entries []entity.JobLogEntry
}

// Append records entry.
func (l *JobLog) Append(_ context.Context, entry entity.JobLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (l *JobLog) Entries() []entity.JobLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entity.JobLogEntry(nil), l.entries...)
}

// ArtifactStore is an in-memory outbound.ArtifactStore.
type ArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	SaveErr error
}

// NewArtifactStore creates an empty artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{objects: make(map[string][]byte)}
}

// Save stores data under path.
func (s *ArtifactStore) Save(_ context.Context, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

// Object returns the data stored under path.
func (s *ArtifactStore) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// Paths returns the stored paths in order.
func (s *ArtifactStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// VectorIndex is an in-memory outbound.VectorIndex.
type VectorIndex struct {
	mu         sync.Mutex
	namespaces map[string]map[string]entity.VectorRecord
	UpsertErr  error
	calls      int
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{namespaces: make(map[string]map[string]entity.VectorRecord)}
}

// Upsert stores records under namespace, replacing existing IDs.
func (v *VectorIndex) Upsert(_ context.Context, namespace string, records []entity.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.UpsertErr != nil {
		return v.UpsertErr
	}
	ns, ok := v.namespaces[namespace]
	if !ok {
		ns = make(map[string]entity.VectorRecord)
		v.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

// Calls returns the number of Upsert calls.
func (v *VectorIndex) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// Records returns the records stored under namespace.
func (v *VectorIndex) Records(namespace string) map[string]entity.VectorRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]entity.VectorRecord, len(v.namespaces[namespace]))
	for id, r := range v.namespaces[namespace] {
		out[id] = r
	}
	return out
}

// EventRecorder is an in-memory outbound.JobEventPublisher.
type EventRecorder struct {
	mu     sync.Mutex
	events []outbound.JobStageChangedEvent
	Err    error
}

// PublishStageChanged records event.
func (r *EventRecorder) PublishStageChanged(_ context.Context, event outbound.JobStageChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns the recorded events.
func (r *EventRecorder) Events() []outbound.JobStageChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbound.JobStageChangedEvent(nil), r.events...)
}

// JobLock is an in-memory outbound.JobLock.
type JobLock struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool

	// AcquireErr, when set, is returned by every Acquire.
	AcquireErr error
}

// NewJobLock creates an unlocked lock table.
func NewJobLock() *JobLock {
	return &JobLock{held: make(map[uuid.UUID]bool)}
}

// Acquire locks jobID or returns outbound.ErrJobLocked.
func (l *JobLock) Acquire(_ context.Context, jobID uuid.UUID) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AcquireErr != nil {
		return nil, l.AcquireErr
	}
	if l.held[jobID] {
		return nil, outbound.ErrJobLocked
	}
	l.held[jobID] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, jobID)
		return nil
	}, nil
}

// Held reports whether jobID is locked.
func (l *JobLock) Held(jobID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[jobID]
}
