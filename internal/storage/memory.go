package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"marketplace/internal/models"
)

// MemoryRepository keeps the workflow journal in process memory.
// It is used when no DATABASE_URL is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]models.WorkflowRecord
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.WorkflowRecord)}
}

// SaveWorkflow inserts or updates a workflow record
func (r *MemoryRepository) SaveWorkflow(ctx context.Context, record *models.WorkflowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[record.ID]; ok {
		// Identity and input are immutable once journaled
		existing.State = record.State
		existing.Stage = record.Stage
		existing.Artifacts = record.Artifacts
		existing.Error = record.Error
		existing.ErrorKind = record.ErrorKind
		existing.UpdatedAt = record.UpdatedAt
		r.records[record.ID] = existing
		return nil
	}
	r.records[record.ID] = *record
	return nil
}

// GetWorkflow retrieves a workflow record by id
func (r *MemoryRepository) GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return &record, nil
}

// LatestWorkflow returns the highest generation recorded for key
func (r *MemoryRepository) LatestWorkflow(ctx context.Context, key string) (*models.WorkflowRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.WorkflowRecord
	for _, record := range r.records {
		if record.Key != key {
			continue
		}
		if latest == nil || record.Generation > latest.Generation {
			rec := record
			latest = &rec
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: key %s", ErrWorkflowNotFound, key)
	}
	return latest, nil
}

// ListWorkflows lists an account's workflows, newest first, with pagination
func (r *MemoryRepository) ListWorkflows(ctx context.Context, account string, limit, offset int) ([]*models.WorkflowRecord, error) {
	r.mu.RLock()
	var records []*models.WorkflowRecord
	for _, record := range r.records {
		if record.Account == account {
			rec := record
			records = append(records, &rec)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}
