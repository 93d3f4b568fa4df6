package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"marketplace/internal/models"
)

// MemoryStore is an in-process content-addressed store.
// Identical bytes always map to the same locator.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	failures []error
	puts     int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Store saves data and returns its locator
func (m *MemoryStore) Store(ctx context.Context, data []byte, contentType string) (models.Locator, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailureLocked(); err != nil {
		return "", err
	}

	id, err := ContentID(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	m.blobs[id.KeyString()] = append([]byte(nil), data...)
	m.puts++
	return NewLocator(id), nil
}

// StoreJSON marshals v and stores the resulting document
func (m *MemoryStore) StoreJSON(ctx context.Context, v any) (models.Locator, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json: %w", err)
	}
	return m.Store(ctx, data, "application/json")
}

// Fetch returns the bytes addressed by loc
func (m *MemoryStore) Fetch(ctx context.Context, loc models.Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := ParseLocator(loc)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id.KeyString()]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", models.ErrStorageUnavailable, loc)
	}
	return append([]byte(nil), data...), nil
}

// FailNext makes the next n Store calls fail with err.
// A nil err defaults to ErrStorageUnavailable.
func (m *MemoryStore) FailNext(n int, err error) {
	if err == nil {
		err = models.ErrStorageUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// Forget drops the content behind loc, simulating an unpinned object
func (m *MemoryStore) Forget(loc models.Locator) {
	id, err := ParseLocator(loc)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id.KeyString())
}

// Puts returns the number of successful Store calls
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *MemoryStore) popFailureLocked() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}
