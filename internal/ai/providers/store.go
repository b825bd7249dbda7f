package providers

import (
	"context"
	"sort"
	"sync"
)

// Store persists provider records
type Store interface {
	ListProviders(ctx context.Context) ([]Record, error)
	SaveProvider(ctx context.Context, r *Record) error
}

// MemoryStore keeps provider records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory provider store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// ListProviders returns a copy of every record ordered by priority
func (m *MemoryStore) ListProviders(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SaveProvider inserts or replaces a record
func (m *MemoryStore) SaveProvider(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[r.Name] = copyRecord(*r)
	return nil
}

func copyRecord(r Record) Record {
	if r.CooldownUntil != nil {
		t := *r.CooldownUntil
		r.CooldownUntil = &t
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		r.LastUsedAt = &t
	}
	return r
}
