package guard

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process HistoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	imports map[string]ImportRecord
	hashes  map[string]string // hash -> import ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		imports: make(map[string]ImportRecord),
		hashes:  make(map[string]string),
	}
}

func (m *MemoryStore) GetImport(_ context.Context, key string) (*ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.imports[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) RecordImport(_ context.Context, rec ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports[rec.Fingerprint.Key()] = rec
	return nil
}

func (m *MemoryStore) HasTransactions(_ context.Context, hashes []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, h := range hashes {
		if _, ok := m.hashes[h]; ok {
			seen[h] = true
		}
	}
	return seen, nil
}

func (m *MemoryStore) RecordTransactions(_ context.Context, importID string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		if _, ok := m.hashes[h]; !ok {
			m.hashes[h] = importID
		}
	}
	return nil
}

// ListImports returns recorded imports, newest first.
func (m *MemoryStore) ListImports(context.Context) ([]ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]ImportRecord, 0, len(m.imports))
	for _, r := range m.imports {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ImportedAt.After(recs[j].ImportedAt) })
	return recs, nil
}
