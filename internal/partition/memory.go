package partition

import (
	"context"
	"sort"
	"sync"

	"github.com/assetcache/assetcache/pkg/types"
)

// MemoryStore is an in-memory partition store. Partitions are bounded by
// their version generation and garbage-collected wholesale on activation,
// so there is no per-entry eviction.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]*types.CapturedResponse
	currentSize int64
	stats       types.CacheStats
}

// NewMemoryStore creates an empty in-memory partition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*types.CapturedResponse),
	}
}

// Get returns a deep copy of the stored response, or nil on a miss.
func (s *MemoryStore) Get(ctx context.Context, key string) (*types.CapturedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, exists := s.entries[key]
	if !exists {
		s.stats.Misses++
		s.updateHitRate()
		return nil, nil
	}

	s.stats.Hits++
	s.updateHitRate()
	return resp.Clone(), nil
}

// Put stores a copy of the response under key. The last write for a key
// wins.
func (s *MemoryStore) Put(ctx context.Context, key string, resp *types.CapturedResponse) error {
	stored := resp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[key]; exists {
		s.currentSize -= old.Size()
	}
	s.entries[key] = stored
	s.currentSize += stored.Size()
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[key]; exists {
		s.currentSize -= old.Size()
		delete(s.entries, key)
	}
	return nil
}

// Keys lists every stored key in sorted order.
func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns partition statistics.
func (s *MemoryStore) Stats() types.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Entries = len(s.entries)
	stats.Size = s.currentSize
	return stats
}

func (s *MemoryStore) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

// MemoryStorage is an in-memory registry of named partitions.
type MemoryStorage struct {
	mu         sync.Mutex
	partitions map[string]*MemoryStore
}

// NewMemoryStorage creates an empty in-memory partition registry.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*MemoryStore),
	}
}

// Open returns the named partition, creating it if absent.
func (s *MemoryStorage) Open(ctx context.Context, name string) (types.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, exists := s.partitions[name]
	if !exists {
		store = NewMemoryStore()
		s.partitions[name] = store
	}
	return store, nil
}

// List returns the names of every existing partition in sorted order.
func (s *MemoryStorage) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a whole partition and all its entries.
func (s *MemoryStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, name)
	return nil
}
