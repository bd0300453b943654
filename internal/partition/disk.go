package partition

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/assetcache/assetcache/pkg/types"
)

// DiskStore is a durable partition store. Each entry's body lives in its
// own file; entry metadata lives in a JSON index that is written atomically
// and synced periodically in the background.
type DiskStore struct {
	mu          sync.RWMutex
	directory   string
	compression bool
	index       map[string]*diskEntry
	currentSize int64
	stats       types.CacheStats

	stopCh chan struct{}
	closed bool
}

// DiskStoreConfig represents disk store configuration.
type DiskStoreConfig struct {
	Directory    string        `yaml:"directory"`
	Compression  bool          `yaml:"compression"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// diskEntry is the indexed metadata for one cached response.
type diskEntry struct {
	Key        string      `json:"key"`
	FilePath   string      `json:"file_path"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	BodySize   int64       `json:"body_size"`
	CapturedAt time.Time   `json:"captured_at"`
	Compressed bool        `json:"compressed"`
	Checksum   string      `json:"checksum"`
}

const indexFileName = "partition-index.json"

// NewDiskStore creates a disk-backed partition store rooted at the given
// directory, loading any existing index.
func NewDiskStore(config *DiskStoreConfig) (*DiskStore, error) {
	if config == nil {
		return nil, fmt.Errorf("disk store config is required")
	}
	syncInterval := config.SyncInterval
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}

	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}

	store := &DiskStore{
		directory:   config.Directory,
		compression: config.Compression,
		index:       make(map[string]*diskEntry),
		stopCh:      make(chan struct{}),
	}

	if err := store.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load partition index: %w", err)
	}

	go store.syncIndex(syncInterval)

	return store, nil
}

// Get returns the stored response for key, or nil on a miss. A corrupt
// entry (missing file, checksum mismatch) is dropped and reported as a
// miss; the next Put heals it.
func (s *DiskStore) Get(ctx context.Context, key string) (*types.CapturedResponse, error) {
	s.mu.RLock()
	entry, exists := s.index[key]
	s.mu.RUnlock()

	if !exists {
		s.recordMiss()
		return nil, nil
	}

	body, err := s.readBody(entry)
	if err != nil {
		s.mu.Lock()
		if cur, ok := s.index[key]; ok && cur == entry {
			delete(s.index, key)
			s.currentSize -= entry.BodySize
		}
		s.stats.Misses++
		s.updateHitRate()
		s.mu.Unlock()
		_ = os.Remove(entry.FilePath)
		return nil, nil
	}

	s.mu.Lock()
	s.stats.Hits++
	s.updateHitRate()
	s.mu.Unlock()

	resp := &types.CapturedResponse{
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		Body:       body,
		CapturedAt: entry.CapturedAt,
	}
	return resp.Clone(), nil
}

// Put stores a copy of the response under key, replacing any previous
// entry.
func (s *DiskStore) Put(ctx context.Context, key string, resp *types.CapturedResponse) error {
	entry := &diskEntry{
		Key:        key,
		FilePath:   s.entryFilePath(key),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		BodySize:   resp.Size(),
		CapturedAt: resp.CapturedAt,
		Compressed: s.compression,
		Checksum:   checksum(resp.Body),
	}
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = time.Now()
	}

	if err := s.writeBody(entry, resp.Body); err != nil {
		return fmt.Errorf("failed to write cached body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.index[key]; exists {
		s.currentSize -= old.BodySize
	}
	s.index[key] = entry
	s.currentSize += entry.BodySize
	return nil
}

// Delete removes the entry for key.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.index[key]
	if !exists {
		return nil
	}
	delete(s.index, key)
	s.currentSize -= entry.BodySize
	_ = os.Remove(entry.FilePath)
	return nil
}

// Keys lists every stored key in sorted order.
func (s *DiskStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns partition statistics.
func (s *DiskStore) Stats() types.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Entries = len(s.index)
	stats.Size = s.currentSize
	return stats
}

// Close stops the background sync and writes a final index.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return s.saveIndex()
}

// Helper methods

func (s *DiskStore) recordMiss() {
	s.mu.Lock()
	s.stats.Misses++
	s.updateHitRate()
	s.mu.Unlock()
}

func (s *DiskStore) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

func (s *DiskStore) entryFilePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	filename := fmt.Sprintf("%x", hash[:8])
	return filepath.Join(s.directory, filename+".cache")
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

func (s *DiskStore) writeBody(entry *diskEntry, body []byte) error {
	tmpPath := entry.FilePath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	var writer io.Writer = file
	var gzipWriter *gzip.Writer
	if entry.Compressed {
		gzipWriter = gzip.NewWriter(file)
		writer = gzipWriter
	}

	if _, err := writer.Write(body); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Atomic replace keeps concurrent readers on the previous body.
	return os.Rename(tmpPath, entry.FilePath)
}

func (s *DiskStore) readBody(entry *diskEntry) ([]byte, error) {
	file, err := os.Open(entry.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if entry.Compressed {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if checksum(body) != entry.Checksum {
		return nil, fmt.Errorf("checksum mismatch for cached entry %s", entry.Key)
	}

	return body, nil
}

func (s *DiskStore) loadIndex() error {
	indexPath := filepath.Join(s.directory, indexFileName)

	file, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var entries map[string]*diskEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return err
	}

	s.currentSize = 0
	for key, entry := range entries {
		// Skip entries whose body file disappeared.
		if _, err := os.Stat(entry.FilePath); os.IsNotExist(err) {
			continue
		}
		s.index[key] = entry
		s.currentSize += entry.BodySize
	}

	return nil
}

func (s *DiskStore) saveIndex() error {
	indexPath := filepath.Join(s.directory, indexFileName)
	tmpPath := indexPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(file).Encode(s.index); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, indexPath)
}

func (s *DiskStore) syncIndex(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			_ = s.saveIndex()
			s.mu.RUnlock()
		}
	}
}

// DiskStorage is a disk-backed registry of named partitions. Each partition
// lives in its own subdirectory under the root.
type DiskStorage struct {
	mu          sync.Mutex
	root        string
	compression bool
	open        map[string]*DiskStore
}

// NewDiskStorage creates a partition registry rooted at the given
// directory.
func NewDiskStorage(root string, compression bool) (*DiskStorage, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &DiskStorage{
		root:        root,
		compression: compression,
		open:        make(map[string]*DiskStore),
	}, nil
}

// Open returns the named partition, creating its directory if absent.
func (s *DiskStorage) Open(ctx context.Context, name string) (types.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, exists := s.open[name]; exists {
		return store, nil
	}

	store, err := NewDiskStore(&DiskStoreConfig{
		Directory:   filepath.Join(s.root, name),
		Compression: s.compression,
	})
	if err != nil {
		return nil, err
	}
	s.open[name] = store
	return store, nil
}

// List returns the names of every existing partition in sorted order.
func (s *DiskStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a whole partition directory and all its entries.
func (s *DiskStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	if store, exists := s.open[name]; exists {
		_ = store.Close()
		delete(s.open, name)
	}
	s.mu.Unlock()

	return os.RemoveAll(filepath.Join(s.root, name))
}

// Close closes every open partition, flushing their indexes.
func (s *DiskStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, store := range s.open {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
