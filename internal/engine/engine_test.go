package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

type fakeFetcher struct {
	mu        sync.Mutex
	calls     atomic.Int64
	responses map[string]*types.CapturedResponse
	failures  map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*types.CapturedResponse),
		failures:  make(map[string]bool),
	}
}

func (f *fakeFetcher) serve(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &types.CapturedResponse{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:       []byte(body),
		CapturedAt: time.Now(),
	}
}

func (f *fakeFetcher) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = true
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*types.CapturedResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[url] {
		return nil, errors.NewError(errors.ErrCodeFetchFailed, "network down")
	}
	if resp, ok := f.responses[url]; ok {
		return resp.Clone(), nil
	}
	return nil, errors.NewError(errors.ErrCodeFetchFailed, "no route to host")
}

func newTestEngine(t *testing.T, origin string, fetcher types.Fetcher, manifest types.Manifest) (*Engine, types.Storage) {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Origin.URL = origin
	cfg.Cache.Version = "v1"

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	require.NoError(t, err)

	storage := partition.NewMemoryStorage()
	e, err := New(cfg, storage, fetcher, manifest, collector)
	require.NoError(t, err)
	return e, storage
}

func TestEngineServesModelThroughCacheFirst(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.serve("/models/stage.glb", "glb-bytes")
	e, _ := newTestEngine(t, "http://origin.test", fetcher, types.Manifest{})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/stage.glb", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "glb-bytes", rec.Body.String())
	}
	assert.Equal(t, int64(1), fetcher.calls.Load(), "model requests after the first must not touch the network")
}

func TestEngineServesDocumentThroughNetworkFirst(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.serve("/index.html", "<html>v1</html>")
	e, _ := newTestEngine(t, "http://origin.test", fetcher, types.Manifest{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>v1</html>", rec.Body.String())

	// Origin goes dark; the cached copy answers.
	fetcher.fail("/index.html")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>v1</html>", rec.Body.String())
}

func TestEngineFailurePropagatesAsBadGateway(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail("/models/missing.glb")
	e, _ := newTestEngine(t, "http://origin.test", fetcher, types.Manifest{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/missing.glb", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEngineProxiesUnclassifiedRequests(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("origin:" + r.URL.Path))
	}))
	defer origin.Close()

	fetcher := newFakeFetcher()
	e, _ := newTestEngine(t, origin.URL, fetcher, types.Manifest{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin:/api/v1/events.json", rec.Body.String())
	assert.Equal(t, int64(0), fetcher.calls.Load(), "unclassified paths bypass the cache entirely")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index.html", strings.NewReader("{}")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin:/index.html", rec.Body.String(), "non-GET methods bypass the cache")
}

// Re-storing the same asset is idempotent: one entry, latest payload.
func TestEngineRepeatedStaticWritesKeepSingleEntry(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.serve("/app.css", "body{}")
	e, storage := newTestEngine(t, "http://origin.test", fetcher, types.Manifest{})

	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.css", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	e.Close()

	store, err := storage.Open(ctx, partition.Name(types.KindStatic, "v1"))
	require.NoError(t, err)
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/app.css"}, keys)

	resp, err := store.Get(ctx, "/app.css")
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(resp.Body))
}

func TestEngineInstallActivateFlow(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.serve("/models/stage.glb", "glb")
	fetcher.serve("/app.js", "js")
	manifest := types.Manifest{
		ModelAssets:  []string{"/models/stage.glb"},
		StaticAssets: []string{"/app.js"},
	}

	e, storage := newTestEngine(t, "http://origin.test", fetcher, manifest)

	// A leftover partition from a previous generation.
	_, err := storage.Open(ctx, partition.Name(types.KindModels, "v0"))
	require.NoError(t, err)

	require.NoError(t, e.Install(ctx))
	require.NoError(t, e.Activate(ctx))

	names, err := storage.List(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.NotContains(t, name, "v0", "stale generation must be collected")
	}

	// Precached model served without another fetch.
	before := fetcher.calls.Load()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/stage.glb", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glb", rec.Body.String())
	assert.Equal(t, before, fetcher.calls.Load())
}

// A CLEAR_CACHE wipes what the strategies serve: previously cached
// models miss afterwards, so a dark origin turns into a bad gateway and
// a healthy one gets refetched.
func TestEngineClearCacheEvictsServedAssets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher()
	fetcher.serve("/models/stage.glb", "glb-bytes")
	e, _ := newTestEngine(t, "http://origin.test", fetcher, types.Manifest{})

	e.Start(ctx)
	defer func() {
		cancel()
		e.Close()
	}()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/stage.glb", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), fetcher.calls.Load())

	rec = httptest.NewRecorder()
	e.ServeControl(rec, httptest.NewRequest(http.MethodPost, "/control", strings.NewReader(`{"type":"CLEAR_CACHE"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	// Origin dark: the cleared cache has nothing to fall back on.
	fetcher.fail("/models/stage.glb")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/stage.glb", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code, "cleared model must not answer from a deleted partition")
	assert.Equal(t, int64(2), fetcher.calls.Load(), "cleared model must be refetched")

	// Origin back: the miss refills the partition.
	fetcher.serve("/models/stage.glb", "glb-bytes")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/stage.glb", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glb-bytes", rec.Body.String())
	assert.Equal(t, int64(3), fetcher.calls.Load())
}

// statsProbeStorage wraps memory storage and counts Stats() calls per
// partition.
type statsProbeStorage struct {
	*partition.MemoryStorage

	mu         sync.Mutex
	statsCalls map[string]int
}

func newStatsProbeStorage() *statsProbeStorage {
	return &statsProbeStorage{
		MemoryStorage: partition.NewMemoryStorage(),
		statsCalls:    make(map[string]int),
	}
}

func (s *statsProbeStorage) Open(ctx context.Context, name string) (types.Store, error) {
	store, err := s.MemoryStorage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &statsProbeStore{Store: store, storage: s, name: name}, nil
}

type statsProbeStore struct {
	types.Store
	storage *statsProbeStorage
	name    string
}

func (s *statsProbeStore) Stats() types.CacheStats {
	s.storage.mu.Lock()
	s.storage.statsCalls[s.name]++
	s.storage.mu.Unlock()
	return s.Store.Stats()
}

// The stats poll reads every current partition, feeding the per-partition
// gauges.
func TestEnginePollsPartitionStats(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefault()
	cfg.Origin.URL = "http://origin.test"
	cfg.Cache.Version = "v1"

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	require.NoError(t, err)

	storage := newStatsProbeStorage()
	e, err := New(cfg, storage, newFakeFetcher(), types.Manifest{}, collector)
	require.NoError(t, err)

	e.pollPartitionStats(ctx)

	storage.mu.Lock()
	defer storage.mu.Unlock()
	for _, name := range []string{
		partition.Name(types.KindModels, "v1"),
		partition.Name(types.KindStatic, "v1"),
		partition.Name(types.KindRuntime, "v1"),
	} {
		assert.Equal(t, 1, storage.statsCalls[name], "partition %s not polled", name)
	}
}

func TestEngineControlEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher()
	manifest := types.Manifest{ModelAssets: []string{"/models/stage.glb"}}
	e, _ := newTestEngine(t, "http://origin.test", fetcher, manifest)

	e.Start(ctx)
	defer func() {
		cancel()
		e.Close()
	}()

	rec := httptest.NewRecorder()
	e.ServeControl(rec, httptest.NewRequest(http.MethodPost, "/control", strings.NewReader(`{"type":"CACHE_STATUS"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var report types.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "v1", report.Version)
	assert.Equal(t, 1, report.TotalModels)
	assert.Equal(t, 0, report.CachedCount)

	// Undecodable messages are dropped without a reply.
	rec = httptest.NewRecorder()
	e.ServeControl(rec, httptest.NewRequest(http.MethodPost, "/control", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())

	rec = httptest.NewRecorder()
	e.ServeControl(rec, httptest.NewRequest(http.MethodGet, "/control", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
