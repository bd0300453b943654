package lifecycle

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*types.CapturedResponse
	failures  map[string]bool
	order     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*types.CapturedResponse),
		failures:  make(map[string]bool),
	}
}

func (f *fakeFetcher) serve(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &types.CapturedResponse{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:       []byte("payload:" + url),
		CapturedAt: time.Now(),
	}
}

func (f *fakeFetcher) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = true
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*types.CapturedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, url)
	if f.failures[url] {
		return nil, errors.NewError(errors.ErrCodeFetchFailed, "network down")
	}
	if resp, ok := f.responses[url]; ok {
		return resp.Clone(), nil
	}
	return nil, errors.NewError(errors.ErrCodeFetchFailed, "no route to host")
}

func disabledCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	c, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInstalling, "installing"},
		{StateInstalled, "installed"},
		{StateActivating, "activating"},
		{StateActivated, "activated"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// Individual model failures are skipped; install still completes with the
// models that did fetch.
func TestInstallToleratesModelFailures(t *testing.T) {
	ctx := context.Background()
	storage := partition.NewMemoryStorage()
	table := partition.NewTable("v7")
	fetcher := newFakeFetcher()

	models := []string{
		"/models/stage.glb", "/models/hall.glb", "/models/booth.glb",
		"/models/lobby.glb", "/models/roof.glb", "/models/garden.glb",
	}
	for _, m := range models {
		fetcher.serve(m)
	}
	fetcher.fail("/models/booth.glb")
	fetcher.fail("/models/roof.glb")

	manifest := types.Manifest{ModelAssets: models}
	m := NewManager(table, storage, fetcher, manifest, disabledCollector(t))

	if err := m.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got := m.State(); got != StateInstalled {
		t.Errorf("State() = %v, want %v", got, StateInstalled)
	}
	if !m.SkipWaiting() {
		t.Error("SkipWaiting() = false after successful install")
	}

	store, err := storage.Open(ctx, table.NameFor(types.KindModels))
	if err != nil {
		t.Fatal(err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 4 {
		t.Errorf("cached models = %d, want 4 (two failures skipped)", len(keys))
	}
	for _, failed := range []string{"/models/booth.glb", "/models/roof.glb"} {
		resp, err := store.Get(ctx, failed)
		if err != nil {
			t.Fatal(err)
		}
		if resp != nil {
			t.Errorf("failed asset %s unexpectedly cached", failed)
		}
	}
}

// Model precache proceeds in manifest order, one asset at a time.
func TestInstallModelsInManifestOrder(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	models := []string{"/models/a.glb", "/models/b.glb", "/models/c.glb"}
	for _, m := range models {
		fetcher.serve(m)
	}

	m := NewManager(partition.NewTable("v1"), partition.NewMemoryStorage(),
		fetcher, types.Manifest{ModelAssets: models}, disabledCollector(t))
	if err := m.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if len(fetcher.order) != len(models) {
		t.Fatalf("fetch count = %d, want %d", len(fetcher.order), len(models))
	}
	for i, want := range models {
		if fetcher.order[i] != want {
			t.Errorf("fetch[%d] = %s, want %s", i, fetcher.order[i], want)
		}
	}
}

// One failed static asset rejects the whole install and leaves the static
// partition empty.
func TestInstallRejectsOnStaticFailure(t *testing.T) {
	ctx := context.Background()
	storage := partition.NewMemoryStorage()
	table := partition.NewTable("v7")
	fetcher := newFakeFetcher()

	static := []string{"/app.js", "/app.css", "/logo.svg", "/index.html"}
	for _, s := range static {
		fetcher.serve(s)
	}
	fetcher.fail("/logo.svg")

	m := NewManager(table, storage, fetcher, types.Manifest{StaticAssets: static}, disabledCollector(t))

	err := m.Install(ctx)
	if err == nil {
		t.Fatal("Install() succeeded despite static fetch failure")
	}
	if errors.GetCode(err) != errors.ErrCodeInstallFailed {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeInstallFailed)
	}
	if got := m.State(); got != StateInstalling {
		t.Errorf("State() = %v, want %v", got, StateInstalling)
	}
	if m.SkipWaiting() {
		t.Error("SkipWaiting() = true after failed install")
	}

	store, err := storage.Open(ctx, table.NameFor(types.KindStatic))
	if err != nil {
		t.Fatal(err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("static partition holds %d entries after failed batch, want 0", len(keys))
	}
}

// A non-200 static response rejects the install as hard as a transport
// failure does.
func TestInstallRejectsOnStaticErrorStatus(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.serve("/app.js")
	fetcher.responses["/app.css"] = &types.CapturedResponse{
		StatusCode: 404,
		Header:     http.Header{},
		Body:       []byte("not found"),
		CapturedAt: time.Now(),
	}

	m := NewManager(partition.NewTable("v1"), partition.NewMemoryStorage(),
		fetcher, types.Manifest{StaticAssets: []string{"/app.js", "/app.css"}}, disabledCollector(t))
	if err := m.Install(ctx); err == nil {
		t.Fatal("Install() succeeded despite 404 static response")
	}
}

// Activate removes every partition outside the current generation,
// whatever its name.
func TestActivateDeletesStalePartitions(t *testing.T) {
	ctx := context.Background()
	storage := partition.NewMemoryStorage()
	table := partition.NewTable("v8")

	stale := []string{
		partition.Name(types.KindModels, "v7"),
		partition.Name(types.KindStatic, "v7"),
		partition.Name(types.KindRuntime, "v7"),
		"legacy-cache",
	}
	current := []string{
		table.NameFor(types.KindModels),
		table.NameFor(types.KindStatic),
		table.NameFor(types.KindRuntime),
	}
	for _, name := range append(append([]string{}, stale...), current...) {
		if _, err := storage.Open(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(table, storage, newFakeFetcher(), types.Manifest{}, disabledCollector(t))
	if err := m.Activate(ctx); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if got := m.State(); got != StateActivated {
		t.Errorf("State() = %v, want %v", got, StateActivated)
	}

	names, err := storage.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != len(current) {
		t.Fatalf("surviving partitions = %v, want exactly %v", names, current)
	}
	for _, name := range names {
		if !table.IsCurrent(name) {
			t.Errorf("stale partition %s survived activate", name)
		}
	}
}
