// Package engine ties the cache subsystem together: partition table,
// strategy selection, lifecycle, and the control channel behind one
// http.Handler.
package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/internal/control"
	"github.com/assetcache/assetcache/internal/lifecycle"
	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/internal/strategy"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// Strategy serves one resource class from its partition.
type Strategy interface {
	Serve(ctx context.Context, key string) (*types.CapturedResponse, error)
}

// Engine is the caching front for one origin. Same-origin requests with a
// recognized resource class are served by the class's strategy; everything
// else passes through to the origin untouched.
type Engine struct {
	table      *partition.Table
	storage    types.Storage
	selector   *strategy.Selector
	strategies map[strategy.Class]Strategy
	lifecycle  *lifecycle.Manager
	channel    *control.Channel
	collector  *metrics.Collector
	proxy      *httputil.ReverseProxy
	tasks      *taskGroup
	logger     *slog.Logger
}

// New builds an engine from configuration. The fetcher is injected so
// tests can script the network; the daemon passes an HTTP fetcher bound
// to the configured origin.
func New(cfg *config.Configuration, storage types.Storage, fetcher types.Fetcher, manifest types.Manifest, collector *metrics.Collector) (*Engine, error) {
	originURL, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid origin URL").
			WithComponent("engine")
	}

	table := partition.NewTable(cfg.Cache.Version)

	// Refs resolve the partition on every operation, so a CLEAR_CACHE that
	// deletes partitions through the registry is observed by the
	// strategies instead of them serving orphaned handles.
	modelStore := partition.NewRef(storage, table.NameFor(types.KindModels))
	staticStore := partition.NewRef(storage, table.NameFor(types.KindStatic))
	runtimeStore := partition.NewRef(storage, table.NameFor(types.KindRuntime))

	tasks := &taskGroup{}
	e := &Engine{
		table:    table,
		storage:  storage,
		selector: strategy.NewSelector(originURL.Host),
		strategies: map[strategy.Class]Strategy{
			strategy.ClassModel:    strategy.NewCacheFirst(modelStore, fetcher, collector),
			strategy.ClassStatic:   strategy.NewStaleWhileRevalidate(staticStore, fetcher, collector, tasks.Go),
			strategy.ClassDocument: strategy.NewNetworkFirst(runtimeStore, fetcher, collector),
		},
		lifecycle: lifecycle.NewManager(table, storage, fetcher, manifest, collector),
		collector: collector,
		proxy:     httputil.NewSingleHostReverseProxy(originURL),
		tasks:     tasks,
		logger:    slog.Default().With("component", "engine", "version", table.Version()),
	}
	e.channel = control.NewChannel(control.NewHandler(table, storage, fetcher, manifest, collector))
	return e, nil
}

// Install runs the install phase: precache both manifests.
func (e *Engine) Install(ctx context.Context) error {
	return e.lifecycle.Install(ctx)
}

// Activate garbage-collects stale partitions and takes over serving.
func (e *Engine) Activate(ctx context.Context) error {
	return e.lifecycle.Activate(ctx)
}

// statsPollInterval is how often partition gauges are refreshed.
const statsPollInterval = 30 * time.Second

// Start launches the control dispatch loop and the partition stats
// poller. Both run until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.tasks.Go(func() {
		e.channel.Serve(ctx)
	})
	e.tasks.Go(func() {
		ticker := time.NewTicker(statsPollInterval)
		defer ticker.Stop()
		for {
			e.pollPartitionStats(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// pollPartitionStats feeds each current partition's entry and byte
// counts into the collector's gauges.
func (e *Engine) pollPartitionStats(ctx context.Context) {
	for _, name := range e.table.Current() {
		store, err := e.storage.Open(ctx, name)
		if err != nil {
			e.logger.Warn("stats poll failed", "partition", name, "error", err)
			continue
		}
		e.collector.UpdatePartition(name, store.Stats())
	}
}

// Close joins all background work: in-flight revalidations, backfills,
// and the control loop. Callers cancel the Start context first.
func (e *Engine) Close() {
	e.tasks.Wait()
}

// State returns the lifecycle state, for health reporting.
func (e *Engine) State() lifecycle.State {
	return e.lifecycle.State()
}

// ServeHTTP intercepts classifiable GET requests and hands the rest to
// the origin proxy.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		e.proxy.ServeHTTP(w, r)
		return
	}

	class := e.selector.Classify(r.URL)
	s, ok := e.strategies[class]
	if !ok {
		e.proxy.ServeHTTP(w, r)
		return
	}

	resp, err := s.Serve(r.Context(), r.URL.Path)
	if err != nil {
		e.logger.Error("strategy failed", "path", r.URL.Path, "class", int(class), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeCaptured(w, r, resp)
}

// ServeControl is the HTTP transport for the control channel. Valid
// messages get their single JSON reply; undecodable ones are dropped
// with 204 and no body, mirroring the channel's no-reply contract.
func (e *Engine) ServeControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	replyCh := make(chan []byte, 1)
	if !e.channel.Submit(control.Request{Raw: raw, Reply: replyCh}) {
		http.Error(w, "control channel closed", http.StatusServiceUnavailable)
		return
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	case <-r.Context().Done():
	}
}

func writeCaptured(w http.ResponseWriter, r *http.Request, resp *types.CapturedResponse) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-Cache-Captured-At", resp.CapturedAt.UTC().Format(time.RFC3339))
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}
