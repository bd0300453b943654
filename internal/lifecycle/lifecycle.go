// Package lifecycle owns the engine's install and activate transitions:
// install-time precaching of the asset manifests and activate-time garbage
// collection of previous-generation partitions.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// State is the engine's lifecycle state.
type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActivating
	StateActivated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// Manager drives the install-then-activate sequence for one cache generation.
type Manager struct {
	table     *partition.Table
	storage   types.Storage
	fetcher   types.Fetcher
	manifest  types.Manifest
	collector *metrics.Collector
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
}

// NewManager creates a lifecycle manager for the given partition table.
func NewManager(table *partition.Table, storage types.Storage, fetcher types.Fetcher, manifest types.Manifest, collector *metrics.Collector) *Manager {
	return &Manager{
		table:     table,
		storage:   storage,
		fetcher:   fetcher,
		manifest:  manifest,
		collector: collector,
		logger:    slog.Default().With("component", "lifecycle", "version", table.Version()),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SkipWaiting reports whether install completed and the new generation may
// take over immediately.
func (m *Manager) SkipWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipWaiting
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.collector.SetLifecycleState(int(state))
	m.logger.Info("lifecycle state changed", "state", state.String())
}

// Install precaches the asset manifests. Model assets are fetched and
// stored sequentially in manifest order; individual failures are logged
// and skipped, leaving the asset to on-demand fetching. Static assets are
// an all-or-nothing batch: any failure fails the whole install and the
// previous generation stays active.
func (m *Manager) Install(ctx context.Context) error {
	m.setState(StateInstalling)

	if err := m.precacheModels(ctx); err != nil {
		return err
	}

	if err := m.precacheStatic(ctx); err != nil {
		m.logger.Error("static precache failed, install aborted", "error", err)
		return errors.Wrap(err, errors.ErrCodeInstallFailed, "static asset batch failed").
			WithComponent("lifecycle")
	}

	m.mu.Lock()
	m.skipWaiting = true
	m.mu.Unlock()
	m.setState(StateInstalled)
	return nil
}

// precacheModels populates the model partition in strict manifest order, a
// trade-off favoring clear progress logging over raw speed.
func (m *Manager) precacheModels(ctx context.Context) error {
	store, err := m.storage.Open(ctx, m.table.NameFor(types.KindModels))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInstallFailed, "open model partition").
			WithComponent("lifecycle")
	}

	for i, asset := range m.manifest.ModelAssets {
		resp, err := m.fetcher.Fetch(ctx, asset)
		if err != nil || !resp.Ok() {
			m.collector.RecordFetch(types.KindModels, false)
			// Uncached models fall back to on-demand fetching later.
			m.logger.Warn("model precache failed, skipping",
				"asset", asset, "progress", i+1, "total", len(m.manifest.ModelAssets), "error", err)
			continue
		}
		m.collector.RecordFetch(types.KindModels, true)
		if err := store.Put(ctx, asset, resp); err != nil {
			m.logger.Warn("model precache store failed, skipping", "asset", asset, "error", err)
			continue
		}
		m.logger.Info("model precached",
			"asset", asset, "progress", i+1, "total", len(m.manifest.ModelAssets))
	}
	return nil
}

// precacheStatic fetches every static asset concurrently and stores the
// batch only once all fetches succeeded, mirroring a bulk-store primitive
// that either lands completely or not at all.
func (m *Manager) precacheStatic(ctx context.Context) error {
	if len(m.manifest.StaticAssets) == 0 {
		return nil
	}

	store, err := m.storage.Open(ctx, m.table.NameFor(types.KindStatic))
	if err != nil {
		return err
	}

	fetched := make([]*types.CapturedResponse, len(m.manifest.StaticAssets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range m.manifest.StaticAssets {
		i, asset := i, asset
		g.Go(func() error {
			resp, err := m.fetcher.Fetch(gctx, asset)
			if err != nil {
				m.collector.RecordFetch(types.KindStatic, false)
				return err
			}
			if !resp.Ok() {
				m.collector.RecordFetch(types.KindStatic, false)
				return errors.NewError(errors.ErrCodeFetchStatus, "static precache fetch failed").
					WithComponent("lifecycle").
					WithContext("asset", asset)
			}
			m.collector.RecordFetch(types.KindStatic, true)
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, asset := range m.manifest.StaticAssets {
		if err := store.Put(ctx, asset, fetched[i]); err != nil {
			return err
		}
	}
	return nil
}

// Activate garbage-collects every partition outside the current
// generation's three names, then claims control. Deletions run
// concurrently since they are independent; any deletion failure surfaces
// in the joined error.
func (m *Manager) Activate(ctx context.Context) error {
	m.setState(StateActivating)

	names, err := m.storage.List(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeActivateFailed, "list partitions").
			WithComponent("lifecycle")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if m.table.IsCurrent(name) {
			continue
		}
		name := name
		g.Go(func() error {
			m.logger.Info("deleting stale partition", "partition", name)
			return m.storage.Delete(gctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, errors.ErrCodeActivateFailed, "stale partition deletion failed").
			WithComponent("lifecycle")
	}

	m.setState(StateActivated)
	m.logger.Info("claimed active clients")
	return nil
}
