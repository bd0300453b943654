// Package preload implements the page-side model preloader. It shares
// the engine's partition naming convention, so assets it stores are the
// same entries the cache-first strategy serves later.
package preload

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/retry"
	"github.com/assetcache/assetcache/pkg/types"
)

// Config tunes the preloader's two passes.
type Config struct {
	// IdleDelay is the pause before the second, retrying pass.
	IdleDelay time.Duration
	// RetryAttempts bounds per-asset retries during the second pass.
	RetryAttempts int
}

// DefaultConfig returns the preloader defaults.
func DefaultConfig() Config {
	return Config{
		IdleDelay:     3 * time.Second,
		RetryAttempts: 3,
	}
}

// Preloader warms the model partition from the page side: an immediate
// concurrent burst over the manifest, then an idle-time sweep that
// retries whatever is still missing.
type Preloader struct {
	table     *partition.Table
	storage   types.Storage
	fetcher   types.Fetcher
	manifest  types.Manifest
	collector *metrics.Collector
	config    Config
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a preloader for the given partition table.
func New(table *partition.Table, storage types.Storage, fetcher types.Fetcher, manifest types.Manifest, collector *metrics.Collector, config Config) *Preloader {
	return &Preloader{
		table:     table,
		storage:   storage,
		fetcher:   fetcher,
		manifest:  manifest,
		collector: collector,
		config:    config,
		logger:    slog.Default().With("component", "preload"),
	}
}

// Start launches both passes in the background: the burst first, then,
// once it has fully joined and the idle delay has elapsed, the sweep
// over whatever is still missing. Failures never surface past the log:
// a model that stays uncached falls back to on-demand fetching.
func (p *Preloader) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.initialBurst(ctx)
		p.idleSweep(ctx)
	}()
}

// Wait blocks until both passes have finished.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// initialBurst fires one fetch per manifest model, launched in priority
// order but running concurrently.
func (p *Preloader) initialBurst(ctx context.Context) {
	store, err := p.storage.Open(ctx, p.table.NameFor(types.KindModels))
	if err != nil {
		p.logger.Error("open model partition failed, burst skipped", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, asset := range p.manifest.ModelAssets {
		asset := asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.warmOne(ctx, store, asset); err != nil {
				p.logger.Warn("preload failed, will retry during idle sweep",
					"asset", asset, "error", err)
			}
		}()
	}
	wg.Wait()
}

// idleSweep waits out the idle delay, then retries each still-missing
// model with backoff.
func (p *Preloader) idleSweep(ctx context.Context) {
	select {
	case <-time.After(p.config.IdleDelay):
	case <-ctx.Done():
		return
	}

	store, err := p.storage.Open(ctx, p.table.NameFor(types.KindModels))
	if err != nil {
		p.logger.Error("open model partition failed, sweep skipped", "error", err)
		return
	}

	for _, asset := range p.manifest.ModelAssets {
		existing, err := store.Get(ctx, asset)
		if err != nil {
			p.logger.Warn("sweep lookup failed, skipping", "asset", asset, "error", err)
			continue
		}
		if existing != nil {
			continue
		}
		err = retry.RetryWithBackoff(ctx, p.config.RetryAttempts, func() error {
			return p.warmOne(ctx, store, asset)
		})
		if err != nil {
			p.logger.Warn("model still uncached after idle sweep", "asset", asset, "error", err)
		}
	}
}

// warmOne fetches one model and stores it if it is not already cached.
// Writes are idempotent, so losing a race to another writer is harmless.
func (p *Preloader) warmOne(ctx context.Context, store types.Store, asset string) error {
	existing, err := store.Get(ctx, asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	resp, err := p.fetcher.Fetch(ctx, asset)
	if err != nil {
		p.collector.RecordFetch(types.KindModels, false)
		return err
	}
	if !resp.Ok() {
		p.collector.RecordFetch(types.KindModels, false)
		return errFetchStatus(asset, resp.StatusCode)
	}
	p.collector.RecordFetch(types.KindModels, true)

	if err := store.Put(ctx, asset, resp); err != nil {
		return err
	}
	p.logger.Debug("model preloaded", "asset", asset, "bytes", resp.Size())
	return nil
}

func errFetchStatus(asset string, status int) error {
	return errors.NewError(errors.ErrCodeFetchStatus, "preload fetch returned error status").
		WithComponent("preload").
		WithContext("asset", asset).
		WithContext("status", strconv.Itoa(status))
}
