package strategy

import (
	"context"
	"log/slog"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/pkg/types"
)

// CacheFirst serves model assets: once cached, a resource never touches the
// network again. Model files are large, immutable-per-version payloads, so
// staleness never matters once a copy exists.
type CacheFirst struct {
	store     types.Store
	fetcher   types.Fetcher
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewCacheFirst creates the cache-first strategy over a model partition.
func NewCacheFirst(store types.Store, fetcher types.Fetcher, collector *metrics.Collector) *CacheFirst {
	return &CacheFirst{
		store:     store,
		fetcher:   fetcher,
		collector: collector,
		logger:    slog.Default().With("component", "strategy", "strategy", "cache-first"),
	}
}

// Serve returns the cached response when present; otherwise it fetches,
// backfills the cache, and returns the live response. A network failure on
// a miss propagates to the caller.
func (s *CacheFirst) Serve(ctx context.Context, key string) (*types.CapturedResponse, error) {
	cached, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.collector.RecordCacheHit(types.KindModels)
		return cached, nil
	}
	s.collector.RecordCacheMiss(types.KindModels)

	resp, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		s.collector.RecordFetch(types.KindModels, false)
		return nil, err
	}
	s.collector.RecordFetch(types.KindModels, true)

	if resp.Ok() {
		if err := s.store.Put(ctx, key, resp); err != nil {
			// A failed backfill costs a refetch later, not the response.
			s.logger.Warn("cache backfill failed", "key", key, "error", err)
		}
	}

	return resp, nil
}
