package strategy

import (
	"context"
	"log/slog"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/pkg/types"
)

// NetworkFirst serves documents: live content whenever connectivity
// exists, with the runtime partition as a fallback of last resort.
type NetworkFirst struct {
	store     types.Store
	fetcher   types.Fetcher
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewNetworkFirst creates the network-first strategy over a runtime
// partition.
func NewNetworkFirst(store types.Store, fetcher types.Fetcher, collector *metrics.Collector) *NetworkFirst {
	return &NetworkFirst{
		store:     store,
		fetcher:   fetcher,
		collector: collector,
		logger:    slog.Default().With("component", "strategy", "strategy", "network-first"),
	}
}

// Serve fetches from the network first, storing a copy of a successful
// response. On network failure it falls back to the cached copy; with
// neither, the failure propagates.
func (s *NetworkFirst) Serve(ctx context.Context, key string) (*types.CapturedResponse, error) {
	resp, err := s.fetcher.Fetch(ctx, key)
	if err == nil {
		s.collector.RecordFetch(types.KindRuntime, true)
		if resp.Ok() {
			if putErr := s.store.Put(ctx, key, resp); putErr != nil {
				s.logger.Warn("runtime cache update failed", "key", key, "error", putErr)
			}
		}
		return resp, nil
	}
	s.collector.RecordFetch(types.KindRuntime, false)

	cached, getErr := s.store.Get(ctx, key)
	if getErr == nil && cached != nil {
		s.collector.RecordCacheHit(types.KindRuntime)
		return cached, nil
	}
	s.collector.RecordCacheMiss(types.KindRuntime)
	return nil, err
}
