package strategy

import (
	"context"
	"log/slog"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/pkg/types"
)

// fetchResult carries a settled network fetch between goroutines.
type fetchResult struct {
	resp *types.CapturedResponse
	err  error
}

// StaleWhileRevalidate serves static assets: the cached copy answers
// immediately while a concurrent network fetch refreshes the partition for
// the next request.
type StaleWhileRevalidate struct {
	store     types.Store
	fetcher   types.Fetcher
	collector *metrics.Collector
	logger    *slog.Logger

	// background runs refresh work decoupled from the request lifetime,
	// keeping the engine's event-not-done-until-work-done contract.
	background func(func())
}

// NewStaleWhileRevalidate creates the stale-while-revalidate strategy over
// a static partition. background runs deferred refresh work; the engine
// passes its task group so Close can join in-flight refreshes.
func NewStaleWhileRevalidate(store types.Store, fetcher types.Fetcher, collector *metrics.Collector, background func(func())) *StaleWhileRevalidate {
	if background == nil {
		background = func(f func()) { go f() }
	}
	return &StaleWhileRevalidate{
		store:      store,
		fetcher:    fetcher,
		collector:  collector,
		logger:     slog.Default().With("component", "strategy", "strategy", "stale-while-revalidate"),
		background: background,
	}
}

// Serve always initiates a network fetch. With a cached match the cached
// response returns immediately and the fetch settles in the background;
// without one the caller waits for the network, falling back to any copy
// that appeared concurrently.
func (s *StaleWhileRevalidate) Serve(ctx context.Context, key string) (*types.CapturedResponse, error) {
	// The fetch must outlive the request: a page navigating away abandons
	// interest, but the refresh still completes.
	fetchCtx := context.WithoutCancel(ctx)
	resultCh := make(chan fetchResult, 1)
	s.background(func() {
		resp, err := s.fetcher.Fetch(fetchCtx, key)
		s.collector.RecordFetch(types.KindStatic, err == nil)
		if err == nil && resp.Ok() {
			if putErr := s.store.Put(fetchCtx, key, resp); putErr != nil {
				s.logger.Warn("refresh store failed", "key", key, "error", putErr)
			}
		}
		resultCh <- fetchResult{resp: resp, err: err}
	})

	cached, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.collector.RecordCacheHit(types.KindStatic)
		return cached, nil
	}
	s.collector.RecordCacheMiss(types.KindStatic)

	result := <-resultCh
	if result.err != nil {
		// A concurrent populate may have landed while we waited.
		if late, getErr := s.store.Get(ctx, key); getErr == nil && late != nil {
			return late, nil
		}
		return nil, result.err
	}
	return result.resp, nil
}
