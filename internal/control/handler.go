package control

import (
	"context"
	"log/slog"

	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/partition"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// Handler answers control messages against the live partition table.
// Every successfully handled message produces exactly one reply value.
type Handler struct {
	table     *partition.Table
	storage   types.Storage
	fetcher   types.Fetcher
	manifest  types.Manifest
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewHandler creates a control message handler.
func NewHandler(table *partition.Table, storage types.Storage, fetcher types.Fetcher, manifest types.Manifest, collector *metrics.Collector) *Handler {
	return &Handler{
		table:     table,
		storage:   storage,
		fetcher:   fetcher,
		manifest:  manifest,
		collector: collector,
		logger:    slog.Default().With("component", "control"),
	}
}

// Handle dispatches one decoded message and returns its reply.
func (h *Handler) Handle(ctx context.Context, msg *Message) (interface{}, error) {
	h.collector.RecordControlMessage(string(msg.Type))

	switch msg.Type {
	case TypeCacheStatus:
		return h.cacheStatus(ctx)
	case TypeClearCache:
		return h.clearCache(ctx)
	case TypePreloadModels:
		return h.preloadModels(ctx)
	default:
		return nil, errors.NewError(errors.ErrCodeUnknownMessage, "unrecognized control message type").
			WithComponent("control").
			WithContext("type", string(msg.Type))
	}
}

// cacheStatus reports which manifest models the current model partition
// holds. Cached URLs come back in manifest order, never exceeding the
// manifest's length.
func (h *Handler) cacheStatus(ctx context.Context) (*types.StatusReport, error) {
	store, err := h.storage.Open(ctx, h.table.NameFor(types.KindModels))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "open model partition").
			WithComponent("control")
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "list model partition").
			WithComponent("control")
	}

	cachedSet := make(map[string]bool, len(keys))
	for _, key := range keys {
		cachedSet[key] = true
	}

	cached := make([]string, 0, len(h.manifest.ModelAssets))
	for _, asset := range h.manifest.ModelAssets {
		if cachedSet[asset] {
			cached = append(cached, asset)
		}
	}

	return &types.StatusReport{
		Version:      h.table.Version(),
		CachedModels: cached,
		TotalModels:  len(h.manifest.ModelAssets),
		CachedCount:  len(cached),
	}, nil
}

// clearCache deletes every partition, current generation included.
func (h *Handler) clearCache(ctx context.Context) (*AckReply, error) {
	names, err := h.storage.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreDelete, "list partitions").
			WithComponent("control")
	}
	for _, name := range names {
		if err := h.storage.Delete(ctx, name); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreDelete, "delete partition").
				WithComponent("control").
				WithContext("partition", name)
		}
		h.logger.Info("partition cleared", "partition", name)
	}
	return &AckReply{Success: true}, nil
}

// preloadModels fetches and stores every manifest model the current
// partition is missing. Per-asset failures are logged and skipped; the
// acknowledgement only says the sweep ran.
func (h *Handler) preloadModels(ctx context.Context) (*AckReply, error) {
	store, err := h.storage.Open(ctx, h.table.NameFor(types.KindModels))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "open model partition").
			WithComponent("control")
	}

	for _, asset := range h.manifest.ModelAssets {
		existing, err := store.Get(ctx, asset)
		if err != nil {
			h.logger.Warn("preload lookup failed, skipping", "asset", asset, "error", err)
			continue
		}
		if existing != nil {
			continue
		}
		resp, err := h.fetcher.Fetch(ctx, asset)
		if err != nil || !resp.Ok() {
			h.collector.RecordFetch(types.KindModels, false)
			h.logger.Warn("preload fetch failed, skipping", "asset", asset, "error", err)
			continue
		}
		h.collector.RecordFetch(types.KindModels, true)
		if err := store.Put(ctx, asset, resp); err != nil {
			h.logger.Warn("preload store failed, skipping", "asset", asset, "error", err)
		}
	}
	return &AckReply{Success: true}, nil
}
