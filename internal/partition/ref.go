package partition

import (
	"context"

	"github.com/assetcache/assetcache/pkg/types"
)

// Ref is a Store that resolves its named partition through the registry
// on every operation. Long-lived holders (the strategies) therefore
// observe whole-partition deletions immediately, instead of serving an
// orphaned handle to data that no longer exists.
type Ref struct {
	storage types.Storage
	name    string
}

// NewRef creates a resolving reference to the named partition.
func NewRef(storage types.Storage, name string) *Ref {
	return &Ref{storage: storage, name: name}
}

// Name returns the partition storage name the reference resolves.
func (r *Ref) Name() string {
	return r.name
}

func (r *Ref) resolve(ctx context.Context) (types.Store, error) {
	return r.storage.Open(ctx, r.name)
}

// Get implements types.Store.
func (r *Ref) Get(ctx context.Context, key string) (*types.CapturedResponse, error) {
	store, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// Put implements types.Store.
func (r *Ref) Put(ctx context.Context, key string, resp *types.CapturedResponse) error {
	store, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, resp)
}

// Delete implements types.Store.
func (r *Ref) Delete(ctx context.Context, key string) error {
	store, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	return store.Delete(ctx, key)
}

// Keys implements types.Store.
func (r *Ref) Keys(ctx context.Context) ([]string, error) {
	store, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return store.Keys(ctx)
}

// Stats implements types.Store.
func (r *Ref) Stats() types.CacheStats {
	store, err := r.resolve(context.Background())
	if err != nil {
		return types.CacheStats{}
	}
	return store.Stats()
}
