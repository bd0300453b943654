package types

import "context"

// Store defines a single named cache partition: a durable key-value store
// mapping normalized request URLs to captured responses. Writes are
// idempotent; the last write for a key wins.
type Store interface {
	// Get returns a deep copy of the stored response, or nil when the key
	// is absent.
	Get(ctx context.Context, key string) (*CapturedResponse, error)

	// Put stores a copy of the response under key, replacing any previous
	// entry.
	Put(ctx context.Context, key string, resp *CapturedResponse) error

	// Delete removes the entry for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)

	// Stats returns partition statistics.
	Stats() CacheStats
}

// Storage is the registry of named partitions. The lifecycle manager
// enumerates and deletes whole partitions through it during activation.
type Storage interface {
	// Open returns the partition with the given storage name, creating it
	// if it does not exist.
	Open(ctx context.Context, name string) (Store, error)

	// List returns the names of every existing partition.
	List(ctx context.Context) ([]string, error)

	// Delete removes a whole partition and all its entries.
	Delete(ctx context.Context, name string) error
}

// Fetcher retrieves a resource from the network and returns it as a
// captured response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*CapturedResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*CapturedResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*CapturedResponse, error) {
	return f(ctx, url)
}
