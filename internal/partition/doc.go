/*
Package partition implements the versioned cache partitions backing the
asset-cache engine.

A partition is a named, durable key-value store mapping normalized resource
URLs to captured responses. Three partition kinds exist (models, static,
runtime) and every partition name combines a kind with the current cache
version:

	models-v3   static-v3   runtime-v3

Name is the single source of this convention; the engine and the preloader
both call it, so the two sides can never drift apart. Table holds the three
current names and answers the membership question activation-time garbage
collection asks: is this partition part of the current generation?

# Store backends

Three Store implementations share the types.Store contract:

  - MemoryStore: process-local, used for tests and ephemeral deployments.
  - DiskStore: one body file per entry plus a JSON index written atomically;
    sha256 checksums detect corruption, optional gzip compresses bodies.
  - S3Store: partitions as key prefixes under a shared bucket, for fleets
    that want one warm cache across edge nodes.

All writes are idempotent: the last write for a key wins and concurrent
duplicate writes of the same resource are byte-identical, so racing
populates cause redundant traffic but never corruption. There is no
per-entry eviction or TTL; a partition lives and dies with its cache
version.
*/
package partition
