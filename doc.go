// Package querycache implements a client-side stale-while-revalidate cache for
// query results, keyed by request identity. Cached data is served immediately
// while a background revalidation runs; concurrent fetches for the same key
// collapse into a single loader call; optimistic mutations (add/edit/delete)
// are applied to the cached collection before the authoritative write confirms,
// with rollback and at-most-one user notification on failure.
//
// Components:
//   - Provider: byte store with TTL (in-memory by default; Ristretto, BigCache,
//     Redis adapters available).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Cache[T]: per-key entries with freshness, sequence number and last error.
//     Freshness always lives in-process; a durable provider only supplies warm
//     stale bytes after a restart, never fresh ones.
//   - Binding[T]: ties a view's interest to a key (eager or conditional), with
//     debounced search activation.
//   - Coordinator[T]: optimistic mutation apply/commit/rollback with
//     correlation-token notification dedup.
//
// Keys:
//
//	list:<ns>          - the full collection
//	search:<ns>:<hash> - collection filtered by a term (hash over the term)
//	item:<ns>:<id>     - a single entity
//
// Revalidation pattern:
//
//	items, err := cache.FetchCollection(ctx, querycache.CollectionKey(), loadAll)
//	// Fresh entry: loadAll not invoked. Pending entry: attaches to the
//	// in-flight call. Otherwise loadAll runs exactly once for all waiters.
package querycache
