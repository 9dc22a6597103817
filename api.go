package querycache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// Freshness is an entry's revalidation state.
type Freshness uint8

const (
	// Stale: data (if any) may be served but the next fetch runs the loader.
	Stale Freshness = iota
	// Fresh: data is current; fetches return it without running the loader.
	Fresh
	// Pending: exactly one loader is in flight; fetches attach to it.
	Pending
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Pending:
		return "pending"
	default:
		return "stale"
	}
}

// EntryState is a point-in-time snapshot of one cache entry's metadata.
type EntryState struct {
	Key       Key
	Freshness Freshness
	HasData   bool
	LastErr   error
	Seq       uint64
}

// CollectionLoader produces the authoritative value for a collection-shaped key.
type CollectionLoader[T any] func(ctx context.Context) ([]T, error)

// EntityLoader produces the authoritative value for an entity key.
type EntityLoader[T any] func(ctx context.Context) (T, error)

// SetCostFunc computes the cost passed to the provider on Set
// (used by cost-based providers such as Ristretto).
type SetCostFunc func(storageKey string, raw []byte) int64

// Cache is the stale-while-revalidate store for one resource family.
// T is the resource's item type; collection-shaped keys hold []T.
type Cache[T any] interface {
	Enabled() bool
	Close(context.Context) error

	// State snapshots an entry's metadata, creating an absent Stale entry if
	// none exists. It never fails.
	State(key Key) EntryState

	// Get* return the currently cached value without running any loader.
	// Corrupt or out-of-sequence provider bytes self-heal into a miss.
	GetCollection(ctx context.Context, key Key) ([]T, bool, error)
	GetEntity(ctx context.Context, key Key) (T, bool, error)

	// Fetch* implement stale-while-revalidate:
	//   Fresh   -> cached value, loader not invoked
	//   Pending -> attach to the in-flight loader and share its outcome
	//   else    -> entry goes Pending, loader runs exactly once; Fresh on
	//              success, Stale with LastErr recorded on failure
	// A completion whose entry was invalidated or overwritten while it was in
	// flight is returned to its waiters but not committed to the cache.
	FetchCollection(ctx context.Context, key Key, load CollectionLoader[T]) ([]T, error)
	FetchEntity(ctx context.Context, key Key, load EntityLoader[T]) (T, error)

	// Write* replace the cached value without a network round trip and mark
	// the entry Fresh. Used by optimistic mutation commits.
	WriteCollection(ctx context.Context, key Key, items []T) error
	WriteEntity(ctx context.Context, key Key, item T) error

	// Invalidate drops the cached value and forces the next fetch to run its
	// loader even if the entry was Fresh.
	Invalidate(ctx context.Context, key Key) error
}

// Options tune the behavior of the cache.
// Only Namespace and Codec are required; others have sensible defaults.
type Options[T any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions, e.g. "product", "book"
	Codec     c.Codec[T]

	// CollectionCodec serializes []T for collection-shaped keys.
	// nil => codec.Slice[T]{Elem: Codec}.
	CollectionCodec c.Codec[[]T]

	Provider       pr.Provider   // nil => in-process memory provider
	Logger         Logger        // nil => NopLogger
	Hooks          Hooks         // nil => NopHooks
	DefaultTTL     time.Duration // provider TTL for writes; 0 => 10m
	MetaRetention  time.Duration // prune idle entry metadata after this; 0 => keep forever
	SweepInterval  time.Duration // metadata sweep cadence; 0 => 1h (only runs with MetaRetention > 0)
	Disabled       bool          // pass-through mode: every fetch runs its loader
	ComputeSetCost SetCostFunc   // default 1
}

func New[T any](opts Options[T]) (Cache[T], error) {
	return newStore[T](opts)
}
