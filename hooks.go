package querycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A fetch attached to an in-flight loader instead of starting its own.
	FetchShared(storageKey string)

	// A loader completed after its entry had been invalidated or overwritten;
	// the result was handed to its waiters but not committed to the cache.
	SupersededCompletion(storageKey string, loadedSeq, currentSeq uint64)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "seq_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A mutation applied its optimistic collection value.
	OptimisticApplied(op, targetID string)

	// A failed mutation restored the pre-mutation snapshot.
	RollbackApplied(op, targetID string)

	// A duplicate outcome signal was suppressed by its correlation token.
	NotificationSuppressed(correlationID string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchShared(string)                          {}
func (NopHooks) SupersededCompletion(string, uint64, uint64) {}
func (NopHooks) SelfHeal(string, string)                     {}
func (NopHooks) ProviderSetRejected(string)                  {}
func (NopHooks) OptimisticApplied(string, string)            {}
func (NopHooks) RollbackApplied(string, string)              {}
func (NopHooks) NotificationSuppressed(string)               {}
