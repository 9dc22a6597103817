package querycache

import "sync"

type NotifyKind uint8

const (
	NotifySuccess NotifyKind = iota + 1
	NotifyError
)

func (k NotifyKind) String() string {
	if k == NotifySuccess {
		return "success"
	}
	return "error"
}

// Notification is a user-visible outcome message. CorrelationID identifies
// the logical operation that produced it; renderers must not show two
// entries with the same CorrelationID concurrently.
type Notification struct {
	Kind          NotifyKind
	Title         string
	CorrelationID string
}

// Notifier is the collaborator that renders notifications.
type Notifier interface {
	Notify(Notification)
}

type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// tokenRegistry guarantees at-most-once emission per correlation token.
// An outcome signal may fire more than once for one logical mutation
// (repeated effect evaluation on the consumer side); the first emission
// consumes the token, later ones are suppressed.
type tokenRegistry struct {
	mu       sync.Mutex
	consumed map[string]struct{}
}

func newTokenRegistry() *tokenRegistry {
	return &tokenRegistry{consumed: make(map[string]struct{})}
}

// consume marks token consumed and reports whether this call was the first.
// Consumed tokens are kept for the life of the registry; one small entry per
// mutation, so growth is bounded by the session's write activity.
func (r *tokenRegistry) consume(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumed[token]; ok {
		return false
	}
	r.consumed[token] = struct{}{}
	return true
}
