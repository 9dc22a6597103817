package querycache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BindingMode selects when a binding's key becomes of interest.
type BindingMode uint8

const (
	// Eager: fetch as soon as the owning view mounts (Start).
	Eager BindingMode = iota + 1
	// Conditional: fetch only when Activate flips the binding active.
	Conditional
)

// View is the state a binding exposes to its consumer. Collection-shaped
// keys populate Items; entity keys populate Item/HasItem.
type View[T any] struct {
	Key     Key
	Active  bool
	Loading bool
	Items   []T
	Item    T
	HasItem bool
	Err     error
}

// BindingOptions configure a Binding.
type BindingOptions[T any] struct {
	Mode     BindingMode   // required
	OnChange func(View[T]) // invoked after every visible state transition; may be nil
	Logger   Logger        // nil => NopLogger
}

// Binding ties one view's interest to a cache key and governs when that key
// is fetched. Fetches run in the background; the visible view transitions to
// loading immediately and settles when the fetch completes. A completion for
// a key the binding has since moved away from never reaches the view, though
// it may still populate the cache for later reuse.
type Binding[T any] struct {
	cache     Cache[T]
	transport Transport[T]
	mode      BindingMode
	onChange  func(View[T])
	log       Logger

	mu    sync.Mutex
	epoch uint64 // bumped on every (de)activation; guards late completions
	view  View[T]
}

func NewBinding[T any](cache Cache[T], transport Transport[T], opts BindingOptions[T]) (*Binding[T], error) {
	if cache == nil {
		return nil, fmt.Errorf("querycache: binding cache is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("querycache: binding transport is required")
	}
	if opts.Mode != Eager && opts.Mode != Conditional {
		return nil, fmt.Errorf("querycache: binding mode is required")
	}
	return &Binding[T]{
		cache:     cache,
		transport: transport,
		mode:      opts.Mode,
		onChange:  opts.OnChange,
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
	}, nil
}

// Start activates an eager binding on the full collection. Conditional
// bindings ignore Start and wait for Activate.
func (b *Binding[T]) Start(ctx context.Context) {
	if b.mode != Eager {
		return
	}
	b.Activate(ctx, CollectionKey())
}

// Activate registers interest in key and fetches it. Re-activating with the
// same key while already active refetches only if the entry is not fresh
// (the cache decides); the view shows loading either way until settled.
func (b *Binding[T]) Activate(ctx context.Context, key Key) {
	if key.IsZero() {
		return
	}
	b.mu.Lock()
	b.epoch++
	epoch := b.epoch
	b.view = View[T]{Key: key, Active: true, Loading: true}
	// serve stale immediately while the fetch runs
	if key.IsCollectionShaped() {
		if items, ok, _ := b.cache.GetCollection(ctx, key); ok {
			b.view.Items = items
		}
	} else {
		if item, ok, _ := b.cache.GetEntity(ctx, key); ok {
			b.view.Item = item
			b.view.HasItem = true
		}
	}
	view := b.view
	b.mu.Unlock()

	b.emit(view)
	go b.fetch(ctx, key, epoch)
}

// Deactivate clears interest. The loading indicator drops instantly; an
// in-flight fetch may still complete into the cache but not into the view.
func (b *Binding[T]) Deactivate() {
	b.mu.Lock()
	b.epoch++
	b.view = View[T]{}
	view := b.view
	b.mu.Unlock()
	b.emit(view)
}

// Refresh forces the active key to revalidate even if fresh.
func (b *Binding[T]) Refresh(ctx context.Context) {
	b.mu.Lock()
	key := b.view.Key
	active := b.view.Active
	b.mu.Unlock()
	if !active {
		return
	}
	_ = b.cache.Invalidate(ctx, key)
	b.Activate(ctx, key)
}

// View returns a snapshot of the binding's visible state.
func (b *Binding[T]) View() View[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}

func (b *Binding[T]) fetch(ctx context.Context, key Key, epoch uint64) {
	var (
		items []T
		item  T
		err   error
	)
	switch key.Kind() {
	case KindCollection:
		items, err = b.cache.FetchCollection(ctx, key, b.transport.List)
	case KindSearch:
		items, err = b.cache.FetchCollection(ctx, key, func(ctx context.Context) ([]T, error) {
			return b.transport.Search(ctx, key.Term())
		})
	case KindEntity:
		item, err = b.cache.FetchEntity(ctx, key, func(ctx context.Context) (T, error) {
			return b.transport.GetByID(ctx, key.ID())
		})
	}

	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		b.log.Debug("dropped late completion", Fields{"key": key.String()})
		return
	}
	b.view.Loading = false
	b.view.Err = err
	if err == nil {
		switch {
		case key.IsCollectionShaped():
			b.view.Items = items
		default:
			b.view.Item = item
			b.view.HasItem = true
		}
	}
	view := b.view
	b.mu.Unlock()
	b.emit(view)
}

func (b *Binding[T]) emit(v View[T]) {
	if b.onChange != nil {
		b.onChange(v)
	}
}

// SearchBinding drives a conditional binding from a live input value. Raw
// input never fetches; only the debounced, quiet-period-settled term does.
// An empty settled term deactivates the search key entirely, never issuing
// a request for an empty term.
type SearchBinding[T any] struct {
	binding *Binding[T]
	deb     *Debouncer[string]
}

// NewSearchBinding wires a debouncer to binding. ctx bounds the fetches the
// settled terms trigger; it should span the owning view's lifetime.
func NewSearchBinding[T any](ctx context.Context, binding *Binding[T], quiet time.Duration) *SearchBinding[T] {
	sb := &SearchBinding[T]{binding: binding}
	sb.deb = NewDebouncer[string](quiet, func(term string) {
		if term == "" {
			binding.Deactivate()
			return
		}
		binding.Activate(ctx, SearchKey(term))
	})
	return sb
}

// Observe feeds one raw input change into the debouncer.
func (s *SearchBinding[T]) Observe(term string) { s.deb.Observe(term) }

// View exposes the underlying binding's visible state.
func (s *SearchBinding[T]) View() View[T] { return s.binding.View() }

// Stop cancels any pending settle and deactivates. Safe on view teardown:
// no commit fires afterward.
func (s *SearchBinding[T]) Stop() {
	s.deb.Stop()
	s.binding.Deactivate()
}
