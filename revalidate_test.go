package querycache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory transport collaborator shared by the binding
// and coordinator tests.
type fakeTransport struct {
	mu          sync.Mutex
	items       []book
	listCalls   int
	searchTerms []string
	getIDs      []string
	removed     []string
	created     []book

	blockGetID  map[string]chan struct{}
	blockSearch chan struct{}

	listErr   error
	searchErr error
	createErr error
	updateErr error
	removeErr error
	onRemove  func()
}

func newFakeTransport(items ...book) *fakeTransport {
	return &fakeTransport{
		items:      append([]book(nil), items...),
		blockGetID: make(map[string]chan struct{}),
	}
}

func (f *fakeTransport) List(context.Context) ([]book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]book(nil), f.items...), nil
}

func (f *fakeTransport) Search(_ context.Context, term string) ([]book, error) {
	f.mu.Lock()
	f.searchTerms = append(f.searchTerms, term)
	block := f.blockSearch
	err := f.searchErr
	items := append([]book(nil), f.items...)
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	var out []book
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Title), strings.ToLower(term)) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeTransport) GetByID(_ context.Context, id string) (book, error) {
	f.mu.Lock()
	f.getIDs = append(f.getIDs, id)
	block := f.blockGetID[id]
	items := append([]book(nil), f.items...)
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return book{}, &Error{Kind: KindNotFound, Op: "get", Key: EntityKey(id), Err: errNoRecord}
}

func (f *fakeTransport) Create(_ context.Context, item book) (book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return book{}, f.createErr
	}
	f.items = append(f.items, item)
	f.created = append(f.created, item)
	return item, nil
}

func (f *fakeTransport) Update(_ context.Context, id string, item book) (book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return book{}, f.updateErr
	}
	for i, it := range f.items {
		if it.ID == id {
			f.items[i] = item
			return item, nil
		}
	}
	return book{}, &Error{Kind: KindNotFound, Op: "update", Key: EntityKey(id), Err: errNoRecord}
}

func (f *fakeTransport) Remove(_ context.Context, id string) error {
	if f.onRemove != nil {
		f.onRemove()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	out := f.items[:0:0]
	for _, it := range f.items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	f.items = out
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeTransport) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searchTerms)
}

func (f *fakeTransport) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

var _ Transport[book] = (*fakeTransport)(nil)

// viewSink collects binding change events.
type viewSink struct {
	ch chan View[book]
}

func newViewSink() *viewSink {
	return &viewSink{ch: make(chan View[book], 32)}
}

func (s *viewSink) onChange(v View[book]) { s.ch <- v }

// waitSettled returns the first view that is active with loading finished.
func (s *viewSink) waitSettled(t *testing.T) View[book] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-s.ch:
			if v.Active && !v.Loading {
				return v
			}
		case <-deadline:
			t.Fatalf("binding never settled")
		}
	}
}

func (s *viewSink) waitInactive(t *testing.T) View[book] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-s.ch:
			if !v.Active {
				return v
			}
		case <-deadline:
			t.Fatalf("binding never deactivated")
		}
	}
}

func newTestBinding(t *testing.T, tr Transport[book], mode BindingMode, sink *viewSink) (*Binding[book], Cache[book]) {
	t.Helper()
	cc := newTestCache(t, nil)
	opts := BindingOptions[book]{Mode: mode}
	if sink != nil {
		opts.OnChange = sink.onChange
	}
	b, err := NewBinding[book](cc, tr, opts)
	if err != nil {
		t.Fatalf("NewBinding: %v", err)
	}
	return b, cc
}

// TestEagerBindingFetchesOnStart: an eager binding fetches the collection
// listing as soon as the owning view mounts.
func TestEagerBindingFetchesOnStart(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Eager, sink)

	b.Start(ctx)
	v := sink.waitSettled(t)
	if len(v.Items) != 3 || v.Err != nil {
		t.Fatalf("settled view: %+v", v)
	}
	if tr.listCount() != 1 {
		t.Fatalf("List called %d times, want 1", tr.listCount())
	}
}

// TestConditionalBindingWaitsForTrigger: no fetch happens until an explicit
// activation; Start is a no-op for conditional bindings.
func TestConditionalBindingWaitsForTrigger(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Conditional, sink)

	b.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	if tr.listCount() != 0 || tr.searchCount() != 0 {
		t.Fatalf("conditional binding fetched before activation")
	}
	if v := b.View(); v.Active {
		t.Fatalf("binding should be inactive, got %+v", v)
	}

	b.Activate(ctx, EntityKey("2"))
	v := sink.waitSettled(t)
	if !v.HasItem || v.Item.ID != "2" {
		t.Fatalf("settled view: %+v", v)
	}
}

// TestDeactivateClearsLoadingKeepsCache: deactivation drops the loading
// indicator immediately; the in-flight response may still land in the cache
// for later reuse, but never in the view.
func TestDeactivateClearsLoadingKeepsCache(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	tr.blockSearch = make(chan struct{})
	sink := newViewSink()
	b, cc := newTestBinding(t, tr, Conditional, sink)

	key := SearchKey("dune")
	b.Activate(ctx, key)
	if v := b.View(); !v.Loading {
		t.Fatalf("view should be loading, got %+v", v)
	}

	b.Deactivate()
	v := sink.waitInactive(t)
	if v.Loading {
		t.Fatalf("deactivated view still loading: %+v", v)
	}

	close(tr.blockSearch)
	// wait for the late completion to reach the cache
	deadline := time.After(2 * time.Second)
	for {
		if items, ok, _ := cc.GetCollection(ctx, key); ok {
			if len(items) != 1 || items[0].Title != "Dune" {
				t.Fatalf("cached search result: %v", items)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("late completion never populated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if v := b.View(); v.Active || len(v.Items) != 0 {
		t.Fatalf("late completion leaked into the view: %+v", v)
	}
}

// TestLateCompletionForSupersededKeyNotVisible: opening entity E while a
// slower fetch for entity F is still pending must never show F's data once
// F's fetch resolves late.
func TestLateCompletionForSupersededKeyNotVisible(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	releaseF := make(chan struct{})
	tr.blockGetID["1"] = releaseF
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Conditional, sink)

	b.Activate(ctx, EntityKey("1")) // F: slow
	b.Activate(ctx, EntityKey("2")) // E: fast

	v := sink.waitSettled(t)
	if !v.HasItem || v.Item.ID != "2" {
		t.Fatalf("settled view: %+v", v)
	}

	close(releaseF)
	time.Sleep(50 * time.Millisecond)
	if v := b.View(); v.Item.ID != "2" {
		t.Fatalf("late completion for superseded entity became visible: %+v", v)
	}
}

// TestRefreshForcesRevalidate: Refresh bypasses Fresh and reruns the loader.
func TestRefreshForcesRevalidate(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Eager, sink)

	b.Start(ctx)
	sink.waitSettled(t)
	b.Refresh(ctx)
	sink.waitSettled(t)

	if tr.listCount() != 2 {
		t.Fatalf("List called %d times, want 2", tr.listCount())
	}
}

// TestSearchBindingDebouncedFetch: typing faster than the quiet period
// produces zero fetches until the input settles, then exactly one fetch for
// the final term.
func TestSearchBindingDebouncedFetch(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Conditional, sink)
	sb := NewSearchBinding[book](ctx, b, 50*time.Millisecond)
	defer sb.Stop()

	sb.Observe("d")
	time.Sleep(10 * time.Millisecond)
	sb.Observe("du")
	time.Sleep(10 * time.Millisecond)
	sb.Observe("dune")

	time.Sleep(20 * time.Millisecond)
	if n := tr.searchCount(); n != 0 {
		t.Fatalf("search fired before the term settled: %d calls", n)
	}

	v := sink.waitSettled(t)
	if len(v.Items) != 1 || v.Items[0].Title != "Dune" {
		t.Fatalf("settled view: %+v", v)
	}
	tr.mu.Lock()
	terms := append([]string(nil), tr.searchTerms...)
	tr.mu.Unlock()
	if len(terms) != 1 || terms[0] != "dune" {
		t.Fatalf("want exactly one search for %q, got %v", "dune", terms)
	}
}

// TestSearchBindingEmptyTermDeactivates: a cleared input deactivates the
// search key without ever issuing a request for the empty term.
func TestSearchBindingEmptyTermDeactivates(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(testBooks...)
	sink := newViewSink()
	b, _ := newTestBinding(t, tr, Conditional, sink)
	sb := NewSearchBinding[book](ctx, b, 30*time.Millisecond)
	defer sb.Stop()

	sb.Observe("dune")
	sink.waitSettled(t)

	sb.Observe("")
	v := sink.waitInactive(t)
	if v.Loading {
		t.Fatalf("deactivated view still loading: %+v", v)
	}

	tr.mu.Lock()
	terms := append([]string(nil), tr.searchTerms...)
	tr.mu.Unlock()
	for _, term := range terms {
		if term == "" {
			t.Fatalf("a request was issued for the empty term: %v", terms)
		}
	}
	if len(terms) != 1 {
		t.Fatalf("want 1 search call total, got %v", terms)
	}
}

func TestNewBindingValidation(t *testing.T) {
	cc := newTestCache(t, nil)
	tr := newFakeTransport()

	if _, err := NewBinding[book](nil, tr, BindingOptions[book]{Mode: Eager}); err == nil {
		t.Fatalf("NewBinding should reject nil cache")
	}
	if _, err := NewBinding[book](cc, nil, BindingOptions[book]{Mode: Eager}); err == nil {
		t.Fatalf("NewBinding should reject nil transport")
	}
	if _, err := NewBinding[book](cc, tr, BindingOptions[book]{}); err == nil {
		t.Fatalf("NewBinding should reject missing mode")
	}
}
