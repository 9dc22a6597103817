// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/querycache"
//	"github.com/unkn0wn-root/querycache/codec"
//	asynchook "github.com/unkn0wn-root/querycache/hooks/async"
//	"github.com/unkn0wn-root/querycache/sloghooks"
//
// )
//
// raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    FetchSharedEvery: 10, // sample logs: ~every 10th shared fetch
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := querycache.New[Product](querycache.Options[Product]{
//	    Namespace: "product",
//	    Codec:     codec.JSON[Product]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	inner querycache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) FetchShared(k string) { h.try(func() { h.inner.FetchShared(k) }) }
func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) SupersededCompletion(k string, loaded, cur uint64) {
	h.try(func() { h.inner.SupersededCompletion(k, loaded, cur) })
}
func (h *Hooks) ProviderSetRejected(k string) {
	h.try(func() { h.inner.ProviderSetRejected(k) })
}
func (h *Hooks) OptimisticApplied(op, id string) {
	h.try(func() { h.inner.OptimisticApplied(op, id) })
}
func (h *Hooks) RollbackApplied(op, id string) {
	h.try(func() { h.inner.RollbackApplied(op, id) })
}
func (h *Hooks) NotificationSuppressed(id string) {
	h.try(func() { h.inner.NotificationSuppressed(id) })
}
