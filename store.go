package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

const defaultSweep = time.Hour

// ErrKeyShape is returned when a collection accessor is used with an entity
// key or vice versa. The cache never guesses: misdecoding another shape's
// bytes would self-heal-delete a perfectly valid entry.
var ErrKeyShape = errors.New("querycache: key shape does not match accessor")

type entryMeta struct {
	seq       uint64
	freshness Freshness
	lastErr   error
	hasData   bool
	touchedAt time.Time
}

type store[T any] struct {
	ns        string
	provider  pr.Provider
	codecOne  c.Codec[T]
	codecMany c.Codec[[]T]
	log       Logger
	hooks     Hooks

	enabled bool

	defaultTTL     time.Duration
	metaRetention  time.Duration
	sweepInterval  time.Duration
	computeSetCost SetCostFunc

	// entry metadata (in-memory only; payload bytes live in the provider)
	mu   sync.Mutex
	meta map[Key]*entryMeta

	flight singleflight.Group

	// background metadata sweep
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func newStore[T any](opts Options[T]) (*store[T], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("querycache: namespace is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("querycache: codec is required")
	}

	s := &store[T]{
		ns:       opts.Namespace,
		codecOne: opts.Codec,
		meta:     make(map[Key]*entryMeta),
	}

	if opts.CollectionCodec != nil {
		s.codecMany = opts.CollectionCodec
	} else {
		s.codecMany = c.Slice[T]{Elem: opts.Codec}
	}
	if opts.Provider != nil {
		s.provider = opts.Provider
	} else {
		s.provider = memory.New()
	}
	if opts.ComputeSetCost != nil {
		s.computeSetCost = opts.ComputeSetCost
	} else {
		s.computeSetCost = func(_ string, _ []byte) int64 { return 1 }
	}

	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, 10*time.Minute)
	s.metaRetention = opts.MetaRetention
	s.sweepInterval = coalesce[time.Duration](opts.SweepInterval, defaultSweep)

	s.enabled = !opts.Disabled

	if s.enabled && s.metaRetention > 0 {
		s.ticker = time.NewTicker(s.sweepInterval)
		s.stopCh = make(chan struct{})
		s.closeWg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

func (s *store[T]) Enabled() bool { return s.enabled }

func (s *store[T]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.closeWg.Wait()
			if s.ticker != nil {
				s.ticker.Stop()
			}
		}
	})
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}

func (s *store[T]) sweepLoop() {
	defer s.closeWg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.sweep(s.metaRetention)
		case <-s.stopCh:
			return
		}
	}
}

// sweep prunes metadata for entries that have not been touched within the
// retention window. Pending entries are never pruned; their in-flight
// completion still needs the sequence number to reconcile against.
func (s *store[T]) sweep(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, m := range s.meta {
		if m.freshness != Pending && m.touchedAt.Before(cutoff) {
			delete(s.meta, k)
		}
	}
	s.mu.Unlock()
}

// metaLocked returns the entry metadata for key, creating an absent Stale
// entry on first interest. Caller holds s.mu.
func (s *store[T]) metaLocked(key Key) *entryMeta {
	m, ok := s.meta[key]
	if !ok {
		m = &entryMeta{freshness: Stale}
		s.meta[key] = m
	}
	m.touchedAt = time.Now()
	return m
}

func (s *store[T]) State(key Key) EntryState {
	if !s.enabled {
		return EntryState{Key: key, Freshness: Stale}
	}
	s.mu.Lock()
	m := s.metaLocked(key)
	st := EntryState{
		Key:       key,
		Freshness: m.freshness,
		HasData:   m.hasData,
		LastErr:   m.lastErr,
		Seq:       m.seq,
	}
	s.mu.Unlock()
	return st
}

func (s *store[T]) GetCollection(ctx context.Context, key Key) ([]T, bool, error) {
	if !key.IsCollectionShaped() {
		return nil, false, ErrKeyShape
	}
	b, ok, err := s.getBytes(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	items, err := s.codecMany.Decode(b)
	if err != nil {
		s.dropCorrupt(ctx, key, "value_decode")
		return nil, false, nil
	}
	return items, true, nil
}

func (s *store[T]) GetEntity(ctx context.Context, key Key) (T, bool, error) {
	var zero T
	if key.Kind() != KindEntity {
		return zero, false, ErrKeyShape
	}
	b, ok, err := s.getBytes(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := s.codecOne.Decode(b)
	if err != nil {
		s.dropCorrupt(ctx, key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (s *store[T]) FetchCollection(ctx context.Context, key Key, load CollectionLoader[T]) ([]T, error) {
	if !key.IsCollectionShaped() {
		return nil, ErrKeyShape
	}
	if !s.enabled {
		return load(ctx)
	}
	b, err := s.fetchBytes(ctx, key, func(ctx context.Context) ([]byte, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return s.codecMany.Encode(items)
	})
	if err != nil {
		return nil, err
	}
	return s.codecMany.Decode(b)
}

func (s *store[T]) FetchEntity(ctx context.Context, key Key, load EntityLoader[T]) (T, error) {
	var zero T
	if key.Kind() != KindEntity {
		return zero, ErrKeyShape
	}
	if !s.enabled {
		return load(ctx)
	}
	b, err := s.fetchBytes(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return s.codecOne.Encode(v)
	})
	if err != nil {
		return zero, err
	}
	return s.codecOne.Decode(b)
}

func (s *store[T]) WriteCollection(ctx context.Context, key Key, items []T) error {
	if !key.IsCollectionShaped() {
		return ErrKeyShape
	}
	payload, err := s.codecMany.Encode(items)
	if err != nil {
		return err
	}
	return s.writeBytes(ctx, key, payload)
}

func (s *store[T]) WriteEntity(ctx context.Context, key Key, item T) error {
	if key.Kind() != KindEntity {
		return ErrKeyShape
	}
	payload, err := s.codecOne.Encode(item)
	if err != nil {
		return err
	}
	return s.writeBytes(ctx, key, payload)
}

func (s *store[T]) Invalidate(ctx context.Context, key Key) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	m := s.metaLocked(key)
	m.seq++
	m.freshness = Stale
	m.hasData = false
	m.lastErr = nil
	newSeq := m.seq
	s.mu.Unlock()

	sk := key.storageKey(s.ns)
	err := s.provider.Del(ctx, sk)
	s.log.Debug("invalidated key", Fields{"key": key.String(), "seq": newSeq})
	return err
}

// getBytes returns the current validated provider bytes for key without
// running any loader.
func (s *store[T]) getBytes(ctx context.Context, key Key) ([]byte, bool, error) {
	if !s.enabled {
		return nil, false, nil
	}
	s.mu.Lock()
	m := s.metaLocked(key)
	seq := m.seq
	virgin := m.seq == 0 && !m.hasData
	s.mu.Unlock()

	if virgin {
		return s.adoptWarmBytes(ctx, key)
	}
	b, ok := s.readValidated(ctx, key, seq)
	return b, ok, nil
}

// adoptWarmBytes handles the first read of an entry this process has never
// touched: a durable provider may still hold bytes from a previous run, and
// those are served as stale data eligible for revalidation. The frame's
// sequence number is adopted; freshness stays Stale because freshness never
// survives the process that earned it.
func (s *store[T]) adoptWarmBytes(ctx context.Context, key Key) ([]byte, bool, error) {
	sk := key.storageKey(s.ns)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil {
		s.log.Warn("provider get failed", Fields{"key": key.String(), "err": err})
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	seq, payload, err := wire.Decode(raw)
	if err != nil {
		s.dropCorrupt(ctx, key, "corrupt")
		return nil, false, nil
	}

	s.mu.Lock()
	m := s.metaLocked(key)
	if m.seq != 0 || m.hasData {
		// a write or fetch landed while we were reading; its state wins
		s.mu.Unlock()
		return nil, false, nil
	}
	m.seq = seq
	m.hasData = true
	s.mu.Unlock()

	s.log.Debug("adopted warm bytes", Fields{"key": key.String(), "seq": seq})
	return payload, true, nil
}

// fetchBytes is the stale-while-revalidate core at the byte level.
func (s *store[T]) fetchBytes(ctx context.Context, key Key, load func(context.Context) ([]byte, error)) ([]byte, error) {
	sk := key.storageKey(s.ns)

	s.mu.Lock()
	m := s.metaLocked(key)
	fresh := m.freshness == Fresh
	seq := m.seq
	s.mu.Unlock()

	if fresh {
		if b, ok := s.readValidated(ctx, key, seq); ok {
			return b, nil
		}
		// provider lost or corrupted the bytes; revalidate below
	}

	v, err, shared := s.flight.Do(sk, func() (any, error) {
		return s.runLoader(ctx, key, load)
	})
	if shared {
		s.hooks.FetchShared(sk)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// runLoader is the single-flight body: exactly one concurrent invocation per
// storage key. It re-checks freshness (a racing fetch may have completed
// between the caller's check and this call) and reconciles the completion
// against the entry's sequence number.
func (s *store[T]) runLoader(ctx context.Context, key Key, load func(context.Context) ([]byte, error)) ([]byte, error) {
	s.mu.Lock()
	m := s.metaLocked(key)
	if m.freshness == Fresh {
		seq := m.seq
		s.mu.Unlock()
		if b, ok := s.readValidated(ctx, key, seq); ok {
			return b, nil
		}
		s.mu.Lock()
		m = s.metaLocked(key)
	}
	m.freshness = Pending
	startSeq := m.seq
	s.mu.Unlock()

	payload, loadErr := load(ctx)

	s.mu.Lock()
	m = s.metaLocked(key)
	if m.seq != startSeq {
		// Invalidated or overwritten while in flight. Hand the result to the
		// waiters but leave the entry alone; whoever bumped the sequence owns
		// its current state.
		cur := m.seq
		if m.freshness == Pending {
			m.freshness = Stale
		}
		s.mu.Unlock()
		s.hooks.SupersededCompletion(key.storageKey(s.ns), startSeq, cur)
		return payload, loadErr
	}
	if loadErr != nil {
		m.freshness = Stale
		m.lastErr = loadErr
		s.mu.Unlock()
		return nil, loadErr
	}
	m.freshness = Fresh
	m.lastErr = nil
	m.hasData = true
	s.mu.Unlock()

	s.put(ctx, key, startSeq, payload)
	return payload, nil
}

// writeBytes replaces the cached payload under a new sequence number and
// marks the entry Fresh. Any loader still in flight for this key completes
// against the old sequence and is discarded.
func (s *store[T]) writeBytes(ctx context.Context, key Key, payload []byte) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	m := s.metaLocked(key)
	m.seq++
	m.freshness = Fresh
	m.lastErr = nil
	m.hasData = true
	seq := m.seq
	s.mu.Unlock()

	s.put(ctx, key, seq, payload)
	return nil
}

// put frames payload under seq and stores it. Provider rejections leave the
// entry Fresh in metadata but unreadable; the next read self-heals to a miss
// and the next fetch revalidates.
func (s *store[T]) put(ctx context.Context, key Key, seq uint64, payload []byte) {
	sk := key.storageKey(s.ns)
	raw := wire.Encode(seq, payload)
	ok, err := s.provider.Set(ctx, sk, raw, s.computeSetCost(sk, raw), s.defaultTTL)
	if err != nil {
		s.log.Warn("provider set failed", Fields{"key": key.String(), "err": err})
		s.markUnreadable(key)
		return
	}
	if !ok {
		s.hooks.ProviderSetRejected(sk)
		s.log.Debug("provider rejected set (pressure)", Fields{"key": key.String()})
		s.markUnreadable(key)
	}
}

func (s *store[T]) markUnreadable(key Key) {
	s.mu.Lock()
	m := s.metaLocked(key)
	m.freshness = Stale
	m.hasData = false
	s.mu.Unlock()
}

// readValidated fetches the provider bytes for key and validates framing and
// sequence. Corrupt or out-of-sequence values self-heal: delete and miss.
func (s *store[T]) readValidated(ctx context.Context, key Key, wantSeq uint64) ([]byte, bool) {
	sk := key.storageKey(s.ns)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil {
		s.log.Warn("provider get failed", Fields{"key": key.String(), "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	seq, payload, err := wire.Decode(raw)
	if err != nil {
		s.dropCorrupt(ctx, key, "corrupt")
		return nil, false
	}
	if seq != wantSeq {
		s.dropCorrupt(ctx, key, "seq_mismatch")
		return nil, false
	}
	return payload, true
}

func (s *store[T]) dropCorrupt(ctx context.Context, key Key, reason string) {
	sk := key.storageKey(s.ns)
	_ = s.provider.Del(ctx, sk)
	s.mu.Lock()
	m := s.metaLocked(key)
	m.hasData = false
	if m.freshness == Fresh {
		m.freshness = Stale
	}
	s.mu.Unlock()
	s.hooks.SelfHeal(sk, reason)
	s.log.Debug("self-healed entry", Fields{"key": key.String(), "reason": reason})
}
