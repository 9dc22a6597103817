package querycache

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MutationKind is the write operation being coordinated.
type MutationKind uint8

const (
	MutationAdd MutationKind = iota + 1
	MutationEdit
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationAdd:
		return "add"
	case MutationEdit:
		return "edit"
	case MutationDelete:
		return "delete"
	default:
		return fmt.Sprintf("mutation(%d)", uint8(k))
	}
}

// Outcome is a mutation's terminal reconciliation state.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeCommitted
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

// Mutation is the finalized record of one write. Announce delivers its
// user-visible notification; repeated Announce calls (re-render, repeated
// effect evaluation) emit at most once per correlation token.
type Mutation struct {
	Kind     MutationKind
	TargetID string
	Outcome  Outcome
	Token    string

	notif    Notification
	tokens   *tokenRegistry
	notifier Notifier
	hooks    Hooks
}

// Announce emits the mutation's outcome notification, once.
func (m *Mutation) Announce() {
	if m.tokens.consume(m.Token) {
		m.notifier.Notify(m.notif)
		return
	}
	m.hooks.NotificationSuppressed(m.Token)
}

// TitleFunc renders the notification title for a mutation outcome.
type TitleFunc func(kind MutationKind, targetID string, success bool) string

func defaultTitle(kind MutationKind, _ string, success bool) string {
	if success {
		return fmt.Sprintf("%s succeeded", kind)
	}
	return fmt.Sprintf("%s failed", kind)
}

// CoordinatorOptions configure a Coordinator.
// Cache, Transport and ItemID are required.
type CoordinatorOptions[T any] struct {
	Cache     Cache[T]
	Transport Transport[T]
	// ItemID extracts the identity the collection is keyed on.
	ItemID func(T) string

	// Validate runs caller-side before dispatch; a non-nil result aborts the
	// write with KindValidation and no transport call.
	Validate func(T) error

	Notifier Notifier // nil => NopNotifier
	Hooks    Hooks    // nil => NopHooks
	Logger   Logger   // nil => NopLogger
	Title    TitleFunc
}

// Coordinator reconciles optimistic local mutations against the cache.
// Deletes apply optimistically and roll back on failure; adds and edits
// merge the authoritative record on success and leave the cache untouched
// on failure. Every finished mutation announces its outcome exactly once.
type Coordinator[T any] struct {
	cache     Cache[T]
	transport Transport[T]
	itemID    func(T) string
	validate  func(T) error
	notifier  Notifier
	hooks     Hooks
	log       Logger
	title     TitleFunc

	tokens *tokenRegistry
	seq    atomic.Uint64
}

func NewCoordinator[T any](opts CoordinatorOptions[T]) (*Coordinator[T], error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("querycache: coordinator cache is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("querycache: coordinator transport is required")
	}
	if opts.ItemID == nil {
		return nil, fmt.Errorf("querycache: coordinator item id func is required")
	}
	c := &Coordinator[T]{
		cache:     opts.Cache,
		transport: opts.Transport,
		itemID:    opts.ItemID,
		validate:  opts.Validate,
		notifier:  coalesce[Notifier](opts.Notifier, NopNotifier{}),
		hooks:     coalesce[Hooks](opts.Hooks, NopHooks{}),
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		tokens:    newTokenRegistry(),
	}
	if opts.Title != nil {
		c.title = opts.Title
	} else {
		c.title = defaultTitle
	}
	return c, nil
}

// Delete removes id optimistically: the cached collection transitions to the
// version without the item before the transport call, then either stays
// there (commit) or is restored from the pre-mutation snapshot (rollback).
// The returned Mutation has already announced its outcome once.
func (c *Coordinator[T]) Delete(ctx context.Context, id string) (*Mutation, error) {
	m := c.newMutation(MutationDelete, id)
	key := CollectionKey()

	snapshot, hadSnapshot, _ := c.cache.GetCollection(ctx, key)
	applied := false
	if hadSnapshot {
		if err := c.cache.WriteCollection(ctx, key, removeByID(snapshot, id, c.itemID)); err != nil {
			c.log.Warn("optimistic apply failed", Fields{"op": "delete", "id": id, "err": err})
		} else {
			applied = true
			c.hooks.OptimisticApplied(m.Kind.String(), id)
		}
	}

	if err := c.transport.Remove(ctx, id); err != nil {
		if applied {
			if rbErr := c.cache.WriteCollection(ctx, key, snapshot); rbErr != nil {
				c.log.Error("rollback write failed", Fields{"op": "delete", "id": id, "err": rbErr})
			}
			c.hooks.RollbackApplied(m.Kind.String(), id)
		}
		return c.finish(m, OutcomeRolledBack, &MutationError{
			Op: MutationDelete, TargetID: id, Kind: KindOf(err), RolledBack: applied, Err: err,
		})
	}

	// the entity entry no longer has a backing record
	_ = c.cache.Invalidate(ctx, EntityKey(id))
	return c.finish(m, OutcomeCommitted, nil)
}

// Add creates item. The cache is only touched on success, when the
// authoritative record returned by the transport is merged into the cached
// collection; on failure the caller's form stays open with nothing changed.
func (c *Coordinator[T]) Add(ctx context.Context, item T) (*Mutation, error) {
	m := c.newMutation(MutationAdd, c.itemID(item))

	if err := c.precheck(item); err != nil {
		return c.finish(m, OutcomeRolledBack, &MutationError{
			Op: MutationAdd, TargetID: m.TargetID, Kind: KindValidation, Err: err,
		})
	}

	created, err := c.transport.Create(ctx, item)
	if err != nil {
		return c.finish(m, OutcomeRolledBack, &MutationError{
			Op: MutationAdd, TargetID: m.TargetID, Kind: KindOf(err), Err: err,
		})
	}

	m.TargetID = c.itemID(created)
	c.merge(ctx, created)
	return c.finish(m, OutcomeCommitted, nil)
}

// Edit updates id. Same reconciliation contract as Add.
func (c *Coordinator[T]) Edit(ctx context.Context, id string, item T) (*Mutation, error) {
	m := c.newMutation(MutationEdit, id)

	if err := c.precheck(item); err != nil {
		return c.finish(m, OutcomeRolledBack, &MutationError{
			Op: MutationEdit, TargetID: id, Kind: KindValidation, Err: err,
		})
	}

	updated, err := c.transport.Update(ctx, id, item)
	if err != nil {
		return c.finish(m, OutcomeRolledBack, &MutationError{
			Op: MutationEdit, TargetID: id, Kind: KindOf(err), Err: err,
		})
	}

	c.merge(ctx, updated)
	return c.finish(m, OutcomeCommitted, nil)
}

func (c *Coordinator[T]) precheck(item T) error {
	if c.validate == nil {
		return nil
	}
	return c.validate(item)
}

// merge reconciles an authoritative record into the cache: replace-or-append
// in the cached collection when one exists (invalidate it otherwise, so the
// next interest refetches), and refresh the entity entry either way.
func (c *Coordinator[T]) merge(ctx context.Context, item T) {
	id := c.itemID(item)
	key := CollectionKey()

	if items, ok, _ := c.cache.GetCollection(ctx, key); ok {
		if err := c.cache.WriteCollection(ctx, key, upsertByID(items, item, c.itemID)); err != nil {
			c.log.Warn("merge write failed", Fields{"id": id, "err": err})
		}
	} else {
		_ = c.cache.Invalidate(ctx, key)
	}
	if err := c.cache.WriteEntity(ctx, EntityKey(id), item); err != nil {
		c.log.Warn("entity write failed", Fields{"id": id, "err": err})
	}
}

func (c *Coordinator[T]) newMutation(kind MutationKind, targetID string) *Mutation {
	return &Mutation{
		Kind:     kind,
		TargetID: targetID,
		Token:    fmt.Sprintf("%s:%s:%d", kind, targetID, c.seq.Add(1)),
		tokens:   c.tokens,
		notifier: c.notifier,
		hooks:    c.hooks,
	}
}

// finish seals the mutation, announces its outcome once and returns it with
// the caller-facing error (nil on commit).
func (c *Coordinator[T]) finish(m *Mutation, outcome Outcome, err *MutationError) (*Mutation, error) {
	m.Outcome = outcome
	success := outcome == OutcomeCommitted
	kind := NotifySuccess
	if !success {
		kind = NotifyError
	}
	m.notif = Notification{
		Kind:          kind,
		Title:         c.title(m.Kind, m.TargetID, success),
		CorrelationID: m.Token,
	}
	m.Announce()
	if err != nil {
		c.log.Debug("mutation failed", Fields{
			"op": m.Kind.String(), "id": m.TargetID, "kind": err.Kind.String(), "rolled_back": err.RolledBack,
		})
		return m, err
	}
	return m, nil
}

// removeByID returns a new collection without the target item; the input is
// never mutated.
func removeByID[T any](items []T, id string, itemID func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if itemID(it) == id {
			continue
		}
		out = append(out, it)
	}
	return out
}

// upsertByID returns a new collection with item replacing its existing entry
// or appended when absent.
func upsertByID[T any](items []T, item T, itemID func(T) string) []T {
	id := itemID(item)
	out := make([]T, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if itemID(it) == id {
			out = append(out, item)
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}
