package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/querycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FetchSharedEvery uint64
	SelfHealEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	fetchSharedCtr atomic.Uint64
	selfHealCtr    atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchShared(storageKey string) {
	if h.l == nil || !sample(h.opts.FetchSharedEvery, &h.fetchSharedCtr) {
		return
	}
	h.l.Debug("querycache.fetch_shared",
		"key", h.redact(storageKey))
}

func (h *Hooks) SupersededCompletion(storageKey string, loadedSeq, currentSeq uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.superseded_completion",
		"key", h.redact(storageKey),
		"loaded_seq", loadedSeq,
		"current_seq", currentSeq)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querycache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) OptimisticApplied(op, targetID string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.optimistic_applied",
		"op", op,
		"target", h.redact(targetID))
}

func (h *Hooks) RollbackApplied(op, targetID string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.rollback_applied",
		"op", op,
		"target", h.redact(targetID))
}

func (h *Hooks) NotificationSuppressed(correlationID string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.notification_suppressed",
		"correlation_id", correlationID)
}
