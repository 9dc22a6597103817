package querycache

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for display and reconciliation purposes.
type Kind uint8

const (
	// KindNetwork: the transport was unreachable or returned a non-success
	// outcome. Default classification for unrecognized errors.
	KindNetwork Kind = iota + 1
	// KindValidation: the payload was rejected before or by the server.
	KindValidation
	// KindNotFound: an entity key has no backing record.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is the classified failure type transports and the cache surface.
// It is stored as an entry's last error and never crashes a consumer.
type Error struct {
	Kind Kind
	Op   string // "list", "search", "get", "create", "update", "remove"
	Key  Key    // zero when the failure is not key-scoped
	Err  error
}

func (e *Error) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("querycache: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("querycache: %s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err. Unclassified non-nil errors are treated
// as network failures; nil returns 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var m *MutationError
	if errors.As(err, &m) {
		return m.Kind
	}
	return KindNetwork
}

// MutationError reports a failed write along with whether the optimistic
// cache state was rolled back before it surfaced.
type MutationError struct {
	Op         MutationKind
	TargetID   string
	Kind       Kind
	RolledBack bool
	Err        error
}

func (e *MutationError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("querycache: %s %q failed (%s), cache rolled back: %v",
			e.Op, e.TargetID, e.Kind, e.Err)
	}
	return fmt.Sprintf("querycache: %s %q failed (%s): %v", e.Op, e.TargetID, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
