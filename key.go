package querycache

import (
	"fmt"

	"github.com/unkn0wn-root/querycache/internal/keyutil"
)

// KeyKind discriminates the three fetchable units.
type KeyKind uint8

const (
	// KindCollection addresses the unfiltered collection ("all items").
	KindCollection KeyKind = iota + 1
	// KindSearch addresses the collection filtered by a term.
	KindSearch
	// KindEntity addresses a single item by id.
	KindEntity
)

func (k KeyKind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindSearch:
		return "search"
	case KindEntity:
		return "entity"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key identifies one fetchable unit. Keys are plain comparable values:
// two keys with the same kind and fields are the same key and resolve to
// the same cache slot. The zero Key is invalid.
type Key struct {
	kind KeyKind
	term string // search keys only
	id   string // entity keys only
}

// CollectionKey addresses the full collection.
func CollectionKey() Key { return Key{kind: KindCollection} }

// SearchKey addresses the collection filtered by term.
// The empty term is representable but never fetched by bindings.
func SearchKey(term string) Key { return Key{kind: KindSearch, term: term} }

// EntityKey addresses a single item.
func EntityKey(id string) Key { return Key{kind: KindEntity, id: id} }

func (k Key) Kind() KeyKind { return k.kind }
func (k Key) Term() string  { return k.term }
func (k Key) ID() string    { return k.id }

// IsZero reports whether k is the invalid zero key.
func (k Key) IsZero() bool { return k.kind == 0 }

// IsCollectionShaped reports whether the key's data is a collection ([]T)
// rather than a single entity.
func (k Key) IsCollectionShaped() bool {
	return k.kind == KindCollection || k.kind == KindSearch
}

func (k Key) String() string {
	switch k.kind {
	case KindCollection:
		return "collection"
	case KindSearch:
		return "search(" + k.term + ")"
	case KindEntity:
		return "entity(" + k.id + ")"
	default:
		return "key(invalid)"
	}
}

// storageKey renders the provider key for k under namespace ns.
// Search terms are hashed so arbitrary user input never leaks into the
// provider keyspace.
func (k Key) storageKey(ns string) string {
	switch k.kind {
	case KindCollection:
		return "list:" + ns
	case KindSearch:
		return keyutil.TermKey("search:"+ns, k.term)
	case KindEntity:
		return "item:" + ns + ":" + k.id
	default:
		return "invalid:" + ns
	}
}
