package querycache

import (
	"strings"
	"testing"
)

func TestKeyStructuralEquality(t *testing.T) {
	if SearchKey("dune") != SearchKey("dune") {
		t.Fatalf("same term should produce the same key")
	}
	if SearchKey("dune") == SearchKey("duna") {
		t.Fatalf("different terms should produce different keys")
	}
	if EntityKey("1") == EntityKey("2") {
		t.Fatalf("different ids should produce different keys")
	}
	if CollectionKey() == SearchKey("") {
		t.Fatalf("collection and empty search are distinct units")
	}
	if !(Key{}).IsZero() || CollectionKey().IsZero() {
		t.Fatalf("IsZero misreports")
	}
}

func TestKeyShapes(t *testing.T) {
	if !CollectionKey().IsCollectionShaped() || !SearchKey("x").IsCollectionShaped() {
		t.Fatalf("collection and search keys carry []T")
	}
	if EntityKey("1").IsCollectionShaped() {
		t.Fatalf("entity keys carry a single item")
	}
}

func TestStorageKeyIsolation(t *testing.T) {
	seen := map[string]Key{}
	for _, k := range []Key{
		CollectionKey(),
		SearchKey("dune"),
		SearchKey("duna"),
		SearchKey(""),
		EntityKey("1"),
		EntityKey("2"),
	} {
		sk := k.storageKey("book")
		if prev, dup := seen[sk]; dup {
			t.Fatalf("storage key collision: %v and %v both map to %q", prev, k, sk)
		}
		seen[sk] = k
	}

	// namespaces partition the provider keyspace
	if CollectionKey().storageKey("book") == CollectionKey().storageKey("author") {
		t.Fatalf("namespaces must not share storage keys")
	}

	// the raw term never appears in the provider key
	if sk := SearchKey("dune OR 1=1").storageKey("book"); strings.Contains(sk, "dune") {
		t.Fatalf("raw search term leaked into storage key: %q", sk)
	}
	// but the same term always hashes to the same key
	if SearchKey("dune").storageKey("book") != SearchKey("dune").storageKey("book") {
		t.Fatalf("term hashing must be deterministic")
	}
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{CollectionKey(), "collection"},
		{SearchKey("dune"), "search(dune)"},
		{EntityKey("42"), "entity(42)"},
		{Key{}, "key(invalid)"},
	}
	for _, tc := range tests {
		if got := tc.key.String(); got != tc.want {
			t.Fatalf("String(%#v) = %q, want %q", tc.key, got, tc.want)
		}
	}
}
