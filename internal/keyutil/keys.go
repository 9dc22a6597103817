package keyutil

import (
	"crypto/sha256"
	"fmt"
)

// TermKey returns a deterministic storage key for a free-form term with a
// short hash suffix. Equal terms always map to the same key; the term itself
// never appears in the provider keyspace.
func TermKey(prefix, term string) string {
	sum := sha256.Sum256([]byte(term))
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16] // prefix + ":" + first 16 hex chars
}
