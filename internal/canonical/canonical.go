// Package canonical produces the deterministic serialization of an evidence
// pack used for hashing and signing. Two semantically equal packs always
// canonicalize to byte-identical output, so the form follows RFC 8785 (JSON
// Canonicalization Scheme): keys sorted by UTF-8 ordinal at every level, no
// extraneous whitespace, no HTML escaping.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Absent marks a mapping entry with no meaningful value. Entries holding
// Absent are elided entirely from canonical output; explicit nils are kept as
// JSON null. Array elements are never elided.
type absent struct{}

// Absent is the sentinel value for semantically missing mapping entries.
var Absent = absent{}

// Canonicalize serializes v deterministically. Mapping entries whose value is
// Absent are dropped at every nesting level; sequence order is preserved.
// Canonicalizing an already-canonical value yields the same string.
func Canonicalize(v any) (string, error) {
	stripped := stripAbsent(v)
	raw, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonical: transform: %w", err)
	}
	return string(out), nil
}

// Hash returns the lowercase hex SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashOf canonicalizes v and digests the result in one step.
func HashOf(v any) (string, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Hash(c), nil
}

func stripAbsent(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, skip := val.(absent); skip {
				continue
			}
			out[k] = stripAbsent(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			// Elements stay in place; only mapping entries are elided.
			if _, isAbsent := e.(absent); isAbsent {
				out[i] = nil
				continue
			}
			out[i] = stripAbsent(e)
		}
		return out
	default:
		return v
	}
}
