// Package identity normalizes external entity identifiers into tokens the
// search index's TAG syntax can represent. The original id is preserved in
// stored payloads and API responses; only index fields and index lookups use
// the normalized form. Write-side and read-side normalization must agree or
// witness-based access control silently breaks.
package identity

import "strings"

// indexUnsafe lists characters the TAG field syntax treats as separators or
// operators. They are stripped, not escaped, so tokens compare bytewise.
const indexUnsafe = "-,{}|@:;()\"'`~!%^&*= \t\n"

// Normalize converts an entity id into an index-safe token.
func Normalize(entityID string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(indexUnsafe, r) {
			return -1
		}
		return r
	}, entityID)
}

// NormalizeAll normalizes a list of entity ids, preserving order.
func NormalizeAll(entityIDs []string) []string {
	out := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		out[i] = Normalize(id)
	}
	return out
}
