// Package transcript turns raw recognizer phrases into document text:
// normalization, spoken-command classification, and merge rules for
// appending to a document tail.
package transcript

import "strings"

// Normalize lower-cases a raw recognized phrase and trims surrounding
// whitespace. Idempotent; an empty result is valid.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
