// Package normalize holds the canonical forms used for storage and
// comparison.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons: surrounding whitespace trimmed, lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Content trims surrounding whitespace from message text. An empty result
// means the message has no content.
func Content(c string) string {
	return strings.TrimSpace(c)
}

// Query trims a free-text search query.
func Query(q string) string {
	return strings.TrimSpace(q)
}
