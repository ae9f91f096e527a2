package storage

import (
	"strings"
	"unicode/utf8"
)

// MaxHighlights caps the number of excerpt snippets per exact match.
const MaxHighlights = 3

// highlightRadius is the number of characters kept on each side of a hit.
const highlightRadius = 40

// ExtractHighlights returns up to MaxHighlights short excerpts of content
// around case-insensitive occurrences of query. Shared by drivers so every
// backend produces the same excerpt shape.
func ExtractHighlights(content, query string) []string {
	if query == "" || content == "" {
		return nil
	}

	lower := strings.ToLower(content)
	needle := strings.ToLower(query)

	var out []string
	offset := 0
	for len(out) < MaxHighlights {
		idx := strings.Index(lower[offset:], needle)
		if idx < 0 {
			break
		}
		idx += offset

		start := idx - highlightRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(needle) + highlightRadius
		if end > len(content) {
			end = len(content)
		}

		// The radius is in bytes; snap to rune starts so a window edge
		// never splits a multi-byte character.
		for start > 0 && !utf8.RuneStart(content[start]) {
			start--
		}
		for end < len(content) && !utf8.RuneStart(content[end]) {
			end++
		}

		excerpt := strings.TrimSpace(content[start:end])
		if start > 0 {
			excerpt = "…" + excerpt
		}
		if end < len(content) {
			excerpt += "…"
		}
		out = append(out, excerpt)

		offset = idx + len(needle)
	}

	return out
}
