package pipeline

import (
	"strings"

	"github.com/jackzampolin/imaginize/internal/elements"
)

// buildElementContext renders the known-entity block carried into a
// chapter analysis call. An entity qualifies when it was seen in an
// earlier chapter of this book, or when it arrived from another book in
// the series and this book has not placed it yet. Each entry is capped
// at perEntity tokens and the whole block at budget tokens; entities
// keep catalog order so the earliest-established ones survive the cut.
func buildElementContext(cat *elements.Catalog, bookID string, chapter, perEntity, budget int) string {
	if cat == nil || cat.Len() == 0 {
		return ""
	}
	var (
		b    strings.Builder
		used int
	)
	for _, e := range cat.Entities() {
		if !knownBeforeChapter(e, bookID, chapter) {
			continue
		}
		line := "- " + e.ContextSnippet(perEntity)
		cost := elements.EstimateTokens(line)
		if budget > 0 && used+cost > budget {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}

// knownBeforeChapter reports whether the entity is established context
// for the given chapter: an earlier appearance in this book, or an
// import from a different book with no local appearance recorded.
func knownBeforeChapter(e *elements.Entity, bookID string, chapter int) bool {
	for _, ch := range e.Appearances[bookID] {
		if ch < chapter {
			return true
		}
	}
	if len(e.Appearances[bookID]) == 0 {
		return e.FirstAppearance.BookID != "" && e.FirstAppearance.BookID != bookID
	}
	return false
}
