// Package elements maintains the story-entity catalog for a book: typed,
// named entities (characters, creatures, places, items, objects) with
// aliases, progressively enriched descriptions, and per-book appearance
// tracking. The merge algorithm here is what keeps "Jon" and "Jon Snow"
// from becoming two characters.
package elements

import (
	"sort"
	"strings"
	"time"
)

// Type classifies an entity.
type Type string

const (
	TypeCharacter Type = "character"
	TypeCreature  Type = "creature"
	TypePlace     Type = "place"
	TypeItem      Type = "item"
	TypeObject    Type = "object"
)

// TypeOrder is the fixed rendering order for catalogs.
func TypeOrder() []Type {
	return []Type{TypeCharacter, TypeCreature, TypePlace, TypeItem, TypeObject}
}

// ParseType converts a string to a Type. Unknown strings map to
// TypeObject so a sloppy model answer still lands somewhere sensible.
func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeCharacter:
		return TypeCharacter
	case TypeCreature:
		return TypeCreature
	case TypePlace:
		return TypePlace
	case TypeItem:
		return TypeItem
	default:
		return TypeObject
	}
}

// Quote is a verbatim passage mentioning the entity.
type Quote struct {
	Text    string `json:"text"`
	PageRef string `json:"pageRef,omitempty"`
}

// Enrichment is an append-only record of a detail added to an entity's
// description, attributed to its source.
type Enrichment struct {
	Detail        string    `json:"detail"`
	SourceBook    string    `json:"sourceBook"`
	SourceChapter int       `json:"sourceChapter"`
	AddedAt       time.Time `json:"addedAt"`
}

// Appearance locates an entity's first mention.
type Appearance struct {
	BookID       string `json:"bookId"`
	ChapterIndex int    `json:"chapterIndex"`
}

// Entity is one catalog entry. Name is canonical and unique within Type;
// Aliases always contains the case-folded name. Appearances maps book IDs
// to sorted chapter index sets.
type Entity struct {
	Type            Type             `json:"type"`
	Name            string           `json:"name"`
	Aliases         []string         `json:"aliases"`
	Description     string           `json:"description"`
	Quotes          []Quote          `json:"quotes,omitempty"`
	FirstAppearance Appearance       `json:"firstAppearance"`
	Appearances     map[string][]int `json:"appearances"`
	Enrichments     []Enrichment     `json:"enrichments,omitempty"`
	LastUpdated     time.Time        `json:"lastUpdated"`
}

// Normalize folds the canonical name into the alias set and sorts it.
// Aliases are stored case-folded; lookups fold their input.
func (e *Entity) Normalize() {
	e.Name = strings.TrimSpace(e.Name)
	folded := make(map[string]bool, len(e.Aliases)+1)
	if n := strings.ToLower(e.Name); n != "" {
		folded[n] = true
	}
	for _, a := range e.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			folded[a] = true
		}
	}
	e.Aliases = e.Aliases[:0]
	for a := range folded {
		e.Aliases = append(e.Aliases, a)
	}
	sort.Strings(e.Aliases)
	if e.Appearances == nil {
		e.Appearances = make(map[string][]int)
	}
}

// HasAlias reports whether name (case-folded) is in the alias set.
func (e *Entity) HasAlias(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.ToLower(e.Name) == name {
		return true
	}
	for _, a := range e.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// AddAlias folds a name into the alias set, keeping it sorted.
// Returns true when the set changed.
func (e *Entity) AddAlias(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || e.HasAlias(name) {
		return false
	}
	e.Aliases = append(e.Aliases, name)
	sort.Strings(e.Aliases)
	return true
}

// RecordAppearance adds a chapter to the entity's appearance set for a
// book. Returns true when the set changed.
func (e *Entity) RecordAppearance(bookID string, chapterIndex int) bool {
	if bookID == "" || chapterIndex < 1 {
		return false
	}
	if e.Appearances == nil {
		e.Appearances = make(map[string][]int)
	}
	chapters := e.Appearances[bookID]
	for _, c := range chapters {
		if c == chapterIndex {
			return false
		}
	}
	chapters = append(chapters, chapterIndex)
	sort.Ints(chapters)
	e.Appearances[bookID] = chapters
	return true
}

// AppearsIn reports whether the entity has any recorded appearance in a book.
func (e *Entity) AppearsIn(bookID string) bool {
	return len(e.Appearances[bookID]) > 0
}

// HasQuote reports whether an identical (text, pageRef) quote exists.
func (e *Entity) HasQuote(q Quote) bool {
	for _, existing := range e.Quotes {
		if existing.Text == q.Text && existing.PageRef == q.PageRef {
			return true
		}
	}
	return false
}

// aliasIntersects reports whether two entities share any alias.
func aliasIntersects(a, b *Entity) bool {
	for _, alias := range b.Aliases {
		if a.HasAlias(alias) {
			return true
		}
	}
	return a.HasAlias(b.Name) || b.HasAlias(a.Name)
}

// namesSyntacticMatch is the cheap pre-resolver heuristic: case-folded
// equality, or a prefix relation where both names are at least 4 runes.
func namesSyntacticMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len([]rune(a)) < 4 || len([]rune(b)) < 4 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// nameTokens splits a name into lowercase tokens, dropping connective
// words that carry no identity ("the", "of", ...).
func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		if nameStopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var nameStopWords = map[string]bool{
	"the": true, "of": true, "a": true, "an": true, "and": true,
	"lord": true, "lady": true, "ser": true, "sir": true,
}

// tokensOverlap reports whether two names share at least one
// non-stop-word token.
func tokensOverlap(a, b string) bool {
	ta := nameTokens(a)
	tb := nameTokens(b)
	for _, x := range ta {
		for _, y := range tb {
			if x == y {
				return true
			}
		}
	}
	return false
}
