package elements

import (
	"fmt"
	"sort"
	"strings"
)

// typeHeadings maps entity types to their section headings in Elements.md.
var typeHeadings = map[Type]string{
	TypeCharacter: "Characters",
	TypeCreature:  "Creatures",
	TypePlace:     "Places",
	TypeItem:      "Items",
	TypeObject:    "Objects",
}

// AsMarkdown renders the catalog deterministically: sections in the fixed
// type order (character, creature, place, item, object), entities
// alphabetized within each section regardless of insertion order.
func (c *Catalog) AsMarkdown(title string) string {
	c.mu.RLock()
	byType := make(map[Type][]*Entity)
	for _, e := range c.entities {
		byType[e.Type] = append(byType[e.Type], e)
	}
	c.mu.RUnlock()

	var b strings.Builder
	if title == "" {
		title = "Elements"
	}
	fmt.Fprintf(&b, "# %s\n", title)

	for _, typ := range TypeOrder() {
		group := byType[typ]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return strings.ToLower(group[i].Name) < strings.ToLower(group[j].Name)
		})

		fmt.Fprintf(&b, "\n## %s\n", typeHeadings[typ])
		for _, e := range group {
			writeEntityMarkdown(&b, e)
		}
	}
	return b.String()
}

func writeEntityMarkdown(b *strings.Builder, e *Entity) {
	fmt.Fprintf(b, "\n### %s\n\n", e.Name)
	if aliases := e.displayAliases(); len(aliases) > 0 {
		fmt.Fprintf(b, "*Also known as: %s*\n\n", strings.Join(aliases, ", "))
	}
	if e.Description != "" {
		fmt.Fprintf(b, "%s\n", e.Description)
	}
	if len(e.Quotes) > 0 {
		b.WriteString("\n")
		for _, q := range e.Quotes {
			if q.PageRef != "" {
				fmt.Fprintf(b, "> %s (p. %s)\n", q.Text, q.PageRef)
			} else {
				fmt.Fprintf(b, "> %s\n", q.Text)
			}
		}
	}
	if chapters := e.chapterList(); chapters != "" {
		fmt.Fprintf(b, "\n*Appears in chapters: %s*\n", chapters)
	}
}

// displayAliases returns aliases minus the case-folded canonical name,
// which would be noise in the rendered output.
func (e *Entity) displayAliases() []string {
	canonical := strings.ToLower(e.Name)
	var out []string
	for _, a := range e.Aliases {
		if a != canonical {
			out = append(out, a)
		}
	}
	return out
}

// chapterList renders appearance chapters. Single-book catalogs render a
// plain list; series catalogs qualify each book.
func (e *Entity) chapterList() string {
	if len(e.Appearances) == 0 {
		return ""
	}
	bookIDs := make([]string, 0, len(e.Appearances))
	for id := range e.Appearances {
		bookIDs = append(bookIDs, id)
	}
	sort.Strings(bookIDs)

	var parts []string
	for _, id := range bookIDs {
		chapters := e.Appearances[id]
		if len(chapters) == 0 {
			continue
		}
		nums := make([]string, len(chapters))
		for i, c := range chapters {
			nums[i] = fmt.Sprintf("%d", c)
		}
		if len(e.Appearances) == 1 {
			parts = append(parts, strings.Join(nums, ", "))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", id, strings.Join(nums, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

// ContextSnippet renders the entity as prompt context, truncated to
// roughly maxTokens (a token is estimated at four characters). Used when
// carrying known entities into per-chapter analysis calls.
func (e *Entity) ContextSnippet(maxTokens int) string {
	s := fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description)
	maxChars := maxTokens * 4
	if maxTokens <= 0 || len(s) <= maxChars {
		return s
	}
	cut := s[:maxChars]
	if idx := strings.LastIndex(cut, " "); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// EstimateTokens approximates the token cost of a string (chars/4,
// minimum 1 for non-empty input).
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
