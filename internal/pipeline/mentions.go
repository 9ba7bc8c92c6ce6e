package pipeline

import (
	"strings"
	"unicode"

	"github.com/jackzampolin/imaginize/internal/elements"
)

// mentionStopWords are capitalized sentence-starters and pronouns that
// never begin or end an entity name.
var mentionStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "but": true,
	"or": true, "nor": true, "so": true, "yet": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "by": true,
	"with": true, "from": true, "into": true, "onto": true,
	"he": true, "she": true, "it": true, "they": true, "we": true,
	"i": true, "you": true, "his": true, "her": true, "its": true,
	"their": true, "our": true, "then": true, "there": true,
	"when": true, "while": true, "as": true, "this": true,
	"that": true, "these": true, "those": true, "all": true,
}

// ExtractMentions pulls candidate entity names out of prose: maximal
// runs of capitalized words, with stop words trimmed from both ends.
// Results keep first-occurrence order and fold duplicates.
func ExtractMentions(text string) []string {
	words := splitWords(text)
	var (
		out  []string
		seen = make(map[string]bool)
		run  []string
	)
	flush := func() {
		run = trimStopWords(run)
		if len(run) == 0 {
			return
		}
		phrase := strings.Join(run, " ")
		key := strings.ToLower(phrase)
		if !seen[key] {
			seen[key] = true
			out = append(out, phrase)
		}
		run = nil
	}
	for _, w := range words {
		if isCapitalized(w) {
			run = append(run, w)
			continue
		}
		flush()
	}
	flush()
	return out
}

// mentionedEntities resolves mentions against the catalog. Each phrase
// is tried whole first; a miss falls back to its individual words, so a
// run like "Hazel Crossing Watership Down" still finds the names buried
// inside it.
func mentionedEntities(cat *elements.Catalog, text string) []*elements.Entity {
	var out []*elements.Entity
	for _, phrase := range ExtractMentions(text) {
		if e := cat.FindAnyType(phrase); e != nil {
			out = append(out, e)
			continue
		}
		words := strings.Fields(phrase)
		if len(words) < 2 {
			continue
		}
		for _, w := range words {
			if len([]rune(w)) < 3 {
				continue
			}
			if e := cat.FindAnyType(w); e != nil {
				out = append(out, e)
			}
		}
	}
	return out
}

// splitWords tokenizes on anything that is not a letter, apostrophe, or
// hyphen, then strips leading and trailing punctuation from each token.
func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func trimStopWords(run []string) []string {
	for len(run) > 0 && mentionStopWords[strings.ToLower(run[0])] {
		run = run[1:]
	}
	for len(run) > 0 && mentionStopWords[strings.ToLower(run[len(run)-1])] {
		run = run[:len(run)-1]
	}
	return run
}

func isCapitalized(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}
