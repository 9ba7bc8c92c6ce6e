package elements

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MergeStrategy selects how a matched candidate folds into an existing
// entity.
type MergeStrategy string

const (
	// StrategyEnrich keeps the existing description as the base and
	// appends only genuinely new sentences, recording an enrichment.
	StrategyEnrich MergeStrategy = "enrich"
	// StrategyUnion concatenates descriptions and unions everything else,
	// with no enrichment record.
	StrategyUnion MergeStrategy = "union"
	// StrategyOverride replaces the description with the candidate's,
	// regardless of relative length.
	StrategyOverride MergeStrategy = "override"
)

// ParseMergeStrategy converts a string to a MergeStrategy, defaulting to
// enrich for anything unrecognized.
func ParseMergeStrategy(s string) MergeStrategy {
	switch MergeStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyUnion:
		return StrategyUnion
	case StrategyOverride:
		return StrategyOverride
	default:
		return StrategyEnrich
	}
}

// DescriptionSeparator joins descriptions under StrategyUnion and in the
// no-AI enrichment fallback.
const DescriptionSeparator = " / "

// Resolution is the verdict on whether two differently named entities are
// the same story object.
type Resolution struct {
	IsMatch    bool    `json:"isMatch"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Resolver decides whether a candidate entity matches an existing one.
// Implementations are expected to consult the resolution cache before
// spending a model call.
type Resolver interface {
	ResolveEntity(ctx context.Context, candidate, existing Entity) (Resolution, error)
}

// DefaultMatchConfidence is the minimum resolver confidence treated as a
// match.
const DefaultMatchConfidence = 0.7

// MergeOptions carries the per-merge context.
type MergeOptions struct {
	Strategy      MergeStrategy
	BookID        string
	ChapterIndex  int // 0 when merging outside any chapter (series import)
	MinConfidence float64
	Resolver      Resolver // nil skips the resolver step
}

func (o MergeOptions) minConfidence() float64 {
	if o.MinConfidence <= 0 {
		return DefaultMatchConfidence
	}
	return o.MinConfidence
}

// MergeResult reports what a merge did.
type MergeResult struct {
	Matched    *Entity
	WasNew     bool
	Confidence float64
}

// MergeEntity folds a candidate entity into the catalog:
//
//  1. normalize the candidate (name into alias set),
//  2. match by alias intersection, then by the syntactic name heuristic,
//  3. failing both, ask the resolver about same-type entities whose names
//     share a token with the candidate's,
//  4. on match apply the merge strategy; otherwise append as new,
//  5. record the chapter in appearances[bookID].
//
// Merging the same candidate twice is a no-op the second time. Resolver
// failures are treated as non-matches; only context cancellation aborts.
func (c *Catalog) MergeEntity(ctx context.Context, candidate Entity, opts MergeOptions) (MergeResult, error) {
	candidate.Normalize()
	if candidate.Name == "" {
		return MergeResult{}, fmt.Errorf("cannot merge entity with empty name")
	}
	if candidate.Type == "" {
		candidate.Type = TypeObject
	}

	// Serialize merges so concurrent workers cannot race two copies of the
	// same new entity past each other. Readers keep going: the data lock
	// is only taken around structure access, not the resolver call.
	c.mergeMu.Lock()
	defer c.mergeMu.Unlock()

	existing, confidence, err := c.findMatch(ctx, &candidate, opts)
	if err != nil {
		return MergeResult{}, err
	}

	if existing == nil {
		added := c.appendNew(&candidate, opts)
		return MergeResult{Matched: added, WasNew: true, Confidence: 1.0}, nil
	}

	c.mu.Lock()
	changed := applyStrategy(existing, &candidate, opts)
	if existing.RecordAppearance(opts.BookID, opts.ChapterIndex) {
		changed = true
	}
	if changed {
		existing.LastUpdated = time.Now().UTC()
	}
	c.mu.Unlock()

	return MergeResult{Matched: existing, WasNew: false, Confidence: confidence}, nil
}

// findMatch runs the three-step match search. Returns (nil, 0, nil) when
// no existing entity matches.
func (c *Catalog) findMatch(ctx context.Context, candidate *Entity, opts MergeOptions) (*Entity, float64, error) {
	c.mu.RLock()
	sameType := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		if e.Type == candidate.Type {
			sameType = append(sameType, e)
		}
	}
	c.mu.RUnlock()

	// Step 1: shared alias.
	for _, e := range sameType {
		if aliasIntersects(e, candidate) {
			return e, 1.0, nil
		}
	}

	// Step 2: syntactic name heuristic.
	for _, e := range sameType {
		if namesSyntacticMatch(e.Name, candidate.Name) {
			return e, 1.0, nil
		}
	}

	// Step 3: resolver over token-overlap candidates.
	if opts.Resolver == nil {
		return nil, 0, nil
	}
	for _, e := range sameType {
		if !tokensOverlap(e.Name, candidate.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		res, err := opts.Resolver.ResolveEntity(ctx, *candidate, *e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			continue // resolver trouble never blocks the merge
		}
		if res.IsMatch && res.Confidence >= opts.minConfidence() {
			return e, res.Confidence, nil
		}
	}
	return nil, 0, nil
}

// appendNew inserts the candidate as a fresh catalog entry.
func (c *Catalog) appendNew(candidate *Entity, opts MergeOptions) *Entity {
	e := candidate.Clone()
	if e.FirstAppearance.BookID == "" {
		e.FirstAppearance = Appearance{BookID: opts.BookID, ChapterIndex: opts.ChapterIndex}
	}
	e.RecordAppearance(opts.BookID, opts.ChapterIndex)
	e.LastUpdated = time.Now().UTC()

	c.mu.Lock()
	c.addLocked(e)
	c.mu.Unlock()
	return e
}

// applyStrategy folds candidate data into existing per the strategy.
// Returns true when anything actually changed, so repeat merges of the
// same candidate stay idempotent.
func applyStrategy(existing, candidate *Entity, opts MergeOptions) bool {
	changed := false

	// Aliases, quotes, and appearance history union under every strategy.
	for _, a := range candidate.Aliases {
		if existing.AddAlias(a) {
			changed = true
		}
	}
	if existing.AddAlias(candidate.Name) {
		changed = true
	}
	for _, q := range candidate.Quotes {
		if q.Text == "" || existing.HasQuote(q) {
			continue
		}
		existing.Quotes = append(existing.Quotes, q)
		changed = true
	}
	for bookID, chapters := range candidate.Appearances {
		for _, ch := range chapters {
			if existing.RecordAppearance(bookID, ch) {
				changed = true
			}
		}
	}

	switch opts.Strategy {
	case StrategyUnion:
		if candidate.Description != "" && !containsFold(existing.Description, candidate.Description) {
			if existing.Description == "" {
				existing.Description = candidate.Description
			} else {
				existing.Description += DescriptionSeparator + candidate.Description
			}
			changed = true
		}

	case StrategyOverride:
		if candidate.Description != "" && existing.Description != candidate.Description {
			existing.Description = candidate.Description
			existing.Enrichments = append(existing.Enrichments, Enrichment{
				Detail:        "override: " + candidate.Description,
				SourceBook:    opts.BookID,
				SourceChapter: opts.ChapterIndex,
				AddedAt:       time.Now().UTC(),
			})
			changed = true
		}

	default: // StrategyEnrich
		fresh := newSentences(existing.Description, candidate.Description)
		if len(fresh) > 0 {
			detail := strings.Join(fresh, " ")
			if existing.Description == "" {
				existing.Description = detail
			} else {
				existing.Description = strings.TrimRight(existing.Description, " ") + " " + detail
			}
			existing.Enrichments = append(existing.Enrichments, Enrichment{
				Detail:        detail,
				SourceBook:    opts.BookID,
				SourceChapter: opts.ChapterIndex,
				AddedAt:       time.Now().UTC(),
			})
			changed = true
		}
	}

	return changed
}

// MergeCatalog bulk-merges another catalog into this one. Entities are
// deep-copied before merging so the catalogs never share storage. Used by
// the series bridge in both directions.
func (c *Catalog) MergeCatalog(ctx context.Context, other *Catalog, opts MergeOptions) (int, error) {
	merged := 0
	for _, e := range other.Entities() {
		if _, err := c.MergeEntity(ctx, *e.Clone(), opts); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}

// Clone deep-copies an entity.
func (e *Entity) Clone() *Entity {
	out := *e
	out.Aliases = append([]string(nil), e.Aliases...)
	out.Quotes = append([]Quote(nil), e.Quotes...)
	out.Enrichments = append([]Enrichment(nil), e.Enrichments...)
	out.Appearances = make(map[string][]int, len(e.Appearances))
	for k, v := range e.Appearances {
		out.Appearances[k] = append([]int(nil), v...)
	}
	return &out
}

// newSentences returns the sentences of candidate that are not already
// present (case-insensitive substring) in base.
func newSentences(base, candidate string) []string {
	var out []string
	for _, s := range SplitSentences(candidate) {
		if !containsFold(base, s) {
			out = append(out, s)
		}
	}
	return out
}

// SplitSentences splits text on sentence-final punctuation. Good enough
// for dedupe; not a linguistic segmenter.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
