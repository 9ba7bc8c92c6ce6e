package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/prompts/resolve"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/rescache"
)

// ResolveEntity decides whether a candidate entity is the same story
// object as an existing catalog entry. The resolution cache is always
// consulted first; a model verdict is cached before returning.
// Satisfies elements.Resolver.
func (f *Facade) ResolveEntity(ctx context.Context, candidate, existing elements.Entity) (elements.Resolution, error) {
	key := rescache.NewKey(candidate.Name, string(candidate.Type), existing.Name)
	if hit := f.cache.Get(key); hit != nil {
		return elements.Resolution{
			IsMatch:    hit.IsMatch,
			Confidence: hit.Confidence,
			Reasoning:  hit.Reasoning,
		}, nil
	}

	req := resolve.BuildRequest(resolve.Input{
		Candidate:            entityView(candidate),
		Existing:             entityView(existing),
		SystemPromptOverride: f.PromptText(resolve.PromptKey),
	})
	result, _, err := f.chatStructured(ctx, resolve.PromptKey, req)
	if err != nil {
		return elements.Resolution{}, err
	}
	parsed, err := resolve.ParseResult(result.ParsedJSON)
	if err != nil {
		return elements.Resolution{}, &providers.BadResponseError{Message: err.Error(), Raw: result.Content}
	}

	// Negative verdicts are cached too: re-asking about a known
	// non-match costs the same call as a match.
	f.cache.Put(key, rescache.Resolution{
		IsMatch:    parsed.IsMatch,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	})
	return elements.Resolution{
		IsMatch:    parsed.IsMatch,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	}, nil
}

// entityView projects a catalog entity into the prompt shape.
func entityView(e elements.Entity) resolve.EntityView {
	return resolve.EntityView{
		Type:        string(e.Type),
		Name:        e.Name,
		Aliases:     e.Aliases,
		Description: e.Description,
	}
}

// ResolutionCacheStats exposes cache hit/miss counters for status output.
func (f *Facade) ResolutionCacheStats() rescache.Stats {
	return f.cache.Stats()
}

// resolutionCacheFile is the on-disk shape of a persisted cache.
type resolutionCacheFile struct {
	SavedAt time.Time        `json:"savedAt"`
	Entries []rescache.Entry `json:"entries"`
}

// LoadResolutionCache restores resolution verdicts persisted by a
// previous run. A missing or unreadable file is a clean start, not an
// error. Returns the number of entries restored; stale ones are dropped.
func (f *Facade) LoadResolutionCache() (int, error) {
	if f.bookDir == "" {
		return 0, nil
	}
	path := home.NewBookDir(f.bookDir).ResolutionCachePath()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read resolution cache: %w", err)
	}
	var file resolutionCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		// The cache is advisory; a corrupt file is not worth failing a run.
		f.logger.Warn("resolution cache unreadable, starting fresh", "path", path, "error", err)
		return 0, nil
	}
	return f.cache.Restore(file.Entries), nil
}

// SaveResolutionCache persists the current cache contents next to the
// book state so the next run skips already-settled comparisons.
func (f *Facade) SaveResolutionCache() error {
	if f.bookDir == "" {
		return nil
	}
	file := resolutionCacheFile{
		SavedAt: time.Now().UTC(),
		Entries: f.cache.Snapshot(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resolution cache: %w", err)
	}
	return atomicfile.Write(home.NewBookDir(f.bookDir).ResolutionCachePath(), data)
}
