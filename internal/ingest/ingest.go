// Package ingest turns a source file into a parsed book: title, page
// count, and ordered chapters ready for the pipeline. Format support is
// pluggable behind the Parser interface; plaintext ships built in, PDFs
// get a page-count probe driven by a TOC sidecar, and EPUB byte parsing
// stays with external tooling.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackzampolin/imaginize/internal/book"
)

// Parsed is the parser output handed to the pipeline.
type Parsed struct {
	Title      string
	TotalPages int
	Chapters   []book.ChapterSpec
}

// Validate checks the invariants the pipeline relies on: 1-based
// contiguous chapter indices and a positive page count.
func (p *Parsed) Validate() error {
	if p.TotalPages < 1 {
		return fmt.Errorf("parsed book has no pages")
	}
	if len(p.Chapters) == 0 {
		return fmt.Errorf("parsed book has no chapters")
	}
	for i, ch := range p.Chapters {
		if ch.Index != i+1 {
			return fmt.Errorf("chapter indices must be contiguous from 1, got %d at position %d", ch.Index, i)
		}
	}
	return nil
}

// StoryChapters returns only the chapters classified as story content.
func (p *Parsed) StoryChapters() []book.ChapterSpec {
	var out []book.ChapterSpec
	for _, ch := range p.Chapters {
		if ch.IsStoryContent {
			out = append(out, ch)
		}
	}
	return out
}

// Parser turns one source format into a Parsed book.
type Parser interface {
	// Extensions lists the lowercased file extensions (with dot) handled.
	Extensions() []string
	Parse(ctx context.Context, path string) (*Parsed, error)
}

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
	logger  *slog.Logger
}

// NewRegistry creates a registry with the bundled parsers registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		parsers: make(map[string]Parser),
		logger:  logger,
	}
	r.Register(NewPlaintextParser(logger))
	r.Register(NewPDFProbe(logger))
	return r
}

// Register adds a parser for each extension it claims, replacing any
// previous claimant.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Supported returns the registered extensions, sorted.
func (r *Registry) Supported() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParseBook selects a parser by extension and runs it. The parsed result
// is validated before being returned.
func (r *Registry) ParseBook(ctx context.Context, path string) (*Parsed, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source file not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("no parser for %s files (supported: %s); convert the source to one of those or register a parser",
			ext, strings.Join(r.Supported(), ", "))
	}

	r.logger.Info("parsing source", "path", path, "format", ext)
	parsed, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("parser produced an invalid book: %w", err)
	}

	story := len(parsed.StoryChapters())
	r.logger.Info("parsed source",
		"title", parsed.Title,
		"pages", parsed.TotalPages,
		"chapters", len(parsed.Chapters),
		"story_chapters", story)
	return parsed, nil
}

// titleFromPath derives a display title from a source filename:
// extension stripped, separators spaced, words capitalized.
// e.g. "the-locked-door.txt" -> "The Locked Door".
func titleFromPath(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)

	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 && r[0] >= 'a' && r[0] <= 'z' {
			r[0] = r[0] - 'a' + 'A'
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
