// Package prompts provides prompt management with embedded defaults and
// book-level overrides.
//
// Embedded .tmpl files in each phase subpackage are the source of truth
// for defaults. A book directory may carry a prompts/ folder with
// <key>.tmpl files that override the embedded text for that book only.
//
// Resolution order for a specific book:
//  1. <bookDir>/prompts/<key>.tmpl (per-book customization, if present)
//  2. Embedded default (from .tmpl files in code)
package prompts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// validKeyPattern matches valid prompt keys (alphanumeric with dots, underscores).
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._]*$`)

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: phases.analyze.system
	Text        string   // The prompt text
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the result of resolving a prompt for a specific book.
type ResolvedPrompt struct {
	Key        string `json:"key"`
	Text       string `json:"text"`
	IsOverride bool   `json:"is_override"` // true when loaded from the book's prompts/ dir
}

// Resolver resolves prompts with book-level overrides.
type Resolver struct {
	mu       sync.RWMutex
	embedded map[string]EmbeddedPrompt
	logger   *slog.Logger
}

// NewResolver creates a new prompt resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		embedded: make(map[string]EmbeddedPrompt),
		logger:   logger,
	}
}

// Register registers an embedded prompt. Called during initialization by
// each phase subpackage.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key)
}

// Resolve returns the prompt text for a key, preferring a book-level
// override file when bookDir is non-empty and the file exists.
func (r *Resolver) Resolve(key, bookDir string) (*ResolvedPrompt, error) {
	if !validKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("invalid prompt key: %s", key)
	}

	if bookDir != "" {
		if text, ok := r.readOverride(key, bookDir); ok {
			return &ResolvedPrompt{Key: key, Text: text, IsOverride: true}, nil
		}
	}

	r.mu.RLock()
	embedded, ok := r.embedded[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", key)
	}

	return &ResolvedPrompt{Key: key, Text: embedded.Text}, nil
}

// readOverride loads <bookDir>/prompts/<key>.tmpl when present. Read
// failures other than absence are logged and treated as no override.
func (r *Resolver) readOverride(key, bookDir string) (string, bool) {
	path := OverridePath(bookDir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("failed to read prompt override", "path", path, "error", err)
		}
		return "", false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	return text, true
}

// OverridePath returns the book-level override file path for a key.
func OverridePath(bookDir, key string) string {
	return filepath.Join(bookDir, "prompts", key+".tmpl")
}

// GetEmbedded returns the embedded default for a key (no book resolution).
func (r *Resolver) GetEmbedded(key string) (*EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return &p, ok
}

// AllEmbedded returns all registered embedded prompts.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	return result
}
