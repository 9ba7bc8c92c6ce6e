package enrich

import (
	_ "embed"

	"github.com/jackzampolin/imaginize/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

// SystemPrompt returns the system prompt for description consolidation.
func SystemPrompt() string {
	return systemPrompt
}

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "phases.enrich.system"

// RegisterPrompts registers the enrich prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        systemPrompt,
		Description: "Description consolidation - rewrites a base description plus accumulated details into one coherent text",
	})
}
