package resolve

import (
	_ "embed"

	"github.com/jackzampolin/imaginize/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

// SystemPrompt returns the system prompt for entity resolution.
func SystemPrompt() string {
	return systemPrompt
}

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "phases.resolve.system"

// RegisterPrompts registers the resolve prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        systemPrompt,
		Description: "Entity resolution judge - decides whether two entity records are the same story element",
	})
}
