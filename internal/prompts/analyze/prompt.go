package analyze

import (
	_ "embed"

	"github.com/jackzampolin/imaginize/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

// SystemPrompt returns the system prompt for unified chapter analysis.
func SystemPrompt() string {
	return systemPrompt
}

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "phases.analyze.system"

// RegisterPrompts registers the analyze prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        systemPrompt,
		Description: "Unified chapter analysis - extracts scene concepts and story entities in one call",
	})
}
