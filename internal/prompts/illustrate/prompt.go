package illustrate

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackzampolin/imaginize/internal/prompts"
)

//go:embed style.tmpl
var stylePrompt string

// StylePrompt returns the default style preamble for image prompts.
func StylePrompt() string {
	return stylePrompt
}

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "phases.illustrate.style"

// RegisterPrompts registers the illustrate prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        stylePrompt,
		Description: "Style preamble prepended to every image generation prompt",
	})
}

// Input carries the pieces of one image prompt.
type Input struct {
	VisualDescription string
	SourceQuote       string

	// Entity context lines, each "Name: description".
	CharacterDetails []string
	PlaceDetails     []string

	// StyleOverride uses a book-level prompt override.
	StyleOverride string
}

// BuildPrompt composes the full image generation prompt: style preamble,
// scene description, supporting quote, then entity detail blocks.
func BuildPrompt(input Input) string {
	style := input.StyleOverride
	if style == "" {
		style = StylePrompt()
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(style))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(input.VisualDescription))

	if q := strings.TrimSpace(input.SourceQuote); q != "" {
		fmt.Fprintf(&b, "\n\nThe moment depicted: %q", q)
	}
	if len(input.CharacterDetails) > 0 {
		b.WriteString("\n\nCharacter details:")
		for _, d := range input.CharacterDetails {
			fmt.Fprintf(&b, "\n- %s", d)
		}
	}
	if len(input.PlaceDetails) > 0 {
		b.WriteString("\n\nPlace details:")
		for _, d := range input.PlaceDetails {
			fmt.Fprintf(&b, "\n- %s", d)
		}
	}

	return b.String()
}
