package illustrate

import (
	"strings"
	"testing"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(Input{
		VisualDescription: "A stone gate collapsing under siege.",
		SourceQuote:       "The gate fell.",
		CharacterDetails:  []string{"Mira: a tall ranger in a grey cloak"},
		PlaceDetails:      []string{"Highgate: a mountain fortress"},
	})

	if !strings.HasPrefix(prompt, strings.TrimSpace(StylePrompt())) {
		t.Error("prompt should start with the style preamble")
	}
	for _, want := range []string{
		"A stone gate collapsing",
		`"The gate fell."`,
		"Character details:",
		"Mira: a tall ranger",
		"Place details:",
		"Highgate: a mountain fortress",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildPrompt(Input{VisualDescription: "A quiet harbor at dawn."})
	if strings.Contains(prompt, "Character details:") || strings.Contains(prompt, "Place details:") {
		t.Error("empty detail sections should be omitted")
	}
	if strings.Contains(prompt, "The moment depicted") {
		t.Error("empty quote should be omitted")
	}
}

func TestBuildPromptStyleOverride(t *testing.T) {
	prompt := BuildPrompt(Input{
		VisualDescription: "x",
		StyleOverride:     "Children's watercolor, soft pastels.",
	})
	if !strings.HasPrefix(prompt, "Children's watercolor") {
		t.Error("style override should replace the preamble")
	}
}
