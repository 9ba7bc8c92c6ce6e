package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/imaginize/internal/providers"
)

// Input contains a base description and the details to fold in.
type Input struct {
	EntityName string
	EntityType string
	Base       string
	Details    []string

	// SystemPromptOverride uses a book-level prompt override.
	SystemPromptOverride string
}

// BuildRequest creates the chat request for description consolidation.
func BuildRequest(input Input) *providers.ChatRequest {
	systemPrompt := input.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = SystemPrompt()
	}

	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(input)},
		},
		ResponseFormat: buildResponseFormat(),
		Temperature:    0.2,
		MaxTokens:      1024,
	}
}

// ParseResult parses the model output into a Result.
func ParseResult(parsedJSON json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(parsedJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to parse consolidation result: %w", err)
	}
	return &result, nil
}

func buildResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(DescriptionSchema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema,
	}
}

func buildUserPrompt(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Element: %s (%s)\n\n", input.EntityName, input.EntityType)
	b.WriteString("BASE description:\n")
	b.WriteString(input.Base)
	b.WriteString("\n\nNEW DETAILS:\n")
	for _, d := range input.Details {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return b.String()
}
