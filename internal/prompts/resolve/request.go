package resolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/imaginize/internal/providers"
)

// EntityView is the projection of an entity record sent to the model.
type EntityView struct {
	Type        string
	Name        string
	Aliases     []string
	Description string
}

// Input contains the two records to compare.
type Input struct {
	Candidate EntityView
	Existing  EntityView

	// SystemPromptOverride uses a book-level prompt override.
	SystemPromptOverride string
}

// BuildRequest creates the chat request for an entity resolution call.
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
		Temperature:    0.0,
		MaxTokens:      1024,
	}
}

// ParseResult parses the model output into a Result.
func ParseResult(parsedJSON json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(parsedJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to parse resolution result: %w", err)
	}
	return &result, nil
}

func buildResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(ResolutionSchema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema,
	}
}

func buildUserPrompt(input Input) string {
	var b strings.Builder
	b.WriteString("NEW entity:\n")
	writeEntity(&b, input.Candidate)
	b.WriteString("\nEXISTING entity:\n")
	writeEntity(&b, input.Existing)
	return b.String()
}

func writeEntity(b *strings.Builder, e EntityView) {
	fmt.Fprintf(b, "- type: %s\n- name: %s\n", e.Type, e.Name)
	if len(e.Aliases) > 0 {
		fmt.Fprintf(b, "- aliases: %s\n", strings.Join(e.Aliases, ", "))
	}
	if e.Description != "" {
		fmt.Fprintf(b, "- description: %s\n", e.Description)
	}
}
