package analyze

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/imaginize/internal/providers"
)

// Input contains the data needed for a unified analysis request.
type Input struct {
	ChapterIndex int
	ChapterTitle string
	ChapterText  string

	// ElementContext is a rendered block of previously established
	// entities. Empty for the first chapters.
	ElementContext string

	// NumScenes is the scene target for this chapter.
	NumScenes int

	// SystemPromptOverride uses a book-level prompt override.
	// If empty, uses the embedded default.
	SystemPromptOverride string
}

// BuildRequest creates the chat request for unified chapter analysis.
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
		MaxTokens:      8192,
	}
}

// ParseResult parses the model output into a Result.
func ParseResult(parsedJSON json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(parsedJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis result: %w", err)
	}
	return &result, nil
}

func buildResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(UnifiedSchema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema,
	}
}

func buildUserPrompt(input Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Chapter %d: %s\n\n", input.ChapterIndex, input.ChapterTitle)

	if ctx := strings.TrimSpace(input.ElementContext); ctx != "" {
		b.WriteString("Previously established story elements:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Scene target: %d\n\n", input.NumScenes)
	b.WriteString("Chapter text:\n---\n")
	b.WriteString(input.ChapterText)
	b.WriteString("\n---\n")

	return b.String()
}
