// Package providers implements the HTTP clients for AI chat and image
// endpoints. Two concrete stacks exist: a hand-rolled OpenAI-format
// client for OpenRouter-compatible endpoints (chat plus the
// chat-with-modalities image variant) and the official OpenAI SDK for
// api.openai.com (chat plus images/generations). Both surface the same
// interfaces and the same typed error taxonomy; provider and tier
// selection are pure functions of model id and base URL.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// ChatClient is the interface for chat/completion requests.
type ChatClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// ImageClient is the interface for image generation requests.
// Implementations that receive a URL instead of inline bytes download
// the image before returning; callers always get PNG bytes.
type ImageClient interface {
	// GenerateImage produces one image for a prompt.
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)

	// Name returns the client identifier.
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat requests structured JSON output from the model.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to a chat model.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from a chat call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set when ResponseFormat was requested

	// Token counts as reported by the model
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID     string        `json:"request_id"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ImageRequest is a request to an image model.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"` // uses client default if empty
	Size   string `json:"size,omitempty"`  // "1024x1024" etc.

	RequestID string `json:"-"`
}

// ImageResult carries the generated image as PNG bytes.
type ImageResult struct {
	PNG        []byte `json:"-"`
	TokensUsed int    `json:"tokens_used"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	RequestID     string        `json:"request_id"`
	ExecutionTime time.Duration `json:"execution_time"`
}
