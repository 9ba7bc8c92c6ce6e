package providers

import "encoding/json"

// OpenAI-format wire types for OpenRouter-compatible endpoints.

type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	Temperature    float64                   `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
	// Modalities requests inline image output (chat-with-modalities
	// image generation).
	Modalities []string `json:"modalities,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
			// Images is present on chat-with-modalities responses.
			Images []openRouterImage `json:"images,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	// Error is returned by the API when something goes wrong at the
	// API/model level even under HTTP 200.
	Error *openRouterAPIError `json:"error,omitempty"`
}

type openRouterImage struct {
	Type     string `json:"type"` // "image_url"
	ImageURL struct {
		URL string `json:"url"` // data URL or https URL
	} `json:"image_url"`
}

type openRouterAPIError struct {
	Message  string         `json:"message"`
	Code     any            `json:"code,omitempty"` // string or int
	Metadata map[string]any `json:"metadata,omitempty"`
}
