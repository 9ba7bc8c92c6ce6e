package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter-format client.
type OpenRouterConfig struct {
	APIKey            string
	BaseURL           string
	DefaultModel      string
	DefaultImageModel string
	Timeout           time.Duration
	RequestsPerMinute float64      // token bucket ceiling (default 150)
	HTTPClient        *http.Client // optional (tests)
}

// OpenRouterClient speaks the OpenAI chat format against OpenRouter or
// any compatible endpoint. It implements both ChatClient and ImageClient
// (images via the chat-with-modalities variant, which returns inline
// base64 image data).
//
// The client performs no retries itself: HTTP failures come back as
// typed errors (RateLimitError, APIError, AuthError) and the pipeline
// scheduler owns the backoff policy.
type OpenRouterClient struct {
	apiKey            string
	baseURL           string
	defaultModel      string
	defaultImageModel string
	client            *http.Client
	limiter           *RateLimiter
}

// NewOpenRouterClient creates a new OpenRouter-format client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.DefaultImageModel == "" {
		cfg.DefaultImageModel = "google/gemini-2.5-flash-image"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:            cfg.APIKey,
		baseURL:           cfg.BaseURL,
		defaultModel:      cfg.DefaultModel,
		defaultImageModel: cfg.DefaultImageModel,
		client:            httpClient,
		limiter:           NewRateLimiter(cfg.RequestsPerMinute),
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Limiter exposes the per-provider token bucket for status reporting.
func (c *OpenRouterClient) Limiter() *RateLimiter {
	return c.limiter
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := &openRouterRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		orReq.Messages = append(orReq.Messages, openRouterMessage{Role: m.Role, Content: m.Content})
	}
	orReq.ResponseFormat = adaptResponseFormat(model, req.ResponseFormat)

	orResp, err := c.doRequest(ctx, "/chat/completions", orReq)
	if err != nil {
		return nil, err
	}
	if len(orResp.Choices) == 0 {
		return nil, &BadResponseError{Message: "no choices in response"}
	}

	content, err := contentToString(orResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Content:          content,
		Provider:         OpenRouterName,
		ModelUsed:        orResp.Model,
		PromptTokens:     orResp.Usage.PromptTokens,
		CompletionTokens: orResp.Usage.CompletionTokens,
		TotalTokens:      orResp.Usage.TotalTokens,
		RequestID:        requestID,
		ExecutionTime:    time.Since(start),
	}

	// Parse JSON when structured output was requested; recovery from
	// fenced or prefixed output happens here so callers see clean JSON.
	if req.ResponseFormat != nil && content != "" {
		parsed, perr := ParseStructuredJSON(content)
		if perr != nil {
			return result, &BadResponseError{Message: perr.Error(), Raw: content}
		}
		result.ParsedJSON = parsed
	}

	return result, nil
}

// GenerateImage produces an image through the chat-with-modalities
// variant: the model answers with an inline data URL (or an https URL,
// which is downloaded). Callers always receive PNG bytes.
func (c *OpenRouterClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultImageModel
	}

	prompt := req.Prompt
	if req.Size != "" {
		prompt = fmt.Sprintf("%s\n\nImage size: %s.", prompt, req.Size)
	}

	orReq := &openRouterRequest{
		Model:      model,
		Messages:   []openRouterMessage{{Role: "user", Content: prompt}},
		Modalities: []string{"image", "text"},
	}

	orResp, err := c.doRequest(ctx, "/chat/completions", orReq)
	if err != nil {
		return nil, err
	}
	if len(orResp.Choices) == 0 {
		return nil, &BadResponseError{Message: "no choices in image response"}
	}

	images := orResp.Choices[0].Message.Images
	if len(images) == 0 {
		return nil, &BadResponseError{Message: "model returned no images"}
	}

	png, err := fetchImageBytes(ctx, c.client, images[0].ImageURL.URL)
	if err != nil {
		return nil, err
	}

	return &ImageResult{
		PNG:           png,
		TokensUsed:    orResp.Usage.TotalTokens,
		Provider:      OpenRouterName,
		ModelUsed:     orResp.Model,
		RequestID:     requestID,
		ExecutionTime: time.Since(start),
	}, nil
}

// contentToString flattens the message content field, which the API may
// return as a string or a structured block list.
func contentToString(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", &BadResponseError{Message: fmt.Sprintf("unrepresentable content: %v", err)}
		}
		return string(b), nil
	}
}

var (
	_ ChatClient  = (*OpenRouterClient)(nil)
	_ ImageClient = (*OpenRouterClient)(nil)
)
