package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName              = "openai"
	openAIDefaultChatModel  = "gpt-4o"
	openAIDefaultImageModel = "gpt-image-1"
)

// OpenAIConfig holds configuration for the official OpenAI SDK client.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string // optional (tests)
	DefaultModel      string
	DefaultImageModel string
	Timeout           time.Duration
	RequestsPerMinute float64      // token bucket ceiling (default 150)
	HTTPClient        *http.Client // optional (tests)
}

// OpenAIClient implements ChatClient and ImageClient against
// api.openai.com using the official SDK. SDK transport retries are
// disabled: failures surface as typed errors and the pipeline scheduler
// owns the backoff policy.
type OpenAIClient struct {
	defaultModel      string
	defaultImageModel string
	client            openai.Client
	httpClient        *http.Client
	limiter           *RateLimiter
}

// NewOpenAIClient creates a new OpenAI SDK client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openAIDefaultChatModel
	}
	if cfg.DefaultImageModel == "" {
		cfg.DefaultImageModel = openAIDefaultImageModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		defaultModel:      cfg.DefaultModel,
		defaultImageModel: cfg.DefaultImageModel,
		client:            openai.NewClient(opts...),
		httpClient:        httpClient,
		limiter:           NewRateLimiter(cfg.RequestsPerMinute),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Limiter exposes the per-provider token bucket for status reporting.
func (c *OpenAIClient) Limiter() *RateLimiter {
	return c.limiter
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		rf, err := openAIResponseFormat(req.ResponseFormat)
		if err != nil {
			return nil, err
		}
		params.ResponseFormat = rf
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.recordMapped(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &BadResponseError{Message: "no choices in response"}
	}
	content := resp.Choices[0].Message.Content

	result := &ChatResult{
		Content:          content,
		Provider:         OpenAIName,
		ModelUsed:        resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		RequestID:        requestID,
		ExecutionTime:    time.Since(start),
	}

	if req.ResponseFormat != nil && content != "" {
		parsed, perr := ParseStructuredJSON(content)
		if perr != nil {
			return result, &BadResponseError{Message: perr.Error(), Raw: content}
		}
		result.ParsedJSON = parsed
	}

	return result, nil
}

// GenerateImage produces an image through images/generations. dall-e
// models are asked for base64 payloads; gpt-image models always return
// base64 and reject the response_format parameter.
func (c *OpenAIClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultImageModel
	}

	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(model),
		N:      openai.Int(1),
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	if strings.HasPrefix(model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, c.recordMapped(err)
	}
	if len(resp.Data) == 0 {
		return nil, &BadResponseError{Message: "no image data in response"}
	}

	datum := resp.Data[0]
	var png []byte
	switch {
	case datum.B64JSON != "":
		png, err = base64.StdEncoding.DecodeString(datum.B64JSON)
		if err != nil {
			return nil, &BadResponseError{Message: fmt.Sprintf("invalid base64 image payload: %v", err)}
		}
	case datum.URL != "":
		png, err = fetchImageBytes(ctx, c.httpClient, datum.URL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &BadResponseError{Message: "image response had neither b64_json nor url"}
	}

	return &ImageResult{
		PNG:           png,
		TokensUsed:    int(resp.Usage.TotalTokens),
		Provider:      OpenAIName,
		ModelUsed:     model,
		RequestID:     requestID,
		ExecutionTime: time.Since(start),
	}, nil
}

// recordMapped converts an SDK error to the typed taxonomy and feeds
// 429s into the token bucket.
func (c *OpenAIClient) recordMapped(err error) error {
	mapped := mapOpenAIError(err)
	var rle *RateLimitError
	if errors.As(mapped, &rle) {
		c.limiter.Record429(rle.RetryAfter)
	}
	return mapped
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = RetryAfterFromHeaders(apiErr.Response.Header)
		}
		return statusError(OpenAIName, apiErr.StatusCode, msg, retryAfter)
	}
	return err
}

// openAIResponseFormat converts the generic response format into SDK
// params. The schema payload accepts either the json_schema envelope
// {"name","strict","schema":{...}} or a bare schema document.
func openAIResponseFormat(rf *ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	var union openai.ChatCompletionNewParamsResponseFormatUnion

	name := "response"
	schemaRaw := rf.JSONSchema
	var wrapper struct {
		Name   string          `json:"name"`
		Strict *bool           `json:"strict"`
		Schema json.RawMessage `json:"schema"`
	}
	if len(rf.JSONSchema) > 0 {
		if err := json.Unmarshal(rf.JSONSchema, &wrapper); err == nil {
			if wrapper.Name != "" {
				name = wrapper.Name
			}
			if len(wrapper.Schema) > 0 {
				schemaRaw = wrapper.Schema
			}
		}
	}

	if len(schemaRaw) == 0 {
		union.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
		return union, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaRaw, &schemaDoc); err != nil {
		return union, fmt.Errorf("invalid response schema: %w", err)
	}

	jsParam := shared.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   name,
		Schema: schemaDoc,
	}
	if wrapper.Strict != nil {
		jsParam.Strict = openai.Bool(*wrapper.Strict)
	}
	union.OfJSONSchema = &shared.ResponseFormatJSONSchemaParam{JSONSchema: jsParam}
	return union, nil
}

var (
	_ ChatClient  = (*OpenAIClient)(nil)
	_ ImageClient = (*OpenAIClient)(nil)
)
