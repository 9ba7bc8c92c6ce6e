package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockChatClient is a ChatClient for testing. Errors are consumed one
// per call before any scripted response; ChatFn overrides everything.
type MockChatClient struct {
	Latency      time.Duration
	ResponseText string
	ResponseJSON json.RawMessage

	// Responses are returned in order, then the last one repeats.
	Responses []*ChatResult

	// Errors are returned in order before successful responses.
	Errors []error

	// ChatFn, when set, handles the call entirely.
	ChatFn func(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	mu           sync.Mutex
	errIdx       int
	respIdx      int
	requests     []*ChatRequest
	requestCount atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
}

// NewMockChatClient creates a mock with sensible defaults.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockChatClient) Name() string {
	return MockClientName
}

// Chat returns the next scripted error or response.
func (c *MockChatClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	count := c.requestCount.Add(1)
	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxInFlight.Load()
		if cur <= max || c.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var scripted error
	if c.errIdx < len(c.Errors) {
		scripted = c.Errors[c.errIdx]
		c.errIdx++
	}
	c.mu.Unlock()

	if c.ChatFn != nil {
		return c.ChatFn(ctx, req)
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted != nil {
		return nil, scripted
	}

	c.mu.Lock()
	var result *ChatResult
	if len(c.Responses) > 0 {
		idx := c.respIdx
		if idx >= len(c.Responses) {
			idx = len(c.Responses) - 1
		}
		result = cloneChatResult(c.Responses[idx])
		c.respIdx++
	}
	c.mu.Unlock()

	if result == nil {
		content := c.ResponseText
		var parsed json.RawMessage
		if req.ResponseFormat != nil && len(c.ResponseJSON) > 0 {
			content = string(c.ResponseJSON)
			parsed = c.ResponseJSON
		}
		promptTokens := 0
		for _, m := range req.Messages {
			promptTokens += len(m.Content) / 4
		}
		result = &ChatResult{
			Content:          content,
			ParsedJSON:       parsed,
			PromptTokens:     promptTokens,
			CompletionTokens: len(content) / 4,
			TotalTokens:      promptTokens + len(content)/4,
			ModelUsed:        req.Model,
		}
	}
	result.Provider = MockClientName
	if result.RequestID == "" {
		result.RequestID = fmt.Sprintf("mock-%d", count)
	}
	return result, nil
}

func cloneChatResult(r *ChatResult) *ChatResult {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// RequestCount returns the number of Chat calls made.
func (c *MockChatClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// MaxInFlight returns the peak number of concurrent Chat calls.
func (c *MockChatClient) MaxInFlight() int64 {
	return c.maxInFlight.Load()
}

// Requests returns a copy of all requests received.
func (c *MockChatClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Reset clears counters and scripted-sequence positions.
func (c *MockChatClient) Reset() {
	c.mu.Lock()
	c.errIdx = 0
	c.respIdx = 0
	c.requests = nil
	c.mu.Unlock()
	c.requestCount.Store(0)
	c.maxInFlight.Store(0)
}

// MockImageClient is an ImageClient for testing.
type MockImageClient struct {
	Latency time.Duration
	PNG     []byte
	Errors  []error

	GenerateFn func(ctx context.Context, req *ImageRequest) (*ImageResult, error)

	mu           sync.Mutex
	errIdx       int
	requests     []*ImageRequest
	requestCount atomic.Int64
}

// NewMockImageClient creates a mock that returns a tiny PNG header.
func NewMockImageClient() *MockImageClient {
	return &MockImageClient{
		Latency: time.Millisecond,
		PNG:     []byte("\x89PNG\r\n\x1a\n"),
	}
}

// Name returns the client identifier.
func (c *MockImageClient) Name() string {
	return MockClientName
}

// GenerateImage returns the next scripted error or the configured bytes.
func (c *MockImageClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var scripted error
	if c.errIdx < len(c.Errors) {
		scripted = c.Errors[c.errIdx]
		c.errIdx++
	}
	c.mu.Unlock()

	if c.GenerateFn != nil {
		return c.GenerateFn(ctx, req)
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted != nil {
		return nil, scripted
	}

	return &ImageResult{
		PNG:       append([]byte(nil), c.PNG...),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		RequestID: fmt.Sprintf("mock-img-%d", count),
	}, nil
}

// RequestCount returns the number of GenerateImage calls made.
func (c *MockImageClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of all requests received.
func (c *MockImageClient) Requests() []*ImageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ImageRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var (
	_ ChatClient  = (*MockChatClient)(nil)
	_ ImageClient = (*MockImageClient)(nil)
)
