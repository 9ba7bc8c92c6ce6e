package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatResponse(model, content string) map[string]any {
	return map[string]any{
		"id":    "test-id",
		"model": model,
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != "POST" {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatResponse("anthropic/claude-sonnet-4", "Hello there"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "Hello"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "Hello there" {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 18 {
			t.Errorf("TotalTokens = %d, want 18", result.TotalTokens)
		}
		if result.Provider != OpenRouterName {
			t.Errorf("Provider = %q", result.Provider)
		}
		if result.RequestID == "" {
			t.Error("RequestID should be assigned")
		}
	})

	t.Run("structured output recovers fenced JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			content := "```json\n{\"scenes\": []}\n```"
			json.NewEncoder(w).Encode(chatResponse("google/gemini-2.5-pro", content))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:          "google/gemini-2.5-pro",
			Messages:       []Message{{Role: "user", Content: "go"}},
			ResponseFormat: &ResponseFormat{Type: "json_schema"},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if string(result.ParsedJSON) != `{"scenes":[]}` {
			t.Errorf("ParsedJSON = %s", result.ParsedJSON)
		}
	})

	t.Run("unparseable structured output", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chatResponse("m", "I refuse to answer in JSON."))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages:       []Message{{Role: "user", Content: "go"}},
			ResponseFormat: &ResponseFormat{Type: "json_schema"},
		})
		if !IsBadResponse(err) {
			t.Fatalf("expected BadResponseError, got %v", err)
		}
		if result == nil || result.Content == "" {
			t.Error("result with raw content should accompany the error")
		}
	})

	t.Run("anthropic models drop wire response format", func(t *testing.T) {
		var body map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(chatResponse("anthropic/claude-sonnet-4", `{"ok": true}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Model:          "anthropic/claude-sonnet-4",
			Messages:       []Message{{Role: "user", Content: "go"}},
			ResponseFormat: &ResponseFormat{Type: "json_schema", JSONSchema: json.RawMessage(`{"schema":{}}`)},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if _, present := body["response_format"]; present {
			t.Error("response_format should be dropped for anthropic/* models")
		}
	})

	t.Run("429 maps to RateLimitError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "go"}},
		})
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		if rle.RetryAfter != 2*time.Second {
			t.Errorf("RetryAfter = %v, want 2s", rle.RetryAfter)
		}
		if !IsRetryable(err) {
			t.Error("rate limit should be retryable")
		}
	})

	t.Run("401 maps to AuthError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "invalid api key"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "bad", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "go"}},
		})
		if !IsAuthError(err) {
			t.Fatalf("expected AuthError, got %v", err)
		}
		if IsRetryable(err) {
			t.Error("auth failure should not be retryable")
		}
	})

	t.Run("500 maps to retryable APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "go"}},
		})
		var ae *APIError
		if !errors.As(err, &ae) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !IsRetryable(err) {
			t.Error("500 should be retryable")
		}
	})

	t.Run("error inside 200 body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "model overloaded", "code": 429},
			})
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "go"}},
		})
		if _, ok := IsRateLimitError(err); !ok {
			t.Fatalf("expected RateLimitError from body code, got %v", err)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"id": "x", "model": "m", "choices": []any{}})
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "go"}},
		})
		if !IsBadResponse(err) {
			t.Fatalf("expected BadResponseError, got %v", err)
		}
	})
}

func TestOpenRouterClient_GenerateImage(t *testing.T) {
	pngBytes := []byte("\x89PNG\r\n\x1a\nfake")

	imageResponse := func(url string) map[string]any {
		return map[string]any{
			"id":    "img-id",
			"model": "google/gemini-2.5-flash-image",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "here you go",
						"images": []map[string]any{
							{"type": "image_url", "image_url": map[string]any{"url": url}},
						},
					},
				},
			},
			"usage": map[string]int{"total_tokens": 1290},
		}
	}

	t.Run("data url", func(t *testing.T) {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
		var body map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(imageResponse(dataURL))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.GenerateImage(context.Background(), &ImageRequest{
			Prompt: "a lighthouse at dawn",
			Size:   "1024x1024",
		})
		if err != nil {
			t.Fatalf("GenerateImage() error = %v", err)
		}
		if string(result.PNG) != string(pngBytes) {
			t.Errorf("PNG bytes mismatch: got %d bytes", len(result.PNG))
		}
		if result.TokensUsed != 1290 {
			t.Errorf("TokensUsed = %d, want 1290", result.TokensUsed)
		}

		mods, _ := body["modalities"].([]any)
		if len(mods) != 2 {
			t.Errorf("modalities = %v, want [image text]", body["modalities"])
		}
	})

	t.Run("https url is downloaded", func(t *testing.T) {
		fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(pngBytes)
		}))
		defer fileServer.Close()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(imageResponse(fileServer.URL + "/img.png"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.GenerateImage(context.Background(), &ImageRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("GenerateImage() error = %v", err)
		}
		if string(result.PNG) != string(pngBytes) {
			t.Error("downloaded bytes mismatch")
		}
	})

	t.Run("no images in response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chatResponse("m", "sorry, text only"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.GenerateImage(context.Background(), &ImageRequest{Prompt: "p"})
		if !IsBadResponse(err) {
			t.Fatalf("expected BadResponseError, got %v", err)
		}
	})
}

func TestDecodeDataURL(t *testing.T) {
	payload := []byte("image-bytes")
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	got, err := decodeDataURL(url)
	if err != nil {
		t.Fatalf("decodeDataURL() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: %q", got)
	}

	if _, err := decodeDataURL("data:image/png;base64"); err == nil {
		t.Error("missing comma should fail")
	}
	if _, err := decodeDataURL("data:image/png;base64,!!!"); err == nil {
		t.Error("invalid base64 should fail")
	}
}
