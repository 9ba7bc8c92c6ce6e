package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// doRequest makes one HTTP request to the endpoint and maps failures to
// the typed error taxonomy. No retries here: the scheduler owns retry
// policy, and double-retrying would stretch a 10-attempt budget into a
// hundred calls.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/imaginize")
	req.Header.Set("X-Title", "Imaginize")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := RetryAfterFromHeaders(resp.Header)
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.Record429(retryAfter)
		}
		return nil, statusError(OpenRouterName, resp.StatusCode, truncateBody(respBody), retryAfter)
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, &BadResponseError{
			Message: fmt.Sprintf("failed to unmarshal response: %v", err),
			Raw:     truncateBody(respBody),
		}
	}

	// The API reports some failures inside a 200 body.
	if orResp.Error != nil {
		return nil, mapBodyError(orResp.Error)
	}

	return &orResp, nil
}

// mapBodyError converts an error object inside an HTTP 200 body to the
// typed taxonomy using its embedded code.
func mapBodyError(apiErr *openRouterAPIError) error {
	code := 0
	switch v := apiErr.Code.(type) {
	case float64:
		code = int(v)
	case int:
		code = v
	case string:
		fmt.Sscanf(v, "%d", &code)
	}
	if code == 0 {
		return &APIError{StatusCode: http.StatusBadGateway, Message: apiErr.Message, Provider: OpenRouterName}
	}
	return statusError(OpenRouterName, code, apiErr.Message, 0)
}

func truncateBody(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// fetchImageBytes resolves an image reference from a model response:
// data URLs are decoded inline, https URLs are downloaded with bounded
// retries since image CDN URLs are short-lived and flaky.
func fetchImageBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURL(url)
	}
	if url == "" {
		return nil, &BadResponseError{Message: "empty image url"}
	}

	var png []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create download request: %w", err))
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("image download failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("image download failed with status %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			png, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read image body: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, &BadResponseError{Message: "downloaded image is empty"}
	}
	return png, nil
}

// decodeDataURL extracts the payload of a base64 data URL.
func decodeDataURL(url string) ([]byte, error) {
	_, payload, found := strings.Cut(url, ",")
	if !found {
		return nil, &BadResponseError{Message: "malformed data url in image response"}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &BadResponseError{Message: fmt.Sprintf("invalid base64 image data: %v", err)}
	}
	if len(data) == 0 {
		return nil, &BadResponseError{Message: "empty image data"}
	}
	return data, nil
}
