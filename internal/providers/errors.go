package providers

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RateLimitError is returned when a provider answers 429. RetryAfter
// carries the provider-suggested delay when the response included one;
// zero means the caller picks its own backoff.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// IsRateLimitError returns the typed error when err is (or wraps) a rate
// limit response.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// APIError is a non-429 HTTP failure from a provider. Whether it is worth
// retrying is a property of the status code, not the call site.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status code indicates a transient
// condition: 408, 425, and server-side 5xx.
func (e *APIError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

// AuthError marks authentication/authorization failures (401, 403) and
// configuration-level rejections. Fatal for the phase.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an auth/config failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// BadResponseError marks a model response that could not be parsed or
// failed schema validation. The AI facade re-prompts once; it is never
// retried by the scheduler.
type BadResponseError struct {
	Message string
	Raw     string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("bad model response: %s", e.Message)
}

// IsBadResponse reports whether err is an unparseable-output failure.
func IsBadResponse(err error) bool {
	var bre *BadResponseError
	return errors.As(err, &bre)
}

// statusError builds the right typed error for an HTTP status.
func statusError(provider string, status int, message string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Message: message, RetryAfter: retryAfter, StatusCode: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status, Message: message}
	default:
		return &APIError{StatusCode: status, Message: message, Provider: provider}
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, // 408
		http.StatusTooEarly,        // 425
		http.StatusTooManyRequests: // 429
		return true
	}
	return status >= 500
}

// IsRetryable classifies an error as transient. Rate limits, retryable
// HTTP statuses, and transport-level failures (timeouts, resets, DNS,
// unexpected EOF) qualify; auth failures, client errors, and bad model
// responses do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := IsRateLimitError(err); ok {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	if IsAuthError(err) || IsBadResponse(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	// Wrapped transport errors that lost their type on the way up.
	msg := err.Error()
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "EOF", "no such host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// parseRetryAfter interprets a Retry-After header: either delay seconds
// or an HTTP date. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryAfterFromHeaders extracts the provider-suggested retry delay.
// Retry-After wins; x-ratelimit-reset variants (epoch millis or seconds,
// or a delta) are consulted as fallback per the OpenAI-format convention.
func RetryAfterFromHeaders(h http.Header) time.Duration {
	if d := parseRetryAfter(h.Get("Retry-After")); d > 0 {
		return d
	}
	for _, key := range []string{"X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Tokens", "X-Ratelimit-Reset"} {
		raw := strings.TrimSpace(h.Get(key))
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			// Epoch milliseconds, epoch seconds, or a plain delta in
			// seconds, disambiguated by magnitude.
			switch {
			case n > 1_000_000_000_000:
				if d := time.Until(time.UnixMilli(n)); d > 0 {
					return d
				}
			case n > 1_000_000_000:
				if d := time.Until(time.Unix(n, 0)); d > 0 {
					return d
				}
			default:
				return time.Duration(n) * time.Second
			}
		}
	}
	return 0
}
