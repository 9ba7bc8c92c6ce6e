package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket capping request rate against one
// provider endpoint. The pipeline scheduler handles tier pacing and
// retry backoff; this bucket is the hard per-provider ceiling
// underneath it, shared by every caller of a client.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute float64
	windowSeconds     float64

	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state for status output.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	RequestsPerMin  float64       `json:"requests_per_min"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a token bucket allowing requestsPerMinute
// sustained throughput with bursts up to the same size.
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 150
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		windowSeconds:     60.0,
		tokens:            requestsPerMinute,
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}

		tokensNeeded := 1.0 - r.tokens
		refillRate := r.requestsPerMinute / r.windowSeconds
		waitTime := time.Duration(tokensNeeded / refillRate * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// Record429 is called when the provider answers 429: the bucket drains
// so subsequent callers wait even before the scheduler's backoff kicks in.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429Time = time.Now()
	if retryAfter > 0 {
		r.tokens = 0
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		RequestsPerMin:  r.requestsPerMinute,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * (r.requestsPerMinute / r.windowSeconds)
	if r.tokens > r.requestsPerMinute {
		r.tokens = r.requestsPerMinute
	}
}
