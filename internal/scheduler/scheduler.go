// Package scheduler runs model-bound tasks through a dispatcher-owned
// pacing and retry policy. A single dispatcher goroutine owns every
// timing decision (tier spacing, the free-tier floor) and hands tasks to
// workers that execute without rate-limit awareness; workers own the
// retry loop for their task.
//
// Free tier forces one task in flight and a long floor between a task
// finishing and the next dispatch. Paid tier runs the configured
// concurrency with a short spacing between dispatches. Retry policy is
// exponential backoff with jitter, bumped to the floor on the first
// rate limit and overridden by provider Retry-After hints; the retry
// budget exhausting on rate limits surfaces as RateLimitExhaustedError.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/imaginize/internal/providers"
)

const (
	// DefaultMaxRetries is the retry budget per task.
	DefaultMaxRetries = 10

	// DefaultBaseBackoff seeds the exponential retry delay.
	DefaultBaseBackoff = 10 * time.Second

	// DefaultRateLimitFloor is the free-tier pacing floor and the minimum
	// sleep after the first rate limit on a task.
	DefaultRateLimitFloor = 65 * time.Second

	// DefaultPaidSpacing separates consecutive dispatches on the paid tier.
	DefaultPaidSpacing = 2 * time.Second

	// DefaultCallTimeout bounds a single task attempt.
	DefaultCallTimeout = 120 * time.Second

	// DefaultJitter is the maximum random addition to a computed backoff.
	DefaultJitter = time.Second

	// maxRetryDelay caps any computed or provider-suggested sleep.
	maxRetryDelay = 120 * time.Second
)

// Config tunes a Scheduler. Zero values fall back to the defaults above.
type Config struct {
	// MaxConcurrency is the worker count. The free tier forces 1.
	MaxConcurrency int

	// Tier selects the pacing mode.
	Tier providers.Tier

	MaxRetries     int
	BaseBackoff    time.Duration
	RateLimitFloor time.Duration
	PaidSpacing    time.Duration
	CallTimeout    time.Duration
	Jitter         time.Duration

	Logger *slog.Logger

	// OnRateLimit observes each rate-limit backoff decision. Called from
	// worker goroutines; implementations must not block.
	OnRateLimit func(RateLimitEvent)
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.Tier == providers.TierFree {
		c.MaxConcurrency = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.RateLimitFloor <= 0 {
		c.RateLimitFloor = DefaultRateLimitFloor
	}
	if c.PaidSpacing <= 0 {
		c.PaidSpacing = DefaultPaidSpacing
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Jitter <= 0 {
		c.Jitter = DefaultJitter
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Task is one unit of model-bound work. Fn receives a per-attempt
// context carrying the call timeout; it is not cancelled by run
// cancellation, so an in-flight HTTP call may finish and flush its
// state. Retries stop at the first sign of cancellation.
type Task struct {
	ID    string
	Label string
	Fn    func(ctx context.Context) error
}

// TaskStatus is the terminal state of a task.
type TaskStatus string

const (
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Result reports how one task ended.
type Result struct {
	TaskID   string
	Label    string
	Status   TaskStatus
	Err      error
	Attempts int
	Duration time.Duration
}

// RateLimitEvent describes one rate-limit backoff decision.
type RateLimitEvent struct {
	TaskID  string
	Label   string
	Attempt int
	Delay   time.Duration
	Message string
}

// RateLimitExhaustedError reports a task that burned its whole retry
// budget on rate-limit responses.
type RateLimitExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RateLimitExhaustedError) Error() string {
	return fmt.Sprintf("rate limit budget exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RateLimitExhaustedError) Unwrap() error {
	return e.LastErr
}

// Scheduler runs a batch of submitted tasks. Submit everything first,
// then call Run once; tasks dispatch in submission order and complete
// out of order.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Task
	started bool

	inFlight    atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	cancelled   atomic.Int64
	rateLimited atomic.Int64
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg: cfg,
		logger: cfg.Logger.With(
			"tier", string(cfg.Tier),
			"concurrency", cfg.MaxConcurrency,
		),
	}
}

// Submit queues a task. Tasks without an ID get one assigned.
func (s *Scheduler) Submit(t Task) error {
	if t.Fn == nil {
		return fmt.Errorf("task has no function")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already running")
	}
	s.queue = append(s.queue, t)
	return nil
}

// Status is a point-in-time snapshot of scheduler counters.
type Status struct {
	Queued          int   `json:"queued"`
	InFlight        int   `json:"in_flight"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Cancelled       int   `json:"cancelled"`
	RateLimitSleeps int64 `json:"rate_limit_sleeps"`
}

// Status reports current counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()
	return Status{
		Queued:          queued,
		InFlight:        int(s.inFlight.Load()),
		Completed:       int(s.completed.Load()),
		Failed:          int(s.failed.Load()),
		Cancelled:       int(s.cancelled.Load()),
		RateLimitSleeps: s.rateLimited.Load(),
	}
}

// Run dispatches every submitted task and blocks until each has a
// terminal result. On cancellation, queued tasks resolve as cancelled
// and in-flight tasks finish their current attempt without retrying.
// Results are in completion order.
func (s *Scheduler) Run(ctx context.Context) []Result {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("scheduler: Run called twice")
	}
	s.started = true
	tasks := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(tasks) == 0 {
		return nil
	}

	s.logger.Info("scheduler starting", "tasks", len(tasks))

	work := make(chan Task)
	results := make(chan Result, len(tasks))
	taskDone := make(chan struct{}, len(tasks))

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for t := range work {
				s.inFlight.Add(1)
				res := s.execute(ctx, t)
				s.inFlight.Add(-1)
				results <- res
				taskDone <- struct{}{}
			}
		}()
	}

	dispatched := s.dispatch(ctx, tasks, work, taskDone)
	close(work)

	// Queued tasks that never dispatched resolve as cancelled.
	for _, t := range tasks[dispatched:] {
		results <- Result{
			TaskID: t.ID,
			Label:  t.Label,
			Status: StatusCancelled,
			Err:    context.Cause(ctx),
		}
	}

	workers.Wait()
	close(results)

	out := make([]Result, 0, len(tasks))
	for res := range results {
		switch res.Status {
		case StatusCompleted:
			s.completed.Add(1)
		case StatusCancelled:
			s.cancelled.Add(1)
		default:
			s.failed.Add(1)
		}
		out = append(out, res)
	}

	s.logger.Info("scheduler finished",
		"completed", s.completed.Load(),
		"failed", s.failed.Load(),
		"cancelled", s.cancelled.Load(),
	)
	return out
}

// dispatch feeds tasks to the workers in submission order, applying the
// tier pacing. Returns how many tasks were handed off before
// cancellation stopped it.
func (s *Scheduler) dispatch(ctx context.Context, tasks []Task, work chan<- Task, taskDone <-chan struct{}) int {
	free := s.cfg.Tier == providers.TierFree
	for i, t := range tasks {
		if i > 0 {
			if free {
				// The floor runs from the previous task finishing, not
				// from its dispatch.
				select {
				case <-taskDone:
				case <-ctx.Done():
					return i
				}
				if !sleepCtx(ctx, s.cfg.RateLimitFloor) {
					return i
				}
			} else {
				if !sleepCtx(ctx, s.cfg.PaidSpacing) {
					return i
				}
			}
		}
		select {
		case work <- t:
		case <-ctx.Done():
			return i
		}
	}
	return len(tasks)
}

// execute runs one task's attempt/retry loop.
func (s *Scheduler) execute(ctx context.Context, t Task) Result {
	start := time.Now()
	res := Result{TaskID: t.ID, Label: t.Label}

	sawRateLimit := false
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		err := s.attempt(ctx, t)
		if err == nil {
			res.Status = StatusCompleted
			res.Duration = time.Since(start)
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			// Cancelled while in flight: the attempt was allowed to
			// finish, but there is no second one.
			res.Status = StatusCancelled
			res.Duration = time.Since(start)
			return res
		}
		if !providers.IsRetryable(err) {
			s.logger.Warn("task failed", "task", t.Label, "attempts", res.Attempts, "error", err)
			res.Status = StatusFailed
			res.Duration = time.Since(start)
			return res
		}
		if attempt >= s.cfg.MaxRetries {
			if _, ok := providers.IsRateLimitError(err); ok {
				res.Err = &RateLimitExhaustedError{Attempts: res.Attempts, LastErr: err}
			} else {
				res.Err = fmt.Errorf("failed after %d attempts: %w", res.Attempts, err)
			}
			s.logger.Warn("task retry budget exhausted", "task", t.Label, "attempts", res.Attempts, "error", err)
			res.Status = StatusFailed
			res.Duration = time.Since(start)
			return res
		}

		delay := s.retryDelay(err, attempt, &sawRateLimit)
		if rle, ok := providers.IsRateLimitError(err); ok {
			s.rateLimited.Add(1)
			if s.cfg.OnRateLimit != nil {
				s.cfg.OnRateLimit(RateLimitEvent{
					TaskID:  t.ID,
					Label:   t.Label,
					Attempt: attempt + 1,
					Delay:   delay,
					Message: rle.Message,
				})
			}
		}
		s.logger.Debug("retrying task", "task", t.Label, "attempt", attempt+1, "delay", delay, "error", err)

		if !sleepCtx(ctx, delay) {
			res.Status = StatusCancelled
			res.Duration = time.Since(start)
			return res
		}
	}
}

// attempt runs the task function once under the call timeout. The
// attempt context is severed from run cancellation so the in-flight
// call can finish and flush.
func (s *Scheduler) attempt(ctx context.Context, t Task) error {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()
	return t.Fn(attemptCtx)
}

// retryDelay computes the sleep before the next attempt: exponential
// backoff with jitter, raised to the floor on the first rate limit,
// replaced outright by a provider Retry-After hint, and always capped.
func (s *Scheduler) retryDelay(err error, attempt int, sawRateLimit *bool) time.Duration {
	shift := attempt
	if shift > 16 {
		shift = 16
	}
	delay := s.cfg.BaseBackoff<<shift + time.Duration(rand.Int63n(int64(s.cfg.Jitter)))

	if rle, ok := providers.IsRateLimitError(err); ok {
		if !*sawRateLimit && s.cfg.RateLimitFloor > delay {
			delay = s.cfg.RateLimitFloor
		}
		*sawRateLimit = true
		if rle.RetryAfter > 0 {
			delay = rle.RetryAfter
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// sleepCtx sleeps for d, returning false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
