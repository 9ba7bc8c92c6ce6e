package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/pipeline"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/scheduler"
)

func main() {
	// Set up context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the documented process exit codes so
// scripts can branch on the failure class: 2 invalid configuration,
// 3 missing prerequisite phase, 4 rate-limit budget exhausted,
// 5 authentication rejected, 130 interrupted.
func exitCode(err error) int {
	var exhausted *scheduler.RateLimitExhaustedError
	var auth *providers.AuthError
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, config.ErrInvalidConfig):
		return 2
	case pipeline.IsMissingPrerequisite(err):
		return 3
	case errors.As(err, &exhausted):
		return 4
	case errors.As(err, &auth):
		return 5
	}
	return 1
}
