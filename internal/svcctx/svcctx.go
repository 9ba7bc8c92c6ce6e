// Package svcctx provides service context for dependency injection via
// context. This package is separate from pipeline to avoid import cycles
// with the command layer.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/providers"
)

// Services holds the core services built once by the root command.
// Components extract what they need via the individual extractors.
type Services struct {
	ConfigManager *config.Manager
	Registry      *providers.Registry
	Bus           *events.Bus
	Logger        *slog.Logger
	Home          *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// BusFrom extracts the event bus from context.
func BusFrom(ctx context.Context) *events.Bus {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bus
	}
	return nil
}

// LoggerFrom extracts the logger from context. Falls back to the default
// logger so callers never need a nil check before logging.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
