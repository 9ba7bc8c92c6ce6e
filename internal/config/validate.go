package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every validation failure so callers can map the
// whole class to the invalid-arguments exit code.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for values the pipeline cannot run
// with. Messages name the offending key and the fix.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Provider.Type) {
	case "", "openrouter", "openai":
	default:
		problems = append(problems,
			fmt.Sprintf("provider.type %q is not supported (use openrouter, openai, or leave empty to detect)", c.Provider.Type))
	}
	if c.Provider.Model == "" {
		problems = append(problems, "provider.model must be set")
	}
	switch strings.ToLower(c.Provider.Tier) {
	case "", "free", "paid":
	default:
		problems = append(problems,
			fmt.Sprintf("provider.tier %q is not valid (use free, paid, or leave empty to detect)", c.Provider.Tier))
	}
	if c.Provider.TimeoutSeconds < 0 {
		problems = append(problems, "provider.timeout_seconds cannot be negative")
	}
	if c.Provider.MaxRetries < 0 {
		problems = append(problems, "provider.max_retries cannot be negative")
	}
	if c.Provider.RequestsPerMin < 0 {
		problems = append(problems, "provider.requests_per_min cannot be negative")
	}

	if c.Pipeline.MaxConcurrency < 1 {
		problems = append(problems, "pipeline.max_concurrency must be at least 1")
	}
	if c.Pipeline.PagesPerImage < 1 {
		problems = append(problems, "pipeline.pages_per_image must be at least 1")
	}
	if c.Pipeline.EntityMatchConfidence < 0 || c.Pipeline.EntityMatchConfidence > 1 {
		problems = append(problems, "pipeline.entity_match_confidence must be between 0 and 1")
	}
	if c.Pipeline.SceneOverageFactor < 1 {
		problems = append(problems, "pipeline.scene_overage_factor must be at least 1")
	}

	if c.Series.Enabled && c.Series.Root == "" {
		problems = append(problems, "series.root must be set when series.enabled is true")
	}
	switch strings.ToLower(c.Series.MergeStrategy) {
	case "", "enrich", "union", "override":
	default:
		problems = append(problems,
			fmt.Sprintf("series.merge_strategy %q is not valid (use enrich, union, or override)", c.Series.MergeStrategy))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
}

// RequireAPIKey validates that an API key is available after ${ENV_VAR}
// resolution. Called by commands that will actually hit the provider, so
// inspection commands work without credentials.
func (c *Config) RequireAPIKey() error {
	if ResolveEnvVars(c.Provider.APIKey) == "" {
		return fmt.Errorf("%w: provider.api_key resolves to empty (set the environment variable referenced in config, e.g. OPENROUTER_API_KEY)", ErrInvalidConfig)
	}
	return nil
}
