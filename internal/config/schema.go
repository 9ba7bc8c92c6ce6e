package config

// Config holds imaginize configuration.
// Stored at: ~/.imaginize/config.yaml
type Config struct {
	Provider ProviderCfg `mapstructure:"provider" yaml:"provider"`
	Pipeline PipelineCfg `mapstructure:"pipeline" yaml:"pipeline"`
	Series   SeriesCfg   `mapstructure:"series" yaml:"series"`
	Log      LogCfg      `mapstructure:"log" yaml:"log"`
}

// ProviderCfg configures the AI provider for chat and image calls.
type ProviderCfg struct {
	Type       string `mapstructure:"type" yaml:"type"`               // "openrouter", "openai", or "" (detect from model/base_url)
	Model      string `mapstructure:"model" yaml:"model"`             // Chat model id
	ImageModel string `mapstructure:"image_model" yaml:"image_model"` // Image model id
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`         // API key (supports ${ENV_VAR} syntax)
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`       // Override endpoint (empty = provider default)
	Tier       string `mapstructure:"tier" yaml:"tier"`               // "free" or "paid"; empty = detect from model id

	TimeoutSeconds   int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`         // Per-call deadline
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries"`                 // Scheduler retry budget
	BaseBackoffMs    int     `mapstructure:"base_backoff_ms" yaml:"base_backoff_ms"`         // First retry delay
	RateLimitFloorMs int     `mapstructure:"rate_limit_floor_ms" yaml:"rate_limit_floor_ms"` // Free-tier minimum call spacing
	RequestsPerMin   float64 `mapstructure:"requests_per_min" yaml:"requests_per_min"`       // Provider token bucket (0 = provider default)
}

// PipelineCfg tunes the analyze/extract/illustrate phases.
type PipelineCfg struct {
	MaxConcurrency          int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	PagesPerImage           int     `mapstructure:"pages_per_image" yaml:"pages_per_image"`
	ContinueOnFailure       bool    `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
	EntityMatchConfidence   float64 `mapstructure:"entity_match_confidence" yaml:"entity_match_confidence"`
	SceneOverageFactor      float64 `mapstructure:"scene_overage_factor" yaml:"scene_overage_factor"`
	AIDescriptionEnrichment bool    `mapstructure:"ai_description_enrichment" yaml:"ai_description_enrichment"`
	ElementContextTokens    int     `mapstructure:"element_context_tokens" yaml:"element_context_tokens"`
	ElementContextPerEntity int     `mapstructure:"element_context_per_entity" yaml:"element_context_per_entity"`
	UseChapterSlug          bool    `mapstructure:"use_chapter_slug" yaml:"use_chapter_slug"`
	ImageSize               string  `mapstructure:"image_size" yaml:"image_size"`
}

// SeriesCfg enables the cross-book catalog bridge.
type SeriesCfg struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Root          string `mapstructure:"root" yaml:"root"`                     // Series root directory
	MergeStrategy string `mapstructure:"merge_strategy" yaml:"merge_strategy"` // enrich (default), union, override
}

// LogCfg controls logging output.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderCfg{
			Model:            "anthropic/claude-sonnet-4",
			ImageModel:       "google/gemini-2.5-flash-image",
			APIKey:           "${OPENROUTER_API_KEY}",
			TimeoutSeconds:   120,
			MaxRetries:       10,
			BaseBackoffMs:    10_000,
			RateLimitFloorMs: 65_000,
		},
		Pipeline: PipelineCfg{
			MaxConcurrency:          4,
			PagesPerImage:           10,
			ContinueOnFailure:       true,
			EntityMatchConfidence:   0.7,
			SceneOverageFactor:      2.0,
			ElementContextTokens:    2000,
			ElementContextPerEntity: 200,
			ImageSize:               "1024x1024",
		},
		Series: SeriesCfg{
			MergeStrategy: "enrich",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}
