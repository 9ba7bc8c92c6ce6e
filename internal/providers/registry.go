package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RegistryConfig defines the provider to instantiate. It mirrors the
// provider section of the config file with the API key already resolved,
// keeping this package decoupled from config loading.
type RegistryConfig struct {
	Type              string // "openrouter", "openai"; empty = detect from model/baseURL
	Model             string
	ImageModel        string
	APIKey            string // resolved, never a ${VAR} placeholder
	BaseURL           string
	Tier              string // "free", "paid"; empty = detect
	TimeoutSeconds    int
	RequestsPerMinute float64

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client `json:"-"`
}

func (c RegistryConfig) equal(o RegistryConfig) bool {
	return c.Type == o.Type &&
		c.Model == o.Model &&
		c.ImageModel == o.ImageModel &&
		c.APIKey == o.APIKey &&
		c.BaseURL == o.BaseURL &&
		c.Tier == o.Tier &&
		c.TimeoutSeconds == o.TimeoutSeconds &&
		c.RequestsPerMinute == o.RequestsPerMinute
}

// Registry holds the active chat and image clients. It supports
// config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	chat     ChatClient
	image    ImageClient
	provider string
	tier     Tier
	last     RegistryConfig
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Configure must be called
// before Chat or Image return anything.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// NewRegistryFromConfig creates a registry and configures it.
func NewRegistryFromConfig(cfg RegistryConfig) (*Registry, error) {
	r := NewRegistry()
	if err := r.Configure(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Configure builds the clients for the configured provider, replacing
// any previous ones.
func (r *Registry) Configure(cfg RegistryConfig) error {
	provider := cfg.Type
	if provider == "" {
		provider = DetectProvider(cfg.Model, cfg.BaseURL)
	}
	tier := ResolveTier(cfg.Tier, cfg.Model, cfg.BaseURL)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var chat ChatClient
	var image ImageClient
	switch provider {
	case OpenRouterName:
		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			DefaultModel:      cfg.Model,
			DefaultImageModel: cfg.ImageModel,
			Timeout:           timeout,
			RequestsPerMinute: cfg.RequestsPerMinute,
			HTTPClient:        cfg.HTTPClient,
		})
		chat, image = client, client
	case OpenAIName:
		client := NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			DefaultModel:      cfg.Model,
			DefaultImageModel: cfg.ImageModel,
			Timeout:           timeout,
			RequestsPerMinute: cfg.RequestsPerMinute,
			HTTPClient:        cfg.HTTPClient,
		})
		chat, image = client, client
	default:
		return fmt.Errorf("unknown provider type: %q", provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = chat
	r.image = image
	r.provider = provider
	r.tier = tier
	r.last = cfg
	if r.logger != nil {
		r.logger.Info("configured provider",
			"provider", provider,
			"model", cfg.Model,
			"image_model", cfg.ImageModel,
			"tier", string(tier))
	}
	return nil
}

// Reload reconfigures the registry when the config changed. Unchanged
// configs keep the existing clients (and their rate limiter state).
func (r *Registry) Reload(cfg RegistryConfig) error {
	r.mu.RLock()
	same := r.chat != nil && r.last.equal(cfg)
	r.mu.RUnlock()
	if same {
		return nil
	}
	return r.Configure(cfg)
}

// Chat returns the active chat client.
func (r *Registry) Chat() (ChatClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.chat == nil {
		return nil, fmt.Errorf("no chat client configured")
	}
	return r.chat, nil
}

// Image returns the active image client.
func (r *Registry) Image() (ImageClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.image == nil {
		return nil, fmt.Errorf("no image client configured")
	}
	return r.image, nil
}

// Provider returns the active provider name.
func (r *Registry) Provider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// Tier returns the resolved rate-limit tier.
func (r *Registry) Tier() Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tier
}

// Models returns the configured chat and image model ids.
func (r *Registry) Models() (chatModel, imageModel string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last.Model, r.last.ImageModel
}

// Status reports the active provider setup for the status command.
type RegistryStatus struct {
	Provider   string            `json:"provider" yaml:"provider"`
	ChatModel  string            `json:"chatModel" yaml:"chatModel"`
	ImageModel string            `json:"imageModel" yaml:"imageModel"`
	Tier       string            `json:"tier" yaml:"tier"`
	RateLimit  RateLimiterStatus `json:"rateLimit" yaml:"rateLimit"`
}

// Status returns a snapshot of the registry state.
func (r *Registry) Status() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStatus{
		Provider:   r.provider,
		ChatModel:  r.last.Model,
		ImageModel: r.last.ImageModel,
		Tier:       string(r.tier),
	}
	type limited interface{ Limiter() *RateLimiter }
	if lc, ok := r.chat.(limited); ok && lc.Limiter() != nil {
		st.RateLimit = lc.Limiter().Status()
	}
	return st
}
