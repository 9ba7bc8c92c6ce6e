package config

import (
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"
)

// yamlMarshal and yamlUnmarshal isolate the yaml.v2 dependency used for
// config file emission (viper reads; we only write through here).
func yamlMarshal(v any) ([]byte, error)   { return yaml.Marshal(v) }
func yamlUnmarshal(d []byte, v any) error { return yaml.Unmarshal(d, v) }

// configHeader is written above the generated defaults so a fresh config
// file documents itself.
const configHeader = `# imaginize configuration
# API keys use ${ENV_VAR} syntax to reference environment variables.
# Set these in your shell: export OPENROUTER_API_KEY=xxx (or OPENAI_API_KEY)
#
# provider.tier: leave empty to detect free tier from the model id
# (":free" suffix); set "free" or "paid" to pin it explicitly.

`

// WriteDefault writes the default configuration to the specified path.
// Fails if the file already exists so a hand-edited config is never
// clobbered.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	cfg := DefaultConfig()
	data, err := yamlMarshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0o644)
}
