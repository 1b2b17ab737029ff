package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Providers       []ProviderConfig `yaml:"providers" toml:"providers"`
	DefaultProvider string           `yaml:"default_provider" toml:"default_provider"`
	SystemPrompt    string           `yaml:"system_prompt" toml:"system_prompt"`
	Permissive      bool             `yaml:"permissive" toml:"permissive"` // Log role violations instead of rejecting them.
	Store           StoreConfig      `yaml:"store" toml:"store"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"` // SQLite file; empty disables persistence. A leading ~ is the home directory.
}

// RateLimitConfig controls per-provider rate limiting.
type RateLimitConfig struct {
	InputTPM   int    `yaml:"input_tpm" toml:"input_tpm"`     // Input tokens per minute (0 = no limit).
	OutputTPM  int    `yaml:"output_tpm" toml:"output_tpm"`   // Output tokens per minute (0 = no limit).
	RPM        int    `yaml:"rpm" toml:"rpm"`                 // Requests per minute (0 = no limit).
	MaxRetries int    `yaml:"max_retries" toml:"max_retries"` // Max retries on 429 (default 3).
	BaseDelay  string `yaml:"base_delay" toml:"base_delay"`   // Initial backoff delay as a duration string (e.g. "1s", "500ms").
}

func (r RateLimitConfig) enabled() bool {
	return r.InputTPM > 0 || r.OutputTPM > 0 || r.RPM > 0 || r.MaxRetries > 0 || r.BaseDelay != ""
}

// ProviderConfig describes an LLM provider instance.
type ProviderConfig struct {
	Name        string            `yaml:"name" toml:"name"`
	Kind        string            `yaml:"kind" toml:"kind"`
	BaseURL     string            `yaml:"base_url" toml:"base_url"`
	APIKey      string            `yaml:"api_key" toml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string            `yaml:"model" toml:"model"`
	Area        string            `yaml:"area" toml:"area"`     // DMX only: "cn" (default) or any other value for the global endpoint.
	Vision      *bool             `yaml:"vision" toml:"vision"` // Overrides the preset's image capability.
	Temperature *float64          `yaml:"temperature" toml:"temperature"` // Unset keeps the preset default; 0 is sent as 0.
	TopP        *float64          `yaml:"top_p" toml:"top_p"`
	MaxTokens   int               `yaml:"max_tokens" toml:"max_tokens"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
}

// LoadConfig reads a YAML or TOML file and returns a Config. Files ending in
// .toml are parsed as TOML; anything else as YAML.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing, so API keys can be kept in the environment (e.g. loaded from a
// .env file) rather than committed in the config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data, strings.ToLower(filepath.Ext(path)))
}

// ParseConfig parses configuration data in the format named by ext (".yaml",
// ".yml" or ".toml").
func ParseConfig(data []byte, ext string) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config

	switch ext {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("engine: parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("engine: parse config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providerNames := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, ok := getFactory(p.Kind); !ok {
			return fmt.Errorf("engine: config: provider %q: unknown kind %q", p.Name, p.Kind)
		}
		if _, dup := providerNames[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		if !p.samplingInRange() {
			return fmt.Errorf("engine: config: provider %q: sampling parameters out of range", p.Name)
		}
		if d := p.RateLimit.BaseDelay; d != "" {
			if _, err := time.ParseDuration(d); err != nil {
				return fmt.Errorf("engine: config: provider %q: invalid base_delay %q: %w", p.Name, d, err)
			}
		}
		providerNames[p.Name] = struct{}{}
	}

	if c.DefaultProvider != "" {
		if _, ok := providerNames[c.DefaultProvider]; !ok {
			return fmt.Errorf("engine: config: default_provider %q not found in providers", c.DefaultProvider)
		}
	}

	return nil
}

// defaultProvider returns the configured default or the first provider.
func (c Config) defaultProvider() string {
	if c.DefaultProvider != "" {
		return c.DefaultProvider
	}
	if len(c.Providers) > 0 {
		return c.Providers[0].Name
	}
	return ""
}

// storePath returns the store path with a leading ~ expanded.
func (c Config) storePath() (string, error) {
	p := c.Store.Path
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("engine: store path: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, nil
}

func (p ProviderConfig) samplingInRange() bool {
	if p.Temperature != nil && *p.Temperature < 0 {
		return false
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return false
	}
	return p.MaxTokens >= 0
}
