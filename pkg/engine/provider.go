package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/providers/anthropic"
	"github.com/Chanpoe/ModelHub/pkg/providers/gemini"
	"github.com/Chanpoe/ModelHub/pkg/providers/openai"
)

// ErrMissingAPIKey is returned when a provider has no API key in its config
// nor in its preset environment variable.
var ErrMissingAPIKey = errors.New("engine: API key not set")

// Sampling defaults for the Chat Completions presets.
const (
	defaultTemperature = 0.3
	defaultTopP        = 1.0
)

// DMX endpoints by area.
const (
	dmxChinaURL  = "https://www.dmxapi.cn/v1"
	dmxGlobalURL = "https://www.dmxapi.com/v1"
)

// ProviderFactory creates an Exchanger from a ProviderConfig. The config's
// APIKey has already been resolved against the preset's environment variable.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Exchanger, error)

// Preset describes a registered provider kind.
type Preset struct {
	Factory ProviderFactory
	KeyEnv  string // Environment variable consulted when api_key is empty.
	KeyOpt  bool   // The backend accepts requests without a key.
}

var (
	factoryMu   sync.RWMutex
	presets     = map[string]Preset{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		presets["openai"] = Preset{Factory: compatible("openai", openai.DefaultBaseURL, modeladapter.ParseOpenAIRateLimitHeaders), KeyEnv: "OPENAI_API_KEY"}
		presets["openrouter"] = Preset{Factory: compatible("openrouter", "https://openrouter.ai/api/v1", nil), KeyEnv: "OPENROUTER_API_KEY"}
		presets["volc"] = Preset{Factory: compatible("volc", "https://ark.cn-beijing.volces.com/api/v3", nil), KeyEnv: "VOLC_API_KEY"}
		presets["dmx"] = Preset{Factory: newDMX, KeyEnv: "DMX_API_KEY"}
		presets["compatible"] = Preset{Factory: compatible("compatible", "", nil), KeyOpt: true}
		presets["anthropic"] = Preset{Factory: newAnthropic, KeyEnv: "ANTHROPIC_API_KEY"}
		presets["gemini"] = Preset{Factory: newGemini, KeyEnv: "GEMINI_API_KEY"}
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, p Preset) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	presets[kind] = p
}

// getFactory returns the preset for the given kind.
func getFactory(kind string) (Preset, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	p, ok := presets[kind]
	return p, ok
}

// compatible returns a factory for a Chat Completions backend. An empty
// defaultURL makes base_url mandatory. headers parses the backend's rate
// limit headers; nil where the backend's convention is not known.
func compatible(label, defaultURL string, headers modeladapter.RateLimitHeaderParser) ProviderFactory {
	return func(cfg ProviderConfig) (modeladapter.Exchanger, error) {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultURL
		}
		if baseURL == "" {
			return nil, fmt.Errorf("base_url is required for kind %q", cfg.Kind)
		}

		a := openai.New(baseURL, cfg.APIKey, cfg.Model)
		a.Label = label
		temperature, topP := defaultTemperature, defaultTopP
		a.Temperature = &temperature
		a.TopP = &topP
		a.HeaderParser = headers
		configure(&a.ModelAdapter, cfg)

		return a, nil
	}
}

func newDMX(cfg ProviderConfig) (modeladapter.Exchanger, error) {
	defaultURL := dmxChinaURL
	if cfg.Area != "" && cfg.Area != "cn" {
		defaultURL = dmxGlobalURL
	}
	return compatible("dmx", defaultURL, nil)(cfg)
}

func newAnthropic(cfg ProviderConfig) (modeladapter.Exchanger, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropic.DefaultBaseURL
	}

	a := anthropic.New(baseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newGemini(cfg ProviderConfig) (modeladapter.Exchanger, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = gemini.DefaultBaseURL
	}

	a := gemini.New(baseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

// configure applies the settings shared by every adapter. Unset fields keep
// the adapter's defaults.
func configure(a *modeladapter.ModelAdapter, cfg ProviderConfig) {
	if cfg.Temperature != nil {
		v := *cfg.Temperature
		a.Temperature = &v
	}
	if cfg.TopP != nil {
		v := *cfg.TopP
		a.TopP = &v
	}
	if cfg.MaxTokens != 0 {
		a.MaxTokens = cfg.MaxTokens
	}
	if cfg.Vision != nil {
		a.Capabilities.Images = *cfg.Vision
	}

	if len(cfg.Headers) > 0 {
		headers := make(map[string]string, len(a.Headers)+len(cfg.Headers))
		for k, v := range a.Headers {
			headers[k] = v
		}
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		a.Headers = headers
	}
}

// resolveAPIKey fills cfg.APIKey from the preset's environment variable.
func resolveAPIKey(cfg ProviderConfig, p Preset) (ProviderConfig, error) {
	if cfg.APIKey == "" && p.KeyEnv != "" {
		cfg.APIKey = os.Getenv(p.KeyEnv)
	}

	if cfg.APIKey == "" && !p.KeyOpt {
		if p.KeyEnv != "" {
			return cfg, fmt.Errorf("%w: set api_key or %s", ErrMissingAPIKey, p.KeyEnv)
		}
		return cfg, fmt.Errorf("%w: set api_key", ErrMissingAPIKey)
	}

	return cfg, nil
}

// buildExchanger creates an Exchanger from a ProviderConfig using the
// registered preset for its Kind. If rate limiting is configured, the
// exchanger is wrapped with a RateLimitedExchanger.
func buildExchanger(cfg ProviderConfig) (modeladapter.Exchanger, error) {
	p, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	cfg, err := resolveAPIKey(cfg, p)
	if err != nil {
		return nil, err
	}

	e, err := p.Factory(cfg)
	if err != nil {
		return nil, err
	}

	rl := cfg.RateLimit
	if rl.enabled() {
		var baseDelay time.Duration
		if rl.BaseDelay != "" {
			var parseErr error
			baseDelay, parseErr = time.ParseDuration(rl.BaseDelay)
			if parseErr != nil {
				return nil, fmt.Errorf("invalid base_delay %q: %w", rl.BaseDelay, parseErr)
			}
		}

		e = modeladapter.NewRateLimitedExchanger(e, modeladapter.RateLimitOpts{
			InputTPM:   rl.InputTPM,
			OutputTPM:  rl.OutputTPM,
			RPM:        rl.RPM,
			MaxRetries: rl.MaxRetries,
			BaseDelay:  baseDelay,
		})
	}

	return e, nil
}
