// Package config loads and manages omicscout configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, ANTHROPIC_API_KEY, OMICSCOUT_*)
// 2. Config file path specified via --config flag
// 3. ~/.config/omicscout/config.yaml
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed providers_default.yaml
var defaultProvidersYAML []byte

// ProviderDefaults holds the default base URL and model for a provider.
type ProviderDefaults struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// LoadProviderDefaults parses the embedded defaults and merges any user
// overrides from ~/.config/omicscout/providers.yaml.
func LoadProviderDefaults() map[string]ProviderDefaults {
	defs := make(map[string]ProviderDefaults)
	_ = yaml.Unmarshal(defaultProvidersYAML, &defs)

	home, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(home, ".config", "omicscout", "providers.yaml")
		if data, err := os.ReadFile(userPath); err == nil {
			userDefs := make(map[string]ProviderDefaults)
			if yaml.Unmarshal(data, &userDefs) == nil {
				for name, ud := range userDefs {
					d := defs[name]
					if ud.BaseURL != "" {
						d.BaseURL = ud.BaseURL
					}
					if ud.DefaultModel != "" {
						d.DefaultModel = ud.DefaultModel
					}
					defs[name] = d
				}
			}
		}
	}
	return defs
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config is the complete configuration structure for omicscout.
type Config struct {
	// Provider is the active provider name (e.g. "openai", "anthropic", "deepseek").
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// PreferredTier is the processing tier tried before the provider
	// default (e.g. "flex", "priority"). Empty disables tier fallback.
	PreferredTier string `yaml:"preferred_tier"`

	// RequestTimeoutSecs bounds one upstream HTTP request. Retries are
	// bounded separately by the retry policy.
	RequestTimeoutSecs int `yaml:"request_timeout_secs"`

	// ContextWindows overrides entries of the model -> context window table.
	ContextWindows map[string]int `yaml:"context_windows"`

	// ReasoningVerbosity: "low" | "medium" | "high".
	ReasoningVerbosity string `yaml:"reasoning_verbosity"`

	// MaxHistoryChars bounds a session's serialized history before old
	// turns are pruned. 0 = default.
	MaxHistoryChars int `yaml:"max_history_chars"`

	// SystemPrompt is a custom base system prompt (empty uses default).
	SystemPrompt string `yaml:"system_prompt"`

	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DatabasePath is the analysis bookkeeping database. Empty disables
	// bookkeeping.
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:           "openai",
		Providers:          make(map[string]*ProviderConfig),
		RequestTimeoutSecs: 120,
		ReasoningVerbosity: "medium",
		ListenAddr:         ":8480",
	}
}

// Load reads the config file and merges environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "omicscout", "config.yaml")
		}
	}

	// Missing file means defaults; a present but invalid file is an error.
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty
// config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		ensureProvider(cfg, cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		ensureProvider(cfg, cfg.Provider).BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		ensureProvider(cfg, "anthropic").APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		ensureProvider(cfg, "openai").APIKey = v
	}

	if v := os.Getenv("OMICSCOUT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OMICSCOUT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("OMICSCOUT_TIER"); v != "" {
		cfg.PreferredTier = v
	}
	if v := os.Getenv("OMICSCOUT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OMICSCOUT_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("OMICSCOUT_REQUEST_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RequestTimeoutSecs = secs
		}
	}
}

func ensureProvider(cfg *Config, name string) *ProviderConfig {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.Providers[name] == nil {
		cfg.Providers[name] = &ProviderConfig{}
	}
	return cfg.Providers[name]
}
