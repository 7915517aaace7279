package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon configuration loaded from parley.toml. The policy
// rubric (thresholds, intervals) lives separately in policy.yaml; this file
// only carries deployment-specific settings.
type Config struct {
	// Model is the classifier model name, e.g. "gpt-4o-mini".
	Model string `toml:"model"`

	// BaseURL points at an OpenAI-compatible chat completions endpoint.
	// Empty means the default endpoint.
	BaseURL string `toml:"base_url"`

	// APIKeyEnv names the environment variable holding the classifier API
	// key. The key itself never lives in the config file.
	APIKeyEnv string `toml:"api_key_env"`
}

// DefaultConfig returns the configuration written by `parley init`.
func DefaultConfig() Config {
	return Config{
		Model:     "gpt-4o-mini",
		APIKeyEnv: "PARLEY_API_KEY",
	}
}

// LoadConfig reads parley.toml at path. A missing file returns the default
// config without error; a present but malformed file is an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path is controlled by the application
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Model == "" {
		return Config{}, fmt.Errorf("config %s: model must not be empty", path)
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "PARLEY_API_KEY"
	}
	return cfg, nil
}

// WriteConfig renders the config as TOML at path.
func WriteConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // no secrets in config
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
