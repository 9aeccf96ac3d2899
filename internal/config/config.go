// Package config holds the explicit, immutable run configuration. There is
// no ambient global state: a Config value is loaded once, validated eagerly,
// and threaded into the orchestrator and every session at construction time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quorum/internal/reliability"
)

// Oracle providers.
const (
	ProviderOpenAI = "openai" // any OpenAI-compatible endpoint (Ollama, vLLM, OpenRouter)
	ProviderGemini = "gemini" // Google GenAI SDK
)

// Telemetry backends.
const (
	TelemetryJSONL  = "jsonl"
	TelemetrySQLite = "sqlite"
	TelemetryNone   = "none"
)

// OracleConfig selects and configures the oracle backend.
type OracleConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
}

// TelemetryConfig selects the telemetry sink.
type TelemetryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Config is the full run configuration.
type Config struct {
	Reliability      reliability.Config `yaml:"reliability"`
	Oracle           OracleConfig       `yaml:"oracle"`
	Telemetry        TelemetryConfig    `yaml:"telemetry"`
	ConcurrencyLimit int                `yaml:"concurrency_limit"`
}

// Default returns the documented defaults: local Ollama oracle, one session
// in flight, JSONL telemetry in the working directory.
func Default() Config {
	return Config{
		Reliability: reliability.DefaultConfig(),
		Oracle: OracleConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen2.5-coder:7b",
			Temperature: 0.3,
			TimeoutSecs: 120,
		},
		Telemetry: TelemetryConfig{
			Backend: TelemetryJSONL,
			Path:    "quorum-telemetry.jsonl",
		},
		ConcurrencyLimit: 1,
	}
}

// Load reads a yaml config file, applies environment overrides, and
// validates the result. An empty path yields the defaults (plus env).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv fills gaps from the environment. A file value always wins except
// for OLLAMA_HOST, which mirrors the local model runtime's own convention.
func (c *Config) applyEnv() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.Oracle.Provider == ProviderOpenAI {
		c.Oracle.BaseURL = host + "/v1"
	}
	if c.Oracle.APIKey == "" {
		switch c.Oracle.Provider {
		case ProviderGemini:
			c.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate checks the whole configuration eagerly, before any sampling.
func (c Config) Validate() error {
	if err := c.Reliability.Validate(); err != nil {
		return err
	}
	switch c.Oracle.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}
	switch c.Telemetry.Backend {
	case TelemetryJSONL, TelemetrySQLite, TelemetryNone:
	default:
		return fmt.Errorf("unknown telemetry backend %q", c.Telemetry.Backend)
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency_limit %d < 1", c.ConcurrencyLimit)
	}
	return nil
}
