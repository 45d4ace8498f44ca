// Package config loads and validates the gateway configuration.
//
// DESIGN: All configuration MUST come from YAML files. No defaults.
// This ensures explicit, auditable configuration for production deployments.
//
// FILES:
//   - config.go:   Root Config struct, Load(), Validate()
//   - defaults.go: Centralized constants (budgets, retry bounds, pricing floor)
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the inference gateway.
type Config struct {
	Server   ServerConfig   `yaml:"server"`   // HTTP server settings
	Store    StoreConfig    `yaml:"store"`    // SQLite persistence
	Backends BackendsConfig `yaml:"backends"` // Generation backend tiers
	KeyPool  KeyPoolConfig  `yaml:"key_pool"` // Upstream credential pool
	Billing  BillingConfig  `yaml:"billing"`  // Balance gate and free tier
	Cache    CacheConfig    `yaml:"cache"`    // Optional Redis response cache
	Media    MediaConfig    `yaml:"media"`    // Multimodal media fetching
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response (must allow streaming)
	RateLimit    float64       `yaml:"rate_limit"`    // Requests per second per account (0 disables)
	RateBurst    int           `yaml:"rate_burst"`    // Token bucket burst per account
}

// StoreConfig contains SQLite store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // Path to the sqlite database file
}

// BackendConfig describes one generation backend tier.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint base URL
	Model   string `yaml:"model"`    // Upstream model identifier sent to the backend
	// Bedrock-hosted backends are reached through a SigV4-signing transport
	// instead of bearer auth. Region is required when enabled.
	BedrockRegion string `yaml:"bedrock_region"`
}

// BackendsConfig maps the three fixed tiers to their endpoints.
type BackendsConfig struct {
	Flash BackendConfig `yaml:"flash"` // fast/cheap
	Core  BackendConfig `yaml:"core"`  // balanced
	Apex  BackendConfig `yaml:"apex"`  // highest quality

	TranscriptionModel string `yaml:"transcription_model"` // Whisper-style model id
	VisionModel        string `yaml:"vision_model"`        // Image description model id
}

// KeyPoolConfig configures the upstream credential pool.
type KeyPoolConfig struct {
	FallbackKey     string        `yaml:"fallback_key"`     // Static credential used when the pool is exhausted
	RefreshInterval time.Duration `yaml:"refresh_interval"` // How often to reload the pool from the store
}

// BillingConfig configures the balance gate and free tier.
type BillingConfig struct {
	MinimumBalance  float64 `yaml:"minimum_balance"`   // Balance gate threshold
	FreeTierCap     int64   `yaml:"free_tier_cap"`     // Lifetime request cap for the free tier
	FloorCost       float64 `yaml:"floor_cost"`        // Minimum charge per metered request
	DisableFreeTier bool    `yaml:"disable_free_tier"` // Operators may turn the free tier off
}

// CacheConfig configures the optional Redis exact-match response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"` // host:port of the Redis server
	TTL     time.Duration `yaml:"ttl"`  // Entry time-to-live
}

// MediaConfig configures multimodal media fetching.
type MediaConfig struct {
	S3Region string `yaml:"s3_region"` // Region for SigV4 signing of s3:// media fetches
}

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// Load reads configuration from a YAML file.
// Returns an error if the file doesn't exist or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills optional fields that have sensible operational defaults.
// Required fields (port, store path, backend URLs) are still validated below.
func (c *Config) applyDefaults() {
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.KeyPool.RefreshInterval == 0 {
		c.KeyPool.RefreshInterval = DefaultPoolRefreshInterval
	}
	if c.Billing.FreeTierCap == 0 {
		c.Billing.FreeTierCap = DefaultFreeTierCap
	}
	if c.Billing.FloorCost == 0 {
		c.Billing.FloorCost = DefaultFloorCost
	}
	if c.Billing.MinimumBalance == 0 {
		c.Billing.MinimumBalance = DefaultMinimumBalance
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Backends.TranscriptionModel == "" {
		c.Backends.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.Backends.VisionModel == "" {
		c.Backends.VisionModel = DefaultVisionModel
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	for name, b := range map[string]BackendConfig{
		"flash": c.Backends.Flash,
		"core":  c.Backends.Core,
		"apex":  c.Backends.Apex,
	} {
		if b.BaseURL == "" {
			return fmt.Errorf("backends.%s.base_url is required", name)
		}
		if b.Model == "" {
			return fmt.Errorf("backends.%s.model is required", name)
		}
	}

	if c.KeyPool.FallbackKey == "" {
		return fmt.Errorf("key_pool.fallback_key is required")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache.enabled")
	}

	return nil
}
