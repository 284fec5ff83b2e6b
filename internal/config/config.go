// Package config loads and validates the server configuration: a YAML
// file overlaid with environment variables, the pattern every
// long-running component in this codebase uses to separate deployment
// config from code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// VisionConfig configures the vision-LLM extraction client (C6):
// primary fast-path model plus the provider-specific tuning knobs.
type VisionConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	Provider    string        `yaml:"provider"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// TenantConfig configures the per-tenant JSON config loader (C5).
type TenantConfig struct {
	ConfigDir       string `yaml:"config_dir"`
	DefaultIndustry string `yaml:"default_industry"`
}

// PipelineConfig configures the ingestion/stock worker pools.
type PipelineConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObjectStoreConfig configures the S3-compatible object store adapter (C3).
type ObjectStoreConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// AuthConfig configures bearer-token authentication for the upload/process
// API surface (§6 `/auth/login` issues the token this guards against).
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// Config is the fully resolved server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Vision      VisionConfig      `yaml:"vision"`
	Tenant      TenantConfig      `yaml:"tenant"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Logging     LoggingConfig     `yaml:"logging"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Auth        AuthConfig        `yaml:"auth"`
}

// Load reads path, parses it as YAML, overlays environment variables,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Tenant.DefaultIndustry == "" {
		config.Tenant.DefaultIndustry = "general"
	}
	if config.Pipeline.MaxConcurrent == 0 {
		config.Pipeline.MaxConcurrent = 5
	}
	if config.Vision.Provider == "" {
		config.Vision.Provider = "anthropic"
	}
}

var supportedVisionProviders = map[string]bool{
	"anthropic": true,
	"bedrock":   true,
}

func validate(config *Config) error {
	if !supportedVisionProviders[config.Vision.Provider] {
		return fmt.Errorf("unsupported vision provider: %s", config.Vision.Provider)
	}

	if config.Vision.Endpoint == "" {
		config.Vision.Endpoint = "http://localhost:8080"
	}

	if config.Vision.Provider == "anthropic" && config.Vision.Model == "" {
		return fmt.Errorf("vision model is required for anthropic provider")
	}

	if config.Vision.Temperature < 0.0 || config.Vision.Temperature > 1.0 {
		return fmt.Errorf("vision temperature must be between 0.0 and 1.0")
	}

	if config.Vision.MaxTokens <= 0 {
		return fmt.Errorf("vision max tokens must be greater than 0")
	}

	if config.Tenant.DefaultIndustry == "" {
		return fmt.Errorf("tenant default industry is required")
	}

	if config.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent actions must be greater than 0")
	}

	return nil
}

func loadFromEnv(config *Config) error {
	if v := os.Getenv("VISION_ENDPOINT"); v != "" {
		config.Vision.Endpoint = v
	}
	if v := os.Getenv("VISION_MODEL"); v != "" {
		config.Vision.Model = v
	}
	if v := os.Getenv("VISION_PROVIDER"); v != "" {
		config.Vision.Provider = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		config.Server.Port = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DRY_RUN value: %w", err)
		}
		config.Pipeline.DryRun = dryRun
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		config.Auth.Token = v
		config.Auth.Enabled = true
	}
	return nil
}
