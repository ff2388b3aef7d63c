package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Service.RateLimitPerMinute == 0 {
		cfg.Service.RateLimitPerMinute = 60
	}
	if cfg.Service.HTTPTimeoutSeconds == 0 {
		cfg.Service.HTTPTimeoutSeconds = 120
	}
	if cfg.Service.StreamTimeoutSeconds == 0 {
		cfg.Service.StreamTimeoutSeconds = 600
	}
	if cfg.Service.MaxRetries == 0 {
		cfg.Service.MaxRetries = 3
	}
	if cfg.Service.MaxBackoffSeconds == 0 {
		cfg.Service.MaxBackoffSeconds = 120
	}
	if cfg.Service.UseStreaming == nil {
		streaming := true
		cfg.Service.UseStreaming = &streaming
	}
	if cfg.Pipeline.AngleCount == 0 {
		cfg.Pipeline.AngleCount = 3
	}
	if cfg.Pipeline.ContentType == "" {
		cfg.Pipeline.ContentType = "post"
	}
	if cfg.Cache.DefaultTTLHours == 0 {
		cfg.Cache.DefaultTTLHours = 24
	}
	if cfg.Cache.DefaultActionsBudget == 0 {
		cfg.Cache.DefaultActionsBudget = 5
	}
	if cfg.Prompts.AngleGeneration == "" {
		cfg.Prompts.AngleGeneration = DefaultAngleTemplate
	}
	if cfg.Prompts.OutlineGeneration == "" {
		cfg.Prompts.OutlineGeneration = DefaultOutlineTemplate
	}
	if cfg.Prompts.ContentWriting == "" {
		cfg.Prompts.ContentWriting = DefaultWritingTemplate
	}
}
