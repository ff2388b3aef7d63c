package config

import (
	"fmt"
	"os"
)

// Config represents the complete application configuration
type Config struct {
	Service  ServiceConfig   `toml:"service"`
	Pipeline PipelineConfig  `toml:"pipeline"`
	Cache    CacheConfig     `toml:"cache"`
	Store    StoreConfig     `toml:"store"`
	Prompts  PromptTemplates `toml:"prompt_templates"`
}

// ServiceConfig holds Generation Service endpoint settings
type ServiceConfig struct {
	BaseURL              string `toml:"base_url"`
	RateLimitPerMinute   int    `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds   int    `toml:"http_timeout_seconds"`   // Per-request timeout (default 120)
	StreamTimeoutSeconds int    `toml:"stream_timeout_seconds"` // Whole-stream timeout (default 600)
	MaxRetries           int    `toml:"max_retries"`            // Sync-call retries (default 3)
	MaxBackoffSeconds    int    `toml:"max_backoff_seconds"`    // Cap on retry backoff (default 120)
	UseStreaming         *bool  `toml:"use_streaming"`          // Prefer the streaming surface (default true)
}

// StreamingEnabled reports whether the streaming surface should be used.
func (s *ServiceConfig) StreamingEnabled() bool {
	return s.UseStreaming == nil || *s.UseStreaming
}

// PipelineConfig holds workflow-level settings
type PipelineConfig struct {
	AngleCount  int    `toml:"angle_count"`  // Angles requested per generation (default 3)
	ContentType string `toml:"content_type"` // Default output content type (default "post")
}

// CacheConfig holds snapshot cache defaults
type CacheConfig struct {
	DefaultTTLHours      int `toml:"default_ttl_hours"`      // Snapshot expiry (default 24)
	DefaultActionsBudget int `toml:"default_actions_budget"` // Mutations tolerated before stale (default 5)
}

// StoreConfig holds durable store settings
type StoreConfig struct {
	Path string `toml:"path"` // sqlite database path; empty = ~/.quillforge/quillforge.db
}

// PromptTemplates holds the customizable generation payload templates
type PromptTemplates struct {
	AngleGeneration   string `toml:"angle_generation"`
	OutlineGeneration string `toml:"outline_generation"`
	ContentWriting    string `toml:"content_writing"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKey string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if c.Service.RateLimitPerMinute < 1 {
		return fmt.Errorf("service.rate_limit_per_minute must be at least 1 (got %d)", c.Service.RateLimitPerMinute)
	}
	if c.Service.MaxRetries < -1 {
		return fmt.Errorf("service.max_retries must be -1 (unlimited) or non-negative (got %d)", c.Service.MaxRetries)
	}
	if c.Pipeline.AngleCount < 1 || c.Pipeline.AngleCount > 10 {
		return fmt.Errorf("pipeline.angle_count must be between 1 and 10 (got %d)", c.Pipeline.AngleCount)
	}
	if c.Cache.DefaultTTLHours < 1 {
		return fmt.Errorf("cache.default_ttl_hours must be at least 1 (got %d)", c.Cache.DefaultTTLHours)
	}
	if c.Cache.DefaultActionsBudget < 1 {
		return fmt.Errorf("cache.default_actions_budget must be at least 1 (got %d)", c.Cache.DefaultActionsBudget)
	}
	if c.Prompts.AngleGeneration == "" {
		return fmt.Errorf("prompt_templates.angle_generation is required")
	}
	if c.Prompts.OutlineGeneration == "" {
		return fmt.Errorf("prompt_templates.outline_generation is required")
	}
	if c.Prompts.ContentWriting == "" {
		return fmt.Errorf("prompt_templates.content_writing is required")
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() *Secrets {
	return &Secrets{
		APIKey: os.Getenv("QUILLFORGE_API_KEY"),
	}
}
