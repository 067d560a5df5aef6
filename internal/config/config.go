// Package config loads registry configuration from the environment,
// optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all registry configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Hub       HubConfig       `yaml:"hub"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	Port string `envconfig:"PORT" default:"8000"    yaml:"port"`
}

// StoreConfig holds the versioned store configuration.
type StoreConfig struct {
	Path string `envconfig:"STORE_PATH" default:"./data/skills" yaml:"path"`
	Bare bool   `envconfig:"STORE_BARE" default:"false"         yaml:"bare"`
}

// IndexConfig holds the semantic index configuration.
type IndexConfig struct {
	Path       string `envconfig:"INDEX_PATH" default:"./data/index" yaml:"path"`
	Collection string `envconfig:"INDEX_COLLECTION" default:"skills" yaml:"collection"`
	Dims       int    `envconfig:"INDEX_DIMS" default:"256"          yaml:"dims"`
}

// HubConfig holds the WebSocket hub configuration.
type HubConfig struct {
	Heartbeat time.Duration `envconfig:"HUB_HEARTBEAT" default:"30s" yaml:"heartbeat"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false"  yaml:"development"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"    yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"  yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads configuration from the environment, then overlays keys
// present in the YAML file at path. File values win over environment.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "8000"},
		Store:  StoreConfig{Path: "./data/skills"},
		Index:  IndexConfig{Path: "./data/index", Collection: "skills", Dims: 256},
		Hub:    HubConfig{Heartbeat: 30 * time.Second},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
