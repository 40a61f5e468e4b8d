package config

import (
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration. Account specific settings live in
// the account configuration document, see Document.
type Config struct {
	Region         string        `yaml:"region"`
	ConfigBucket   string        `yaml:"config_bucket"`
	ConfigKey      string        `yaml:"config_key"`
	ConfigFile     string        `yaml:"config_file"`
	Server         ServerConfig  `yaml:"server"`
	Cache          CacheConfig   `yaml:"cache"`
	Collect        CollectConfig `yaml:"collect"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

type CollectConfig struct {
	// FilterPercentage is the usage percentage below which quotas are not
	// monitored.
	FilterPercentage float64 `yaml:"filter_percentage"`
}

// Default configuration
func Default() *Config {
	return &Config{
		Region: "us-east-1",
		Server: ServerConfig{
			Port: "8080",
		},
		Cache: CacheConfig{
			TTLMinutes: 60,
		},
		Collect: CollectConfig{
			FilterPercentage: 10,
		},
		MaxConcurrency: 4,
	}
}

// Load configuration from file
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename == "" {
		return cfg, nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, xerrors.Errorf("read config %q: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerrors.Errorf("parse config %q: %w", filename, err)
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	return cfg, nil
}

// GetCacheTTL returns the cache TTL as a duration
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// GetPort returns the server port, checking environment variable first
func (c *Config) GetPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return c.Server.Port
}
