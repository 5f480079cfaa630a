// Package config loads the application configuration from YAML with
// environment variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Agent service
	ServiceURL     string        `yaml:"service_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserID         string        `yaml:"user_id"`

	// Rate limiting for outgoing requests
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Archive configuration
	Archive ArchiveConfig `yaml:"archive"`

	// Observability endpoint
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// RateLimitConfig controls client-side request pacing
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ArchiveConfig selects and configures the exchange archive backend
type ArchiveConfig struct {
	Backend string `yaml:"backend"` // none, file, redis, firestore

	// File backend
	Dir string `yaml:"dir"`

	// Redis backend
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	// Firestore backend
	GCPProject     string `yaml:"gcp_project"`
	GCPCredentials string `yaml:"gcp_credentials"`
	Collection     string `yaml:"collection"`

	// Retention window; exchanges older than this are pruned.
	// Zero disables pruning.
	Retention time.Duration `yaml:"retention"`
	// PruneSchedule is a cron expression for the pruning job
	// (default: daily at 03:00).
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoadConfig loads configuration from a YAML file. A missing file
// yields defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the user's --config flag
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = os.Getenv("AGENTQUERY_SERVICE_URL")
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = "http://localhost:8000/api/v1"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.UserID == "" {
		cfg.UserID = os.Getenv("AGENTQUERY_USER_ID")
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.MetricsPort == 0 {
		if port := os.Getenv("AGENTQUERY_METRICS_PORT"); port != "" {
			if p, perr := strconv.Atoi(port); perr == nil {
				cfg.MetricsPort = p
			}
		}
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9091
	}

	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = os.Getenv("AGENTQUERY_ARCHIVE_BACKEND")
	}
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "file"
	}
	if cfg.Archive.RedisAddr == "" {
		cfg.Archive.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Archive.GCPProject == "" {
		cfg.Archive.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if cfg.Archive.GCPCredentials == "" {
		cfg.Archive.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.Archive.PruneSchedule == "" {
		cfg.Archive.PruneSchedule = "0 3 * * *"
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		return fmt.Errorf("service_url is required")
	}

	switch c.Archive.Backend {
	case "none", "file":
	case "redis":
		if c.Archive.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis archive backend")
		}
	case "firestore":
		if c.Archive.GCPProject == "" {
			return fmt.Errorf("gcp_project is required for the firestore archive backend")
		}
	default:
		return fmt.Errorf("unknown archive backend: %s", c.Archive.Backend)
	}

	return nil
}
