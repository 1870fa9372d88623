// Package config provides configuration loading and validation for the ETL CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default values applied by MergeWithDefaults.
const (
	DefaultStagingDir     = "/tmp/etl"
	DefaultChunkSize      = 1000
	DefaultRequestTimeout = 60 // seconds
)

// Config represents the ETL configuration. It can be loaded from a JSON file,
// overlaid with ETL_* environment variables and finally with CLI flags.
type Config struct {
	// Store
	DatabaseURL string `json:"database_url,omitempty" validate:"required"` // PostgreSQL connection URL

	// Source archive
	SourceURL      string `json:"source_url,omitempty" validate:"required,url"` // http(s):// or s3://bucket/key
	StagingDir     string `json:"staging_dir,omitempty" validate:"required"`    // Local directory for downloaded archives
	RequestTimeout int    `json:"request_timeout,omitempty" validate:"gte=1"`   // HTTP request timeout in seconds

	// Load
	ChunkSize int `json:"chunk_size,omitempty" validate:"gte=1"` // Records per upsert batch

	// S3-compatible object storage, used when SourceURL has the s3 scheme
	S3Endpoint  string `json:"s3_endpoint,omitempty" validate:"required_if=S3Enabled true"`
	S3AccessKey string `json:"s3_access_key,omitempty"`
	S3SecretKey string `json:"s3_secret_key,omitempty"`
	S3Region    string `json:"s3_region,omitempty"`
	S3UseSSL    bool   `json:"s3_use_ssl,omitempty"`
	S3Enabled   bool   `json:"-"`

	// Observability
	MetricsAddr string `json:"metrics_addr,omitempty" validate:"omitempty,hostname_port"` // Address for the Prometheus /metrics endpoint
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and its values are in range.
// It should be called after defaults, environment and flags have been merged.
func (c *Config) Validate() error {
	c.S3Enabled = strings.HasPrefix(c.SourceURL, "s3://")

	if err := newValidator().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("'%s' failed '%s'", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.SourceURL == "" {
		result.SourceURL = defaults.SourceURL
	}
	if result.StagingDir == "" {
		result.StagingDir = defaults.StagingDir
	}
	if result.S3Endpoint == "" {
		result.S3Endpoint = defaults.S3Endpoint
	}
	if result.S3AccessKey == "" {
		result.S3AccessKey = defaults.S3AccessKey
	}
	if result.S3SecretKey == "" {
		result.S3SecretKey = defaults.S3SecretKey
	}
	if result.S3Region == "" {
		result.S3Region = defaults.S3Region
	}
	if result.MetricsAddr == "" {
		result.MetricsAddr = defaults.MetricsAddr
	}

	// Int fields: use default if zero
	if result.ChunkSize == 0 {
		result.ChunkSize = defaults.ChunkSize
	}
	if result.RequestTimeout == 0 {
		result.RequestTimeout = defaults.RequestTimeout
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge

	return result
}

// Defaults returns the built-in defaults.
func Defaults() Config {
	return Config{
		StagingDir:     DefaultStagingDir,
		ChunkSize:      DefaultChunkSize,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the config file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
