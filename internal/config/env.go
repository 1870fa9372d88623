package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvPrefix is the prefix of every environment variable read by ApplyEnv.
const EnvPrefix = "ETL_"

// ApplyEnv overlays non-empty ETL_* environment variables onto c.
// DATABASE_URL is honored as a fallback for ETL_DATABASE_URL.
func (c *Config) ApplyEnv() error {
	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) error {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s must be a valid integer: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("SOURCE_URL", &c.SourceURL)
	setString("STAGING_DIR", &c.StagingDir)
	setString("S3_ENDPOINT", &c.S3Endpoint)
	setString("S3_ACCESS_KEY", &c.S3AccessKey)
	setString("S3_SECRET_KEY", &c.S3SecretKey)
	setString("S3_REGION", &c.S3Region)
	setString("METRICS_ADDR", &c.MetricsAddr)

	if err := setInt("CHUNK_SIZE", &c.ChunkSize); err != nil {
		return err
	}
	if err := setInt("REQUEST_TIMEOUT", &c.RequestTimeout); err != nil {
		return err
	}

	if v := os.Getenv(EnvPrefix + "S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_USE_SSL must be a boolean: %w", EnvPrefix, err)
		}
		c.S3UseSSL = b
	}

	return nil
}
