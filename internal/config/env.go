package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvAPIURL       = "HIVE_API_URL"
	EnvToken        = "HIVE_TOKEN"
	EnvTokenFile    = "HIVE_TOKEN_FILE"
	EnvJWTSecret    = "HIVE_JWT_SECRET"
	EnvLogLevel     = "HIVE_LOG_LEVEL"
	EnvOTLPEndpoint = "HIVE_OTLP_ENDPOINT"
)

// LoadEnv reads a .env file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from HIVE_* environment variables and
// re-validates the result.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.AuthToken = v
		c.TokenFile = ""
	}
	if v := os.Getenv(EnvTokenFile); v != "" {
		c.TokenFile = v
		c.AuthToken = ""
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return c.Validate()
}
