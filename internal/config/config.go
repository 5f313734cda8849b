// Package config provides configuration loading and validation for the
// journal API server. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the journal API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis. Optional; when unset the server falls back to in-process
	// sequence state and rate limiting.
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication. The previous secret is kept valid during
	// rotation so already-issued tokens keep verifying.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Export archive (S3-compatible object storage). Optional as a group:
	// when unset, export downloads are served inline only.
	ExportBucketName      string `koanf:"export_bucket_name"`
	ExportAccessKeyID     string `koanf:"export_access_key_id"`
	ExportSecretAccessKey string `koanf:"export_secret_access_key"`
	ExportEndpoint        string `koanf:"export_endpoint"`
	ExportRegion          string `koanf:"export_region"`

	// OTLP trace exporter endpoint. Optional; tracing is disabled when unset.
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// Comma-separated list of allowed CORS origins. CORS is disabled when
	// unset.
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	// Device gateway WebSocket endpoint. Required by the ingest worker
	// only; the API server never reads it.
	GatewayURL string `koanf:"gateway_url"`

	// Metrics listen port for the ingest worker.
	MetricsPort int `koanf:"metrics_port"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL           = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret             = errors.New("JWT_SECRET is required")
	ErrMissingExportBucketName      = errors.New("EXPORT_BUCKET_NAME is required")
	ErrMissingExportAccessKeyID     = errors.New("EXPORT_ACCESS_KEY_ID is required")
	ErrMissingExportSecretAccessKey = errors.New("EXPORT_SECRET_ACCESS_KEY is required")
	ErrMissingExportEndpoint        = errors.New("EXPORT_ENDPOINT is required")
	ErrInvalidPort                  = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort         = 8080
	DefaultEnv          = "development"
	DefaultExportRegion = "auto"
	DefaultMetricsPort  = 9091
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error
// is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid.
	// Try JOURNAL_PORT first, then PORT for backward compatibility.
	port, portErr := getEnvIntOrDefaultMulti([]string{"JOURNAL_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"JOURNAL_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:             getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious:     getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		ExportBucketName:      getEnvOrKoanf("EXPORT_BUCKET_NAME", k, "export_bucket_name"),
		ExportAccessKeyID:     getEnvOrKoanf("EXPORT_ACCESS_KEY_ID", k, "export_access_key_id"),
		ExportSecretAccessKey: getEnvOrKoanf("EXPORT_SECRET_ACCESS_KEY", k, "export_secret_access_key"),
		ExportEndpoint:        getEnvOrKoanf("EXPORT_ENDPOINT", k, "export_endpoint"),
		ExportRegion:          getEnvOrDefault("EXPORT_REGION", k.String("export_region"), DefaultExportRegion),
		OTLPEndpoint:          getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		CORSAllowedOrigins:    getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		GatewayURL:            getEnvOrKoanf("GATEWAY_URL", k, "gateway_url"),
	}

	metricsPort, metricsPortErr := getEnvIntOrDefaultMulti([]string{"METRICS_PORT"}, k.Int("metrics_port"), DefaultMetricsPort)
	if metricsPortErr != nil {
		loadErrs = append(loadErrs, metricsPortErr)
	}
	cfg.MetricsPort = metricsPort

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
// Note: A port value of 0 from a YAML file will fall back to the default; port 0 is not supported in YAML files.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	// Export storage is optional. Only validate the group if any value is set.
	if c.ExportBucketName != "" || c.ExportAccessKeyID != "" || c.ExportSecretAccessKey != "" || c.ExportEndpoint != "" {
		if c.ExportBucketName == "" {
			errs = append(errs, ErrMissingExportBucketName)
		}
		if c.ExportAccessKeyID == "" {
			errs = append(errs, ErrMissingExportAccessKeyID)
		}
		if c.ExportSecretAccessKey == "" {
			errs = append(errs, ErrMissingExportSecretAccessKey)
		}
		if c.ExportEndpoint == "" {
			errs = append(errs, ErrMissingExportEndpoint)
		}
	}

	return errs
}

// CORSOrigins returns the configured CORS origins as a slice, or nil when
// CORS is disabled.
func (c *Config) CORSOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// ExportConfigured reports whether the S3 export archive group is fully set.
func (c *Config) ExportConfigured() bool {
	return c.ExportBucketName != "" && c.ExportAccessKeyID != "" &&
		c.ExportSecretAccessKey != "" && c.ExportEndpoint != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     fmt.Sprintf("%d", c.Port),
		"env":                      c.Env,
		"database_url":             maskDatabaseURL(c.DatabaseURL),
		"redis_url":                maskDatabaseURL(c.RedisURL),
		"jwt_secret":               maskSecret(c.JWTSecret),
		"jwt_secret_previous":      maskSecret(c.JWTSecretPrevious),
		"export_bucket_name":       c.ExportBucketName,
		"export_access_key_id":     maskSecret(c.ExportAccessKeyID),
		"export_secret_access_key": maskSecret(c.ExportSecretAccessKey),
		"export_endpoint":          c.ExportEndpoint,
		"export_region":            c.ExportRegion,
		"otlp_endpoint":            c.OTLPEndpoint,
		"cors_allowed_origins":     c.CORSAllowedOrigins,
		"gateway_url":              c.GatewayURL,
		"metrics_port":             fmt.Sprintf("%d", c.MetricsPort),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql://, and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
