// Package config loads configuration from environment variables and the
// optional workspace template table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxWorkers caps the shared sync pool regardless of host capability.
const MaxWorkers = 24

// Config holds all depot-sync configuration.
type Config struct {
	// Depot
	DepotPort string // explicit server override, skips region lookup
	DepotBin  string
	Hostname  string

	// Pipeline
	Project     string
	ProjectRoot string
	Region      string
	Servers     map[string]string // region -> server address
	User        string

	// Identity (optional)
	IDToken       string
	OIDCIssuerURL string
	OIDCClientID  string
	JWTSecret     string

	// Metadata
	DatabaseURL string

	// Sync
	Workers           int
	MinTicketLifetime time.Duration

	// Workspace templates
	TemplatesFile string
	Templates     *Templates

	// Preferences
	PrefsPath        string
	PrefsS3Bucket    string
	PrefsS3Endpoint  string
	PrefsS3Region    string
	PrefsS3PathStyle bool
	PrefsS3AccessKey string
	PrefsS3SecretKey string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Metrics (optional)
	MetricsPushURL string
}

// ConfigError reports a missing or malformed setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %s is not set", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	host, _ := os.Hostname()

	cfg := &Config{
		DepotPort:         envOr("DEPOT_PORT", ""),
		DepotBin:          envOr("DEPOT_BIN", "p4"),
		Hostname:          envOr("DEPOT_HOST", host),
		Project:           envOr("PIPELINE_PROJECT", ""),
		ProjectRoot:       envOr("PIPELINE_PROJECT_ROOT", ""),
		Region:            envOr("PIPELINE_REGION", "default"),
		User:              envOr("PIPELINE_USER", ""),
		IDToken:           envOr("PIPELINE_ID_TOKEN", ""),
		OIDCIssuerURL:     envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:      envOr("OIDC_CLIENT_ID", ""),
		JWTSecret:         envOr("PIPELINE_JWT_SECRET", ""),
		DatabaseURL:       envOr("METADATA_DATABASE_URL", ""),
		Workers:           envInt("SYNC_WORKERS", MaxWorkers),
		MinTicketLifetime: time.Duration(envInt64("MIN_TICKET_LIFETIME", 300)) * time.Second,
		TemplatesFile:     envOr("TEMPLATES_FILE", ""),
		PrefsPath:         envOr("PREFS_PATH", ""),
		PrefsS3Bucket:     envOr("PREFS_S3_BUCKET", ""),
		PrefsS3Endpoint:   envOr("PREFS_S3_ENDPOINT", ""),
		PrefsS3Region:     envOr("PREFS_S3_REGION", "us-east-1"),
		PrefsS3PathStyle:  envBool("PREFS_S3_PATH_STYLE", true),
		PrefsS3AccessKey:  envOr("PREFS_S3_ACCESS_KEY", ""),
		PrefsS3SecretKey:  envOr("PREFS_S3_SECRET_KEY", ""),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "console"),
		LogFile:           envOr("LOG_FILE", ""),
		MetricsPushURL:    envOr("METRICS_PUSH_URL", ""),
	}

	servers, err := ParseServers(os.Getenv("PIPELINE_SERVERS"))
	if err != nil {
		return nil, &ConfigError{Field: "PIPELINE_SERVERS", Err: err}
	}
	cfg.Servers = servers
	cfg.Workers = ClampWorkers(cfg.Workers)

	if cfg.Project == "" {
		return nil, &ConfigError{Field: "PIPELINE_PROJECT"}
	}

	cfg.Templates = DefaultTemplates()
	if cfg.TemplatesFile != "" {
		t, err := LoadTemplates(cfg.TemplatesFile)
		if err != nil {
			return nil, &ConfigError{Field: "TEMPLATES_FILE", Err: err}
		}
		cfg.Templates = t
	}

	return cfg, nil
}

// ClampWorkers bounds a requested worker count to [1, MaxWorkers].
func ClampWorkers(n int) int {
	if n <= 0 || n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// ParseServers parses "region=address" pairs separated by commas.
func ParseServers(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		region, addr, ok := strings.Cut(pair, "=")
		region, addr = strings.TrimSpace(region), strings.TrimSpace(addr)
		if !ok || region == "" || addr == "" {
			return nil, fmt.Errorf("malformed entry %q, want region=address", pair)
		}
		out[region] = addr
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
