package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Supabase   SupabaseConfig   `koanf:"supabase"`
	Backend    BackendConfig    `koanf:"backend"`
	Auth       AuthConfig       `koanf:"auth"`
	Session    SessionConfig    `koanf:"session"`
	Generation GenerationConfig `koanf:"generation"`
	Events     EventsConfig     `koanf:"events"`
	Storage    StorageConfig    `koanf:"storage"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SupabaseConfig points at the hosted auth/database project.
type SupabaseConfig struct {
	URL       string        `koanf:"url"`
	AnonKey   string        `koanf:"anon_key"`
	JWTSecret string        `koanf:"jwt_secret"` // Optional: verify access tokens locally
	Timeout   time.Duration `koanf:"timeout"`
}

// BackendConfig points at the Express backend that performs generation.
type BackendConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type AuthConfig struct {
	AdminEmails           []string                 `koanf:"admin_emails"`
	AdminRole             string                   `koanf:"admin_role"`
	CustomerSegmentOffset int                      `koanf:"customer_segment_offset"` // Path segments after "api" holding the customer ID
	SecureCookies         bool                     `koanf:"secure_cookies"`
	LegacyCredentials     []LegacyCredentialConfig `koanf:"legacy_credentials"`
}

// LegacyCredentialConfig maps a static token to a customer.
// Only the SHA-256 hash of the token is stored.
type LegacyCredentialConfig struct {
	TokenHash   string `koanf:"token_hash"`
	CustomerID  string `koanf:"customer_id"`
	Email       string `koanf:"email"`
	Admin       bool   `koanf:"admin"`
	Description string `koanf:"description"`
}

type SessionConfig struct {
	CheckInterval    time.Duration `koanf:"check_interval"`
	WarningThreshold time.Duration `koanf:"warning_threshold"`
}

type GenerationConfig struct {
	FailureClearDelay time.Duration   `koanf:"failure_clear_delay"`
	RateLimit         RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig limits generation requests per customer. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `koanf:"requests_per_minute"`
	Burst             int `koanf:"burst"`
}

type EventsConfig struct {
	HistorySize        int           `koanf:"history_size"`
	MetricsWindow      time.Duration `koanf:"metrics_window"`
	ErrorRateThreshold float64       `koanf:"error_rate_threshold"`
	NATS               NATSConfig    `koanf:"nats"`
}

// NATSConfig enables fan-out of bus events to NATS when URL is set.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type StorageConfig struct {
	Type          string        `koanf:"type"` // sqlite, none
	SQLite        SQLiteConfig  `koanf:"sqlite"`
	Retention     time.Duration `koanf:"retention"`
	PurgeSchedule string        `koanf:"purge_schedule"` // robfig/cron expression or @every descriptor
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":                    8080,
	"server.request_timeout":         "60s",
	"supabase.timeout":               "10s",
	"backend.url":                    "http://localhost:3001",
	"backend.timeout":                "5m",
	"auth.admin_role":                "admin",
	"auth.customer_segment_offset":   2,
	"session.check_interval":         "30s",
	"session.warning_threshold":      "5m",
	"generation.failure_clear_delay": "5s",
	"events.history_size":            1000,
	"events.metrics_window":          "5m",
	"events.error_rate_threshold":    0.1,
	"events.nats.subject_prefix":     "revintel.events",
	"storage.type":                   "sqlite",
	"storage.sqlite.path":            "./data/gateway.db",
	"storage.retention":              "168h",
	"storage.purge_schedule":         "@every 1h",
	"telemetry.service_name":         "revintel-gateway",
}

// Load reads DefaultPath and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads configuration from path, then overlays REVINTEL_ environment
// variables (double underscore separates levels).
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Try to load from the config file first
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("REVINTEL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REVINTEL_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Supabase.AnonKey = substituteEnvVars(cfg.Supabase.AnonKey)
	cfg.Supabase.JWTSecret = substituteEnvVars(cfg.Supabase.JWTSecret)
	cfg.Supabase.URL = substituteEnvVars(cfg.Supabase.URL)
	cfg.Backend.URL = substituteEnvVars(cfg.Backend.URL)
	cfg.Events.NATS.URL = substituteEnvVars(cfg.Events.NATS.URL)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
