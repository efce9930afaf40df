// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database (optional; network scores come from NETWORK_SCORES_FILE or memory if unset)
	DatabaseURL string

	// Decision pipeline
	LedgerCapacity    int
	PolicyFile        string
	SignalProviderURL string // remote model server; the local provider is used if unset
	SignalTimeout     time.Duration
	NetworkScoresFile string

	// Alerting
	NotifyThreshold    float64
	NotifyWorkers      int
	NotifyQueueSize    int
	NotifySafeLogins   bool
	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	SMTPFrom           string
	AlertWebhookURL    string
	AlertWebhookSecret string

	// Security
	AdminSecret    string // guards POST /security/reset when set
	RateLimitRPM   int
	AllowedOrigins []string

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultLedgerCapacity  = 50
	DefaultSignalTimeout   = 2 * time.Second
	DefaultNotifyThreshold = 0.80
	DefaultNotifyWorkers   = 4
	DefaultNotifyQueueSize = 256
	DefaultSMTPPort        = 587
	DefaultRateLimitRPM    = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LedgerCapacity:     int(getEnvInt64("LEDGER_CAPACITY", DefaultLedgerCapacity)),
		PolicyFile:         os.Getenv("POLICY_FILE"),
		SignalProviderURL:  os.Getenv("SIGNAL_PROVIDER_URL"),
		SignalTimeout:      getEnvDuration("SIGNAL_TIMEOUT", DefaultSignalTimeout),
		NetworkScoresFile:  os.Getenv("NETWORK_SCORES_FILE"),
		NotifyThreshold:    getEnvFloat("NOTIFY_THRESHOLD", DefaultNotifyThreshold),
		NotifyWorkers:      int(getEnvInt64("NOTIFY_WORKERS", DefaultNotifyWorkers)),
		NotifyQueueSize:    int(getEnvInt64("NOTIFY_QUEUE_SIZE", DefaultNotifyQueueSize)),
		NotifySafeLogins:   getEnvBool("NOTIFY_SAFE_LOGINS", false),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           int(getEnvInt64("SMTP_PORT", DefaultSMTPPort)),
		SMTPUsername:       os.Getenv("SMTP_USERNAME"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:           os.Getenv("SMTP_FROM"),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects out-of-range values. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be 1-65535, got %q", c.Port))
	}
	if c.LedgerCapacity < 1 {
		errs = append(errs, fmt.Errorf("LEDGER_CAPACITY must be positive, got %d", c.LedgerCapacity))
	}
	if c.NotifyThreshold < 0 || c.NotifyThreshold > 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_THRESHOLD must be in [0,1], got %v", c.NotifyThreshold))
	}
	if c.NotifyWorkers < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_WORKERS must be positive, got %d", c.NotifyWorkers))
	}
	if c.NotifyQueueSize < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.NotifyQueueSize))
	}
	if c.SignalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SIGNAL_TIMEOUT must be positive, got %s", c.SignalTimeout))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be in [0,1], got %v", c.TraceSampleRatio))
	}
	if c.RateLimitRPM < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPM must not be negative, got %d", c.RateLimitRPM))
	}
	if c.SignalProviderURL != "" && !isHTTPURL(c.SignalProviderURL) {
		errs = append(errs, fmt.Errorf("SIGNAL_PROVIDER_URL must be an http(s) URL"))
	}
	if c.AlertWebhookURL != "" && !isHTTPURL(c.AlertWebhookURL) {
		errs = append(errs, fmt.Errorf("ALERT_WEBHOOK_URL must be an http(s) URL"))
	}
	if c.SMTPHost != "" {
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be 1-65535, got %d", c.SMTPPort))
		}
		if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
			errs = append(errs, fmt.Errorf("SMTP_FROM must be a valid address when SMTP_HOST is set"))
		}
	}
	if c.IsProduction() && c.AdminSecret == "" {
		errs = append(errs, fmt.Errorf("ADMIN_SECRET is required in production"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPEnabled reports whether outbound email is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// Helper functions

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
