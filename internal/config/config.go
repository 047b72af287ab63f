// Package config provides centralized configuration loaded from environment
// variables. Shared by every reminders subcommand.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // APP_TIMEZONE must resolve in slim containers
)

// Notification store backends.
const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Clock and links
	Timezone string
	Location *time.Location
	AppURL   string

	// Notification store and push
	NotificationStore       string // postgres or firestore
	FirebaseCredentialsFile string
	FirebaseProjectID       string
	PushTimeout             time.Duration
	PushRatePerSecond       int

	// Jobs
	JobTimeout        time.Duration
	ServiceExpiryDays string
	Schedules         map[string]string // short job name -> cron spec override
	ListenEnabled     bool

	// Maintenance
	CleanupInterval time.Duration
	TokenRetention  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  slog.Level
	LogFormat string // text or json
}

// scheduleKeys are the short job names accepted as SCHEDULE_<NAME>.
var scheduleKeys = []string{"attendance", "expenses", "requests", "tickets", "meetings", "services", "support"}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	tz := envOr("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q: %w", tz, err)
	}

	store := strings.ToLower(envOr("NOTIFICATION_STORE", StorePostgres))
	if store != StorePostgres && store != StoreFirestore {
		return nil, fmt.Errorf("NOTIFICATION_STORE must be %q or %q, got %q", StorePostgres, StoreFirestore, store)
	}

	schedules := make(map[string]string)
	for _, k := range scheduleKeys {
		if v := envOr("SCHEDULE_"+strings.ToUpper(k), ""); v != "" {
			schedules[k] = v
		}
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		Timezone: tz,
		Location: loc,
		AppURL:   envOr("APP_URL", ""),

		NotificationStore:       store,
		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseProjectID:       envOr("FIREBASE_PROJECT_ID", ""),
		PushTimeout:             envSeconds("PUSH_TIMEOUT_SECONDS", 10),
		PushRatePerSecond:       envInt("PUSH_RATE_PER_SECOND", 50),

		JobTimeout:        envSeconds("JOB_TIMEOUT_SECONDS", 300),
		ServiceExpiryDays: envOr("SERVICE_EXPIRY_DAYS", "7,1"),
		Schedules:         schedules,
		ListenEnabled:     envBool("LISTEN_ENABLED", true),

		CleanupInterval: time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		TokenRetention:  time.Duration(envInt("TOKEN_RETENTION_DAYS", 30)) * 24 * time.Hour,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8080)),
		Environment: envOr("ENVIRONMENT", "development"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000"}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		LogLevel:  parseLevel(envOr("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "text")),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// FirebaseEnabled reports whether push credentials are configured.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseCredentialsFile != "" || c.FirebaseProjectID != ""
}

// Schedule returns the cron override for a short job name, or fallback.
func (c *Config) Schedule(name, fallback string) string {
	if v, ok := c.Schedules[name]; ok {
		return v
	}
	return fallback
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
