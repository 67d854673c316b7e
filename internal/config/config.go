// Package config centralizes the environment-derived configuration for the
// activity aggregation and monitoring pipelines.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	ifconfig "github.com/flowlane/pulsefeed/infrastructure/config"
)

// Environment identifies the deployment tier.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config is the immutable, process-wide configuration value. It is
// constructed once at process start and passed to every component
// constructor; nothing in this repository reads os.Getenv directly outside
// of Load.
type Config struct {
	Environment Environment

	// Activity aggregation engine.
	SessionWindow       time.Duration `env:"SESSION_WINDOW"`
	MaxEventsPerSession int           `env:"MAX_EVENTS_PER_SESSION"`
	EnabledCategories   map[string]bool
	CategoryPolicyPath  string `env:"CATEGORY_POLICY_PATH"`

	// Monitoring pipeline.
	RateLimitWindow        time.Duration `env:"RATE_LIMIT_WINDOW"`
	SlowRequestThreshold   time.Duration `env:"SLOW_REQUEST_THRESHOLD"`
	SlowTaskThreshold      time.Duration `env:"SLOW_TASK_THRESHOLD"`
	HealthInterval         time.Duration `env:"HEALTH_INTERVAL"`
	QueueStuckThreshold    time.Duration `env:"QUEUE_STUCK_THRESHOLD"`
	DailyReportHour        int           `env:"DAILY_REPORT_HOUR"`
	DailyReportMinute      int           `env:"DAILY_REPORT_MINUTE"`
	DailyReportDedupWindow time.Duration `env:"DAILY_REPORT_DEDUP_WINDOW"`
	BatchWindow            time.Duration `env:"BATCH_WINDOW"`
	MonitoringEnabled      bool          `env:"MONITORING_ENABLED"`
	MonitoringEnv          string        `env:"MONITORING_ENV"`
	IgnoredExceptionPaths  []string      `env:"IGNORED_EXCEPTION_PATHS"`
	IgnoredErrorClasses    []string      `env:"IGNORED_ERROR_CLASSES"`

	// Chat notifier (Telegram).
	BotToken string `env:"MONITORING_BOT_TOKEN"`
	ChatID   string `env:"MONITORING_CHAT_ID"`
	ThreadID string `env:"MONITORING_THREAD_ID"`

	// Storage.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisDB     int    `env:"REDIS_DB"`

	// HTTP server.
	HTTPPort       int           `env:"HTTP_PORT"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS"`

	// Logging.
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

// Load reads configuration from the environment, optionally preloading an
// env-file named by MONITORING_ENV_FILE (or "config/<env>.env" when unset),
// then validates the result.
func Load() (*Config, error) {
	env := Environment(ifconfig.GetEnv("MONITORING_ENV", string(Development)))

	envFile := ifconfig.GetEnv("MONITORING_ENV_FILE", fmt.Sprintf("config/%s.env", env))
	_ = godotenv.Load(envFile) // best effort; absence is normal outside dev

	cfg := &Config{
		Environment: env,

		SessionWindow:       ifconfig.GetEnvDuration("SESSION_WINDOW", 900*time.Second),
		MaxEventsPerSession: ifconfig.GetEnvInt("MAX_EVENTS_PER_SESSION", 500),
		EnabledCategories:   parseCategories(ifconfig.GetEnv("ENABLED_CATEGORIES", "")),
		CategoryPolicyPath:  ifconfig.GetEnv("CATEGORY_POLICY_PATH", ""),

		RateLimitWindow:        ifconfig.GetEnvDuration("RATE_LIMIT_WINDOW", 10*time.Minute),
		SlowRequestThreshold:   ifconfig.GetEnvDuration("SLOW_REQUEST_THRESHOLD", 1*time.Second),
		SlowTaskThreshold:      ifconfig.GetEnvDuration("SLOW_TASK_THRESHOLD", 5*time.Second),
		HealthInterval:         ifconfig.GetEnvDuration("HEALTH_INTERVAL", 30*time.Minute),
		QueueStuckThreshold:    ifconfig.GetEnvDuration("QUEUE_STUCK_THRESHOLD", 10*time.Minute),
		DailyReportHour:        ifconfig.GetEnvInt("DAILY_REPORT_HOUR", 8),
		DailyReportMinute:      ifconfig.GetEnvInt("DAILY_REPORT_MINUTE", 0),
		DailyReportDedupWindow: ifconfig.GetEnvDuration("DAILY_REPORT_DEDUP_WINDOW", 120*time.Second),
		BatchWindow:            ifconfig.GetEnvDuration("BATCH_WINDOW", 15*time.Minute),
		MonitoringEnabled:      ifconfig.GetEnvBool("MONITORING_ENABLED", true),
		MonitoringEnv:          ifconfig.GetEnv("MONITORING_ENV", string(Development)),
		IgnoredExceptionPaths:  ifconfig.SplitAndTrimCSV(ifconfig.GetEnv("IGNORED_EXCEPTION_PATHS", "/health,/ready,/metrics")),
		IgnoredErrorClasses:    ifconfig.SplitAndTrimCSV(ifconfig.GetEnv("IGNORED_ERROR_CLASSES", "*activity.ValidationError,*activity.ForbiddenError,*activity.NotFoundError")),

		BotToken: ifconfig.GetEnv("MONITORING_BOT_TOKEN", ""),
		ChatID:   ifconfig.GetEnv("MONITORING_CHAT_ID", ""),
		ThreadID: ifconfig.GetEnv("MONITORING_THREAD_ID", ""),

		DatabaseURL: ifconfig.GetEnv("DATABASE_URL", ""),
		RedisAddr:   ifconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     ifconfig.GetEnvInt("REDIS_DB", 0),

		HTTPPort:       ifconfig.GetEnvInt("HTTP_PORT", 8080),
		ReadTimeout:    ifconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   ifconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		RequestTimeout: ifconfig.GetEnvDuration("HTTP_REQUEST_TIMEOUT", 25*time.Second),
		AllowedOrigins: ifconfig.SplitAndTrimCSV(ifconfig.GetEnv("ALLOWED_ORIGINS", "")),

		LogLevel:  ifconfig.GetEnv("LOG_LEVEL", "info"),
		LogFormat: ifconfig.GetEnv("LOG_FORMAT", "json"),
	}

	// The block above establishes every default via the lower-level env
	// helpers (so a field is always populated even when nothing is set).
	// envdecode then re-applies the same environment as a tagged-struct
	// override pass, so a var exported after process start or through a
	// mechanism envdecode's richer type support handles (e.g. a duration
	// string) takes precedence over the manual parse.
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces invariants that must hold regardless of environment.
func (c *Config) Validate() error {
	if c.SessionWindow <= 0 {
		return fmt.Errorf("config: SESSION_WINDOW must be positive")
	}
	if c.MaxEventsPerSession <= 0 {
		return fmt.Errorf("config: MAX_EVENTS_PER_SESSION must be positive")
	}
	if c.DailyReportHour < 0 || c.DailyReportHour > 23 {
		return fmt.Errorf("config: DAILY_REPORT_HOUR out of range")
	}
	if c.DailyReportMinute < 0 || c.DailyReportMinute > 59 {
		return fmt.Errorf("config: DAILY_REPORT_MINUTE out of range")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT out of range")
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required in production")
		}
		if c.MonitoringEnabled && (c.BotToken == "" || c.ChatID == "") {
			return fmt.Errorf("config: MONITORING_BOT_TOKEN and MONITORING_CHAT_ID are required in production when monitoring is enabled")
		}
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Environment == Development }
func (c *Config) IsTesting() bool     { return c.Environment == Testing }
func (c *Config) IsProduction() bool  { return c.Environment == Production }

// CategoryEnabled reports whether events of the given category should be
// recorded. Unknown categories default to enabled per spec.
func (c *Config) CategoryEnabled(category string) bool {
	enabled, known := c.EnabledCategories[category]
	if !known {
		return true
	}
	return enabled
}

func parseCategories(raw string) map[string]bool {
	result := map[string]bool{
		"elements":      true,
		"folders":       true,
		"gallery":       true,
		"announcements": true,
		"projects":      true,
		"comments":      true,
		"widgets":       true,
	}
	if strings.TrimSpace(raw) == "" {
		return result
	}
	allowed := make(map[string]bool, len(result))
	for _, cat := range strings.Split(raw, ",") {
		cat = strings.TrimSpace(cat)
		if cat != "" {
			allowed[cat] = true
		}
	}
	for cat := range result {
		result[cat] = allowed[cat]
	}
	return result
}
