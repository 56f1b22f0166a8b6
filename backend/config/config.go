package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the fire alert service
type Config struct {
	// Server configuration
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Store configuration: mysql, redis or memory
	StoreBackend string

	// Database configuration
	DBHost                string
	DBPort                string
	DBUser                string
	DBPassword            string
	DBName                string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBConnMaxLifetimeMin  int
	DBPingMaxWaitDuration time.Duration

	// Redis configuration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Verification configuration
	VerifyEnabled  bool
	VerifyProvider string
	VerifyFailOpen bool
	VerifyTimeout  time.Duration
	VerifyMaxImage int
	GeminiAPIKey   string
	GeminiModels   []string
	OpenAIAPIKey   string
	OpenAIModel    string

	// SendGrid configuration
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string

	// Alert policy
	SnapshotBaseURL           string
	AlertCooldown             time.Duration
	AlertRecentWindow         time.Duration
	AlertSendingTimeout       time.Duration
	AllowCancelAfterConfirmed bool
	CleanupInterval           time.Duration

	// Shared secrets for machine callers
	ServiceKey     string
	ProviderSecret string

	// Detection endpoint rate limiting, per client IP
	DetectionRateLimit float64
	DetectionRateBurst int

	// RabbitMQ configuration, empty URL disables publishing
	AMQPURL      string
	AMQPExchange string

	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "mysql")),

		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "3306"),
		DBUser:                getEnv("DB_USER", "server"),
		DBPassword:            getEnv("DB_PASSWORD", "secret"),
		DBName:                getEnv("DB_NAME", "firealert"),
		DBMaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetimeMin:  getIntEnv("DB_CONN_MAX_LIFETIME_MIN", 5),
		DBPingMaxWaitDuration: getDurationEnv("DB_PING_MAX_WAIT", 60*time.Second),

		RedisAddr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "firealert"),

		VerifyEnabled:  getBoolEnv("VERIFY_ENABLED", false),
		VerifyProvider: strings.ToLower(getEnv("VERIFY_PROVIDER", "gemini")),
		VerifyFailOpen: getBoolEnv("VERIFY_FAIL_OPEN", false),
		VerifyTimeout:  getDurationEnv("VERIFY_TIMEOUT", 45*time.Second),
		VerifyMaxImage: getIntEnv("VERIFY_MAX_IMAGE_DIMENSION", 1024),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModels:   getStringSliceEnv("GEMINI_MODEL", "gemini-2.0-flash,gemini-1.5-flash"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Fire Alert"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "alerts@firealert.local"),

		SnapshotBaseURL:           getEnv("SNAPSHOT_BASE_URL", "http://127.0.0.1:8000"),
		AlertCooldown:             getDurationEnv("ALERT_COOLDOWN", 10*time.Minute),
		AlertRecentWindow:         getDurationEnv("ALERT_RECENT_WINDOW", 2*time.Minute),
		AlertSendingTimeout:       getDurationEnv("ALERT_SENDING_TIMEOUT", 5*time.Minute),
		AllowCancelAfterConfirmed: getBoolEnv("ALLOW_CANCEL_AFTER_CONFIRMED", true),
		CleanupInterval:           getDurationEnv("CLEANUP_INTERVAL", time.Minute),

		ServiceKey:     getEnv("SERVICE_KEY", ""),
		ProviderSecret: getEnv("PROVIDER_SECRET", ""),

		DetectionRateLimit: getFloatEnv("DETECTION_RATE_LIMIT", 2),
		DetectionRateBurst: getIntEnv("DETECTION_RATE_BURST", 5),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "firealert"),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
	}
}

// MySQLDSN returns the go-sql-driver DSN for the configured database.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma-separated variable, dropping empty items
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
