package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AppTimezone is the zone slot payload timestamps are parsed in when
	// they carry no offset of their own.
	AppTimezone string

	// OneC outbound defaults. Per-branch endpoints carry their own base
	// URL and credentials; these only bound the transport.
	OneCTimeout       time.Duration
	OneCSource        string
	WebhookSecret     string
	WebhookDedupeTTL  time.Duration
	ManualPhoneFiller string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AppTimezone: getEnv("APP_TIMEZONE", "Europe/Moscow"),

		OneCTimeout:       getEnvAsDuration("ONEC_TIMEOUT", 20*time.Second),
		OneCSource:        strings.TrimSpace(getEnv("ONEC_APPOINTMENT_SOURCE", "site")),
		WebhookSecret:     getEnv("ONEC_WEBHOOK_SECRET", ""),
		WebhookDedupeTTL:  getEnvAsDuration("ONEC_WEBHOOK_DEDUPE_TTL", 10*time.Minute),
		ManualPhoneFiller: getEnv("ONEC_MANUAL_PHONE_FILLER", "0000000000"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
