package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	// Admission control
	RateLimit  int
	RateWindow time.Duration

	// Resolution
	CacheTTL       time.Duration
	RequestTimeout time.Duration

	// Operational surface
	OTLPEndpoint     string
	AWSRegion        string
	SecretsName      string
	AuditQueueURL    string
	AlertTopicARN    string
	AdminAuthEnabled bool

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RateLimit:        getIntEnv("RATE_LIMIT", 10),
		RateWindow:       getMillisEnv("RATE_WINDOW_MS", 60*time.Second),
		CacheTTL:         getDurationEnv("CACHE_TTL", 30*time.Second),
		RequestTimeout:   getDurationEnv("REQUEST_TIMEOUT", 5*time.Second),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),
		SecretsName:      getEnv("SECRETS_NAME", ""),
		AuditQueueURL:    getEnv("AUDIT_QUEUE_URL", ""),
		AlertTopicARN:    getEnv("ALERT_TOPIC_ARN", ""),
		AdminAuthEnabled: getEnv("ADMIN_AUTH_ENABLED", "false") == "true",
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
