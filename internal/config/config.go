package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort   string
	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	LogLevel  string
	LogFormat string
	Debug     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenSecret string
	DeviceToken string
	RateLimit   int
	RateWindow  time.Duration

	ConflictWindow      time.Duration
	ConflictStrategy    string
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	DebounceInterval    time.Duration
	StoreTimeout        time.Duration
	ActivityRetention   time.Duration

	AWSRegion    string
	SESFromEmail string
	SESFromName  string
	AppBaseURL   string

	ArchiveDriver     string
	ArchivePath       string
	ArchiveS3Bucket   string
	ArchiveS3Endpoint string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present; variables
// already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:   getEnv("PORT", "8080"),
		DatabaseType: getEnv("DB_TYPE", "sqlite"),
		DatabasePath: getEnv("DB_PATH", "./screentime.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Debug:     getEnvBool("DEBUG", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		TokenSecret: getEnv("TOKEN_SECRET", ""),
		DeviceToken: getEnv("DEVICE_TOKEN", ""),
		RateLimit:   getEnvInt("RATE_LIMIT", 120),
		RateWindow:  getEnvDuration("RATE_WINDOW", time.Minute),

		ConflictWindow:      getEnvDuration("CONFLICT_WINDOW", 5*time.Second),
		ConflictStrategy:    getEnv("CONFLICT_STRATEGY", "manualSelection"),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 30*time.Second),
		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", time.Hour),
		DebounceInterval:    getEnvDuration("DEBOUNCE_INTERVAL", 2*time.Second),
		StoreTimeout:        getEnvDuration("STORE_TIMEOUT", 15*time.Second),
		ActivityRetention:   getEnvDuration("ACTIVITY_RETENTION", 30*24*time.Hour),

		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Screen Time"),
		AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:8080"),

		ArchiveDriver:     strings.ToLower(getEnv("ARCHIVE_DRIVER", "none")),
		ArchivePath:       getEnv("ARCHIVE_PATH", "./archive"),
		ArchiveS3Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Endpoint: getEnv("ARCHIVE_S3_ENDPOINT", ""),
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go duration strings ("5s", "1h30m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
