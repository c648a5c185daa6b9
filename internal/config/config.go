package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	OTLPEnabled  bool
	OTLPEndpoint string
	OTLPProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Ledger    LedgerConfig
	RateLimit RateLimitConfig
}

// LedgerConfig configures the outbound payment provider adapter.
type LedgerConfig struct {
	BaseURL          string
	APIKey           string
	WebhookSecret    string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

// RateLimitConfig configures the redis-backed usage ingest limiter.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OrgRate       float64
	OrgBurst      int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "billing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		OTLPEnabled:  getenvBool("OTLP_ENABLED", false),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: getenv("OTLP_PROTOCOL", "grpc"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billing"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 4),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 32),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),

		Ledger: LedgerConfig{
			BaseURL:          getenv("LEDGER_BASE_URL", "https://ledger.example.com"),
			APIKey:           strings.TrimSpace(getenv("LEDGER_API_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("LEDGER_WEBHOOK_SECRET", "")),
			Timeout:          time.Duration(getenvInt("LEDGER_TIMEOUT_SECONDS", 10)) * time.Second,
			WebhookTolerance: time.Duration(getenvInt("LEDGER_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			OrgRate:       getenvFloat("RATE_LIMIT_ORG_RATE", 100),
			OrgBurst:      getenvInt("RATE_LIMIT_ORG_BURST", 200),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
