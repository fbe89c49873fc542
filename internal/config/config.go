package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration sourced from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	InstanceID  string
	HTTPPort    string

	// Shared secret for authenticating bank gateway webhooks. Settlement
	// notifications are rejected outright when this is empty.
	WebhookSecret string

	// BootstrapAdmin provisions the operator account with an admin API key
	// on first start against an empty database.
	BootstrapAdmin bool

	OTLPEndpoint string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Revenue   RevenueMetricsConfig

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
	DBConnMaxIdleTime int
}

// ProviderConfig points at the external image generation provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
}

// RateLimitConfig sets per-account token bucket rates for the charge and
// poll endpoints. The limiter runs only when a Redis address is configured.
type RateLimitConfig struct {
	ChargePerSecond float64
	ChargeBurst     int
	PollPerSecond   float64
	PollBurst       int
}

// RevenueMetricsConfig controls the periodic revenue counter push.
type RevenueMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "inkwell"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		InstanceID:     strings.TrimSpace(getenv("INSTANCE_ID", "")),
		HTTPPort:       getenv("HTTP_PORT", "8080"),
		WebhookSecret:  strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
		BootstrapAdmin: getenvBool("BOOTSTRAP_ADMIN", false),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		RedisAddr:      strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getenvInt("REDIS_DB", 0),
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(getenv("PROVIDER_BASE_URL", ""), "/"),
			APIKey:  strings.TrimSpace(getenv("PROVIDER_API_KEY", "")),
		},
		RateLimit: RateLimitConfig{
			ChargePerSecond: getenvFloat("RATE_LIMIT_CHARGE_PER_SECOND", 20),
			ChargeBurst:     getenvInt("RATE_LIMIT_CHARGE_BURST", 40),
			PollPerSecond:   getenvFloat("RATE_LIMIT_POLL_PER_SECOND", 10),
			PollBurst:       getenvInt("RATE_LIMIT_POLL_BURST", 20),
		},
		Revenue: RevenueMetricsConfig{
			Enabled:   getenvBool("REVENUE_METRICS_ENABLED", false),
			Exporter:  strings.ToLower(getenv("REVENUE_METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("REVENUE_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("REVENUE_METRICS_AUTH_TOKEN", "")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "inkwell"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
