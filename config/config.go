// Package config loads ledgercored's runtime configuration from the
// environment (and an optional .env file in development).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all ledgercored configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Redis backs the optional shared tier of the read cache.
	RedisURL string

	// Auth
	JWTSigningKey string

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int

	// Timeouts
	DefaultTimeout time.Duration
	SyncTimeout    time.Duration

	// Body limits
	MaxBodyBytes int64

	// Sync
	SyncDebounceWindow time.Duration

	// LocalDataDir is where the file-backed LocalKV persists each
	// device's replica between restarts.
	LocalDataDir string

	// Classifier / LLM
	LLMEnabled             bool
	LLMConfidenceThreshold float64
	AnthropicAPIKey        string
	AnthropicBaseURL       string
	AnthropicModel         string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional
// .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("LEDGER_GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("LEDGER_DEFAULT_TIMEOUT_SEC", 30)
	syncTimeoutSec := getEnvInt("LEDGER_SYNC_TIMEOUT_SEC", 30)
	debounceMs := getEnvInt("LEDGER_SYNC_DEBOUNCE_MS", 2000)

	return &Config{
		Addr:            getEnv("LEDGER_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", ""),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),

		DefaultTimeout: time.Duration(defaultTimeoutSec) * time.Second,
		SyncTimeout:    time.Duration(syncTimeoutSec) * time.Second,

		MaxBodyBytes: int64(getEnvInt("LEDGER_MAX_BODY_BYTES", 2*1024*1024)),

		SyncDebounceWindow: time.Duration(debounceMs) * time.Millisecond,

		LocalDataDir: getEnv("LEDGER_LOCAL_DATA_DIR", "./data/ledgercored"),

		LLMEnabled:             getEnvBool("LLM_ENABLED", false),
		LLMConfidenceThreshold: getEnvFloat("LLM_CONFIDENCE_THRESHOLD", 0.75),
		AnthropicAPIKey:        getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:       getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		AnthropicModel:         getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
