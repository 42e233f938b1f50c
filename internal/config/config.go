package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Storage
	StorageType   string
	DatabaseURL   string
	SQLitePath    string
	MigrationsDir string

	// Redis (optional, fans feedback out to websocket subscribers)
	RedisURL string

	// Gemini AI (optional, a stub tap classifier is used without a key)
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	TapStubApprovalRate  float64

	// Lesson timing
	RecordingTick      time.Duration
	ValidationInterval time.Duration
	AdvanceDelay       time.Duration
	HintAfterFailures  int
	SessionTTL         time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		StorageType:          getEnvOrDefault("STORAGE_TYPE", "postgres"),
		SQLitePath:           getEnvOrDefault("SQLITE_PATH", "./lessons.db"),
		MigrationsDir:        getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		TapStubApprovalRate:  getEnvAsFloatOrDefault("TAP_STUB_APPROVAL_RATE", 0.7),
		RecordingTick:        getEnvAsDurationOrDefault("RECORDING_TICK", time.Second),
		ValidationInterval:   getEnvAsDurationOrDefault("VALIDATION_INTERVAL", 3*time.Second),
		AdvanceDelay:         getEnvAsDurationOrDefault("ADVANCE_DELAY", 2*time.Second),
		HintAfterFailures:    getEnvAsIntOrDefault("HINT_AFTER_FAILURES", 3),
		SessionTTL:           getEnvAsDurationOrDefault("SESSION_TTL", time.Hour),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	switch cfg.StorageType {
	case "postgres":
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	case "sqlite":
	default:
		panic(fmt.Sprintf("unsupported STORAGE_TYPE %q (want postgres or sqlite)", cfg.StorageType))
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvAsDurationOrDefault accepts Go duration strings ("3s") or plain
// milliseconds ("3000").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
