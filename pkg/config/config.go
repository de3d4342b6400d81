package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the orchestration core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Coordination store. Empty RedisAddr selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Venue connection
	VenueWSURL      string
	FallbackBaseURL string

	// Session defaults file (yaml)
	SessionDefaultsPath string

	// Timing knobs
	ScanInterval    time.Duration
	SyncInterval    time.Duration
	WatchdogTimeout time.Duration
	StopGrace       time.Duration

	// Auth
	JWTSecret string

	// Push notifications
	ExpoPushURL string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/options-core.db"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		VenueWSURL:          getEnv("VENUE_WS_URL", "wss://ws.trade.example.com/echo/websocket"),
		FallbackBaseURL:     getEnv("FALLBACK_BASE_URL", ""),
		SessionDefaultsPath: getEnv("SESSION_DEFAULTS_PATH", "./session_defaults.yaml"),
		ScanInterval:        getEnvDuration("SCAN_INTERVAL", 5*time.Second),
		SyncInterval:        getEnvDuration("SYNC_INTERVAL", time.Second),
		WatchdogTimeout:     getEnvDuration("WATCHDOG_TIMEOUT", 30*time.Second),
		StopGrace:           getEnvDuration("STOP_GRACE", 5*time.Second),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		ExpoPushURL:         getEnv("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
