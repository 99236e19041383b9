package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the auction engine.
type Config struct {
	Port          string
	Env           string // "production" disables pretty logging
	Debug         bool
	DatabasePath  string
	JWTSecret     string
	SweepInterval time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// Load reads configuration from the environment, seeded by a .env file
// when one is present. Missing keys fall back to development defaults.
func Load() Config {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	return Config{
		Port:          getenv("PORT", "8080"),
		Env:           getenv("ENV", "development"),
		Debug:         getenvBool("DEBUG", false),
		DatabasePath:  getenv("DATABASE_PATH", "auctions.db"),
		JWTSecret:     getenv("JWT_SECRET", "ewaste-dev-secret"),
		SweepInterval: getenvDuration("SWEEP_INTERVAL", time.Minute),
	}
}
