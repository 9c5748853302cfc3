package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port int

	// Scripted match; empty selects the embedded catalog.
	CatalogPath string

	// Session journal (SQLite). Empty disables it.
	JournalPath    string
	JournalMaxRows int

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment without consulting .env.
func FromEnv() *Config {
	return &Config{
		Port: envInt("PORT", 3001),

		CatalogPath: envStr("CATALOG_PATH", ""),

		JournalPath:    envStr("JOURNAL_PATH", "data/sessions.db"),
		JournalMaxRows: envInt("JOURNAL_MAX_ROWS", 100000),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
