package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads the first .env file found. Variables already present in
// the process environment are never overridden.
func loadEnvFiles() {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", slog.String("file", name), slog.Any("error", err))
			continue
		}
		slog.Debug("Loaded environment variables", slog.String("file", name))
		return
	}
}
