// Package config loads gemprompt settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultEnvFile  = ".env"
	DefaultModel    = "gemini-2.0-flash"
	DefaultLogLevel = "info"
)

type Config struct {
	// APIKey is the Gemini credential (GOOGLE_API_KEY). It may be empty;
	// the responder reports that as a failure.
	APIKey string

	// Model is the Gemini model used for every prompt (GEMINI_MODEL).
	Model string

	// LogLevel is the zerolog level name (LOG_LEVEL).
	LogLevel string

	// TelegramSecret is the bot token for the telegram frontend (TELEGRAM_SECRET).
	TelegramSecret string

	// AllowedUserID restricts the telegram frontend to one sender (USER_ID).
	// 0 means anyone may use the bot.
	AllowedUserID int64

	// EnvFile is the .env path values were loaded from and setup writes to.
	EnvFile string
}

// Load reads envFile (if it exists) into the environment without overriding
// variables already set, then builds a Config from the environment.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	userID, err := envInt64("USER_ID")
	if err != nil {
		return nil, err
	}

	return &Config{
		APIKey:         strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		Model:          envOr("GEMINI_MODEL", DefaultModel),
		LogLevel:       strings.ToLower(envOr("LOG_LEVEL", DefaultLogLevel)),
		TelegramSecret: strings.TrimSpace(os.Getenv("TELEGRAM_SECRET")),
		AllowedUserID:  userID,
		EnvFile:        envFile,
	}, nil
}

// TelegramEnabled returns true if a bot token is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramSecret != ""
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}
