// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string

	LLMEndpoint string
	LLMModel    string
	LLMAPIKey   string

	VoiceEndpoint string
	VoiceAPIKey   string

	QuotaEndpoint string
	PushEndpoint  string

	BlobDir     string
	BlobBaseURL string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:     getenv("DATABASE_PATH", "./data/newscast.db"),
		LogLevel:         getenv("LOG_LEVEL", "info"),

		LLMEndpoint: getenv("LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		LLMModel:    getenv("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:   os.Getenv("LLM_API_KEY"),

		VoiceEndpoint: getenv("VOICE_ENDPOINT", "https://api.elevenlabs.io"),
		VoiceAPIKey:   os.Getenv("VOICE_API_KEY"),

		QuotaEndpoint: os.Getenv("QUOTA_ENDPOINT"),
		PushEndpoint:  os.Getenv("PUSH_ENDPOINT"),

		BlobDir:     getenv("BLOB_DIR", "./data/episodes"),
		BlobBaseURL: getenv("BLOB_BASE_URL", "http://localhost:8080/episodes"),
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	if cfg.VoiceAPIKey == "" {
		return nil, fmt.Errorf("VOICE_API_KEY is required")
	}
	if cfg.QuotaEndpoint == "" {
		return nil, fmt.Errorf("QUOTA_ENDPOINT is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
