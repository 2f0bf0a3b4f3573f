package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Storage
	StoragePath string // Root directory for ritual documents and audio artifacts

	// OpenAI (used for ritual text generation)
	OpenAIKey string

	// ElevenLabs TTS
	ElevenLabsKey string

	// Google Gemini TTS
	GeminiKey string

	// Defaults applied when requests omit them
	DefaultVoiceID  string
	DefaultProvider string

	// Janitor
	TempAudioTTLHours int // Ad-hoc synthesis artifacts older than this are pruned
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		StoragePath:        getEnv("STORAGE_PATH", "storage"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		ElevenLabsKey:      getEnv("ELEVENLABS_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		DefaultVoiceID:     getEnv("DEFAULT_VOICE_ID", "sarah"),
		DefaultProvider:    getEnv("DEFAULT_TTS_PROVIDER", "elevenlabs"),
		TempAudioTTLHours:  getEnvInt("TEMP_AUDIO_TTL_HOURS", 24),
	}

	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("STORAGE_PATH must not be empty")
	}

	// API keys are optional at startup: a provider without a key reports
	// itself unavailable instead of failing boot, so the CRUD surface keeps
	// working without any credentials configured.

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
