package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	StoragePath    string
	StorageBaseURL string
	ShareBaseURL   string

	// Engine-side settings.
	StatePath      string
	BackendBaseURL string

	// Content-generation collaborator.
	GenBaseURL string
	GenAPIKey  string
	GenModel   string

	// Text-generation collaborator.
	TextBaseURL string
	TextAPIKey  string
	TextModel   string

	MaxSectionRetries int
	PollInterval      time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is only required by the api binary;
// callers that need it must check RequireDatabase.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:8080/assets"),
		ShareBaseURL:      getEnv("SHARE_BASE_URL", "http://localhost:8080/cards"),
		StatePath:         getEnv("STATE_PATH", "./state"),
		BackendBaseURL:    getEnv("BACKEND_BASE_URL", "http://localhost:8080"),
		GenBaseURL:        getEnv("GEN_BASE_URL", "https://api.generation.example.com/v1"),
		GenAPIKey:         os.Getenv("GEN_API_KEY"),
		GenModel:          getEnv("GEN_MODEL", "image-gen-3"),
		TextBaseURL:       getEnv("TEXT_BASE_URL", "https://api.textgen.example.com/v1"),
		TextAPIKey:        os.Getenv("TEXT_API_KEY"),
		TextModel:         getEnv("TEXT_MODEL", "text-gen-medium"),
		MaxSectionRetries: getEnvInt("MAX_SECTION_RETRIES", 2),
		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.MaxSectionRetries < 0 {
		cfg.MaxSectionRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}

	return cfg, nil
}

// RequireDatabase validates that a database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
