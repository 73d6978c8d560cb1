package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. It is loaded once at process start
// and handed to components at construction time; nothing mutates it after Load.
type Config struct {
	DatabaseURL  string
	GeminiAPIKey string
	GeminiModel  string
	HTTPPort     string
	LogLevel     string
	Environment  string
	CORSOrigins  []string
	LLMTimeout   time.Duration
	StoreTimeout time.Duration
}

func Load() Config {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return Config{
		DatabaseURL:  getEnv("DATABASE_URL", "fnol_observability.db"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		Environment:  getEnv("ENVIRONMENT", "production"),
		CORSOrigins:  getEnvAsList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LLMTimeout:   getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
