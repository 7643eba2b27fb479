package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv  string
	Port    string
	DataDir string

	AzureEndpoint string
	AzureAPIKey   string
	APIVersion    string
	SoraModel     string

	EnhancerEndpoint   string
	EnhancerAPIKey     string
	EnhancerDeployment string
	EnhancerAPIVersion string

	MaxConcurrent       int
	AdmissionInterval   time.Duration
	PollInterval        time.Duration
	PollMaxAttempts     int
	MaxRetries          int
	BaseRetryDelay      time.Duration
	RateLimitRetryDelay time.Duration
	SaveDebounce        time.Duration

	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		Port:    getEnv("PORT", "8080"),
		DataDir: getEnv("DATA_DIR", "./data"),

		AzureEndpoint: strings.TrimRight(os.Getenv("AZURE_ENDPOINT"), "/"),
		AzureAPIKey:   os.Getenv("AZURE_API_KEY"),
		APIVersion:    getEnv("API_VERSION", "preview"),
		SoraModel:     getEnv("SORA_MODEL", "sora"),

		EnhancerEndpoint:   strings.TrimRight(os.Getenv("O4_MINI_ENDPOINT"), "/"),
		EnhancerAPIKey:     os.Getenv("O4_MINI_API_KEY"),
		EnhancerDeployment: getEnv("O4_MINI_DEPLOYMENT", "o4-mini"),
		EnhancerAPIVersion: getEnv("O4_MINI_API_VERSION", "2024-12-01-preview"),

		MaxConcurrent:       getEnvInt("QUEUE_MAX_CONCURRENT", 3),
		AdmissionInterval:   time.Second * time.Duration(getEnvInt("QUEUE_ADMISSION_INTERVAL_SECONDS", 2)),
		PollInterval:        time.Second * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_SECONDS", 5)),
		PollMaxAttempts:     getEnvInt("QUEUE_POLL_MAX_ATTEMPTS", 120),
		MaxRetries:          getEnvInt("QUEUE_MAX_RETRIES", 5),
		BaseRetryDelay:      time.Second * time.Duration(getEnvInt("QUEUE_BASE_RETRY_DELAY_SECONDS", 5)),
		RateLimitRetryDelay: time.Second * time.Duration(getEnvInt("QUEUE_RATE_LIMIT_RETRY_DELAY_SECONDS", 60)),
		SaveDebounce:        time.Millisecond * time.Duration(getEnvInt("QUEUE_SAVE_DEBOUNCE_MS", 500)),

		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.AzureEndpoint == "" {
		return nil, fmt.Errorf("AZURE_ENDPOINT is required")
	}

	if cfg.AzureAPIKey == "" {
		return nil, fmt.Errorf("AZURE_API_KEY is required")
	}

	// The enhancer shares the generation credentials unless overridden.
	if cfg.EnhancerEndpoint == "" {
		cfg.EnhancerEndpoint = cfg.AzureEndpoint
	}
	if cfg.EnhancerAPIKey == "" {
		cfg.EnhancerAPIKey = cfg.AzureAPIKey
	}

	return cfg, nil
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

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
