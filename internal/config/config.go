package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Redis (optional)
	RedisURL string `yaml:"redis_url"`

	// JWT
	JWTSecret string `yaml:"jwt_secret"`

	// Gemini AI
	GeminiAPIKey         string `yaml:"gemini_api_key"`
	GeminiModel          string `yaml:"gemini_model"`
	GeminiConcurrentReqs int    `yaml:"gemini_concurrent_requests"`

	// Generation
	GenerationTimeout      time.Duration `yaml:"generation_timeout"`
	GenerationMinQuestions int           `yaml:"generation_min_questions"`
	GenerationMaxQuestions int           `yaml:"generation_max_questions"`
	MaxUploadBytes         int64         `yaml:"max_upload_bytes"`
	GenerateRateLimit      int           `yaml:"generate_rate_limit_per_min"`

	// Grading
	GradingConcurrency   int           `yaml:"grading_concurrency"`
	GradingMaxAttempts   int           `yaml:"grading_max_attempts"`
	GradingRetryInterval time.Duration `yaml:"grading_retry_interval"`
	FreeTextPassRatio    float64       `yaml:"free_text_pass_ratio"`
	SubmitTimeout        time.Duration `yaml:"submit_timeout"`

	// Sessions
	SessionRetention time.Duration `yaml:"session_retention"`

	// Frontend
	FrontendURL string `yaml:"frontend_url"`
}

func defaults() *Config {
	return &Config{
		Port:                   "8080",
		Env:                    "development",
		LogLevel:               "info",
		GeminiModel:            "gemini-2.0-flash",
		GeminiConcurrentReqs:   5,
		GenerationTimeout:      90 * time.Second,
		GenerationMinQuestions: 5,
		GenerationMaxQuestions: 50,
		MaxUploadBytes:         10 << 20,
		GenerateRateLimit:      10,
		GradingConcurrency:     4,
		GradingMaxAttempts:     3,
		GradingRetryInterval:   500 * time.Millisecond,
		FreeTextPassRatio:      0.5,
		SubmitTimeout:          2 * time.Minute,
		SessionRetention:       time.Hour,
		FrontendURL:            "http://localhost:5173",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment (including a .env file), in increasing order of precedence.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.GeminiAPIKey = getEnvOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiConcurrentReqs = getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", cfg.GeminiConcurrentReqs)
	cfg.GenerationTimeout = getEnvAsDurationOrDefault("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	cfg.GenerationMinQuestions = getEnvAsIntOrDefault("GENERATION_MIN_QUESTIONS", cfg.GenerationMinQuestions)
	cfg.GenerationMaxQuestions = getEnvAsIntOrDefault("GENERATION_MAX_QUESTIONS", cfg.GenerationMaxQuestions)
	cfg.MaxUploadBytes = int64(getEnvAsIntOrDefault("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.GenerateRateLimit = getEnvAsIntOrDefault("GENERATE_RATE_LIMIT_PER_MIN", cfg.GenerateRateLimit)
	cfg.GradingConcurrency = getEnvAsIntOrDefault("GRADING_CONCURRENCY", cfg.GradingConcurrency)
	cfg.GradingMaxAttempts = getEnvAsIntOrDefault("GRADING_MAX_ATTEMPTS", cfg.GradingMaxAttempts)
	cfg.GradingRetryInterval = getEnvAsDurationOrDefault("GRADING_RETRY_INTERVAL", cfg.GradingRetryInterval)
	cfg.FreeTextPassRatio = getEnvAsFloatOrDefault("FREE_TEXT_PASS_RATIO", cfg.FreeTextPassRatio)
	cfg.SubmitTimeout = getEnvAsDurationOrDefault("SUBMIT_TIMEOUT", cfg.SubmitTimeout)
	cfg.SessionRetention = getEnvAsDurationOrDefault("SESSION_RETENTION", cfg.SessionRetention)
	cfg.FrontendURL = getEnvOrDefault("FRONTEND_URL", cfg.FrontendURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		key string
		val string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"JWT_SECRET", c.JWTSecret},
		{"GEMINI_API_KEY", c.GeminiAPIKey},
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required environment variable %s is not set", r.key)
		}
	}
	if c.GenerationMinQuestions < 1 || c.GenerationMaxQuestions < c.GenerationMinQuestions {
		return fmt.Errorf("invalid question bounds: min=%d max=%d", c.GenerationMinQuestions, c.GenerationMaxQuestions)
	}
	if c.FreeTextPassRatio < 0 || c.FreeTextPassRatio > 1 {
		return fmt.Errorf("FREE_TEXT_PASS_RATIO must be within [0,1], got %v", c.FreeTextPassRatio)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
