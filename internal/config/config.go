package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Generation provider
	ImagenAPIKey         string
	ImagenAPIBaseURL     string
	ImagenGenerateModel  string
	ImagenEditModel      string
	ImagenRemoveModel    string
	ImagenRequestTimeout time.Duration

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseJWTSecret     string
	SupabaseStorageBucket string

	// Database
	DatabaseURL string

	// Job runtime
	RedisURL          string
	JobTimeout        time.Duration
	JobMaxRetry       int
	WorkerConcurrency int

	// Server
	Port        string
	Environment string
	RateLimit   string
}

func Load() (*Config, error) {
	// A missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("IMAGEN_REQUEST_TIMEOUT", "5m")
	v.SetDefault("JOB_TIMEOUT", "10m")
	v.SetDefault("JOB_MAX_RETRY", 3)
	v.SetDefault("WORKER_CONCURRENCY", 4)

	cfg := &Config{
		ImagenAPIKey:         getEnv("IMAGEN_API_KEY", ""),
		ImagenAPIBaseURL:     getEnv("IMAGEN_API_BASE_URL", "https://api.imagen-ai.com/v1/"),
		ImagenGenerateModel:  getEnv("IMAGEN_GENERATE_MODEL", "interior-staging-v2"),
		ImagenEditModel:      getEnv("IMAGEN_EDIT_MODEL", "instruct-edit-v1"),
		ImagenRemoveModel:    getEnv("IMAGEN_REMOVE_MODEL", "object-removal-v1"),
		ImagenRequestTimeout: v.GetDuration("IMAGEN_REQUEST_TIMEOUT"),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseJWTSecret:     getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "project-images"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JobTimeout:        v.GetDuration("JOB_TIMEOUT"),
		JobMaxRetry:       v.GetInt("JOB_MAX_RETRY"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RateLimit:   getEnv("RATE_LIMIT", "30-M"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ImagenAPIKey == "" {
		return fmt.Errorf("IMAGEN_API_KEY is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.JobMaxRetry < 0 {
		return fmt.Errorf("JOB_MAX_RETRY must not be negative")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
