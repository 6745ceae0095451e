package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// This package is the only place that reads environment variables.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production, test

	// Storage
	Storage  StorageConfig
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Certificate images
	Blob BlobConfig

	// Certificate listing source
	Scraper ScraperConfig

	// Vision extraction provider
	Provider ProviderConfig

	// Ranking snapshots
	Ranking RankingConfig

	// Scheduler
	Schedule ScheduleConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// StorageConfig selects the relational backend.
type StorageConfig struct {
	Driver     string // sqlite, postgres
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// BlobConfig configures the content-addressed image store.
type BlobConfig struct {
	Driver      string // fs, s3, memory
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// ScraperConfig configures the certificate listing scraper.
type ScraperConfig struct {
	BaseURL    string
	PageDelay  time.Duration
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// ProviderConfig configures the vision extraction provider.
type ProviderConfig struct {
	Name         string // openai, anthropic, gemini, openrouter, ollama
	APIKey       string
	Model        string
	BaseURL      string
	Timeout      time.Duration
	Concurrency  int
	RPM          int
	CostPerImage float64 // 0 keeps the variant default
}

// RankingConfig configures snapshot retention.
type RankingConfig struct {
	KeepLast int
}

// ScheduleConfig holds cron expressions (with seconds field).
type ScheduleConfig struct {
	Update    string
	Retention string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Storage: StorageConfig{
			Driver:     getEnv("STORAGE_DRIVER", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", "data/coarank.db"),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Blob: BlobConfig{
			Driver:      getEnv("BLOB_DRIVER", "fs"),
			FSRoot:      getEnv("BLOB_FS_ROOT", "data/images"),
			S3Bucket:    getEnv("BLOB_S3_BUCKET", ""),
			S3Region:    getEnv("BLOB_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("BLOB_S3_ENDPOINT", ""),
			S3PathStyle: getEnvAsBool("BLOB_S3_PATH_STYLE", false),
		},

		Scraper: ScraperConfig{
			BaseURL:    getEnv("SCRAPER_BASE_URL", "https://janoshik.com/public/"),
			PageDelay:  getEnvAsDuration("SCRAPER_PAGE_DELAY", "1s"),
			Timeout:    getEnvAsDuration("SCRAPER_TIMEOUT", "30s"),
			MaxRetries: getEnvAsInt("SCRAPER_MAX_RETRIES", 3),
			UserAgent:  getEnv("SCRAPER_USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"),
		},

		Provider: ProviderConfig{
			Name:         getEnv("PROVIDER", "gemini"),
			APIKey:       getEnv("PROVIDER_API_KEY", ""),
			Model:        getEnv("PROVIDER_MODEL", ""),
			BaseURL:      getEnv("PROVIDER_BASE_URL", ""),
			Timeout:      getEnvAsDuration("PROVIDER_TIMEOUT", "90s"),
			Concurrency:  getEnvAsInt("PROVIDER_CONCURRENCY", 2),
			RPM:          getEnvAsInt("PROVIDER_RPM", 10),
			CostPerImage: getEnvAsFloat("PROVIDER_COST_PER_IMAGE", 0),
		},

		Ranking: RankingConfig{
			KeepLast: getEnvAsInt("RANKING_KEEP_LAST", 10),
		},

		Schedule: ScheduleConfig{
			Update:    getEnv("SCHEDULE_UPDATE", "0 0 3 * * *"),
			Retention: getEnv("SCHEDULE_RETENTION", "0 30 3 * * 0"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be one of: development, staging, production, test")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of: sqlite, postgres")
	}

	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required for the s3 driver")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be one of: fs, s3, memory")
	}

	switch c.Provider.Name {
	case "openai", "anthropic", "gemini", "openrouter", "ollama":
	default:
		return fmt.Errorf("PROVIDER must be one of: openai, anthropic, gemini, openrouter, ollama")
	}

	if c.Provider.Concurrency < 1 {
		return fmt.Errorf("PROVIDER_CONCURRENCY must be at least 1")
	}

	if c.Ranking.KeepLast < 1 {
		return fmt.Errorf("RANKING_KEEP_LAST must be at least 1")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
