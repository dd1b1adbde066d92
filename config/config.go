// Package config loads process configuration from the environment and opens
// the external connections it describes.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

// Quote sources.
const (
	QuoteSourceYahoo        = "yahoo"
	QuoteSourceAlphaVantage = "alphavantage"
)

// Config holds application configuration
type Config struct {
	Port    int
	GinMode string

	Database DatabaseConfig
	Redis    RedisConfig

	JWTSecret    string
	AuthRequired bool

	QuoteSource        string
	AlphaVantageAPIKey string
	QuoteCacheTTL      time.Duration
	QuoteConcurrency   int
	SnapshotSchedule   string // cron expression; empty disables the snapshot job

	LogLevel  string
	LogPretty bool
}

// DatabaseConfig selects and locates the SQL store.
type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	URL        string // full postgres DSN, overrides the discrete fields
	Host       string
	User       string
	Password   string
	Name       string
	Port       string
	SSLMode    string
	TimeZone   string
	SQLitePath string
	LogSQL     bool
}

// RedisConfig locates the cache used for quotes and refresh tokens.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

// Load reads configuration from environment variables, after merging a .env
// file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cacheTTL, err := getEnvAsDuration("QUOTE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:    getEnvAsInt("PORT", 8080),
		GinMode: getEnv("GIN_MODE", "release"),
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			URL:        getEnv("DATABASE_URL", ""),
			Host:       getEnv("DB_HOST", "localhost"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			Name:       getEnv("DB_NAME", "portfolio"),
			Port:       getEnv("DB_PORT", "5432"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TimeZone:   getEnv("DB_TIMEZONE", "UTC"),
			SQLitePath: getEnv("SQLITE_PATH", "portfolio.db"),
			LogSQL:     getEnvAsBool("DB_LOG_SQL", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWTSecret:          getEnv("JWT_SECRET", ""),
		AuthRequired:       getEnvAsBool("AUTH_REQUIRED", false),
		QuoteSource:        strings.ToLower(getEnv("QUOTE_SOURCE", QuoteSourceYahoo)),
		AlphaVantageAPIKey: getEnv("ALPHA_VANTAGE_API_KEY", ""),
		QuoteCacheTTL:      cacheTTL,
		QuoteConcurrency:   getEnvAsInt("QUOTE_CONCURRENCY", 8),
		SnapshotSchedule:   getEnv("SNAPSHOT_SCHEDULE", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.QuoteSource {
	case QuoteSourceYahoo:
	case QuoteSourceAlphaVantage:
		if c.AlphaVantageAPIKey == "" {
			return fmt.Errorf("ALPHA_VANTAGE_API_KEY is required when QUOTE_SOURCE=%s", QuoteSourceAlphaVantage)
		}
	default:
		return fmt.Errorf("unsupported QUOTE_SOURCE %q", c.QuoteSource)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.QuoteConcurrency < 1 {
		return fmt.Errorf("QUOTE_CONCURRENCY must be positive, got %d", c.QuoteConcurrency)
	}
	return nil
}

// NewRedis opens the Redis connection and verifies it answers.
func NewRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
