// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Database
	DBDriver    string // "postgres" | "sqlite"
	DatabaseURL string
	SQLitePath  string

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int

	// Redis (notification fan-out); empty keeps events in-process
	RedisURL      string
	NotifyChannel string

	// Routing and rewards
	ZonesFile   string
	RewardsFile string

	// Photo storage
	PhotoBackend   string // "disk" | "minio"
	PhotoDir       string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Persistence and integrity
	PersistTimeout    time.Duration
	IntegrityInterval time.Duration

	MetricsEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "greencredits.db"),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),

		RedisURL:      getEnv("REDIS_URL", ""),
		NotifyChannel: getEnv("NOTIFY_CHANNEL", "greencredits:events"),

		ZonesFile:   getEnv("ZONES_FILE", ""),
		RewardsFile: getEnv("REWARDS_FILE", ""),

		PhotoBackend:   strings.ToLower(getEnv("PHOTO_BACKEND", "disk")),
		PhotoDir:       getEnv("PHOTO_DIR", "uploads"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "report-photos"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		PersistTimeout:    getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
		IntegrityInterval: getEnvDuration("INTEGRITY_INTERVAL", 5*time.Minute),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field combinations that cannot work.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.PhotoBackend {
	case "disk":
	case "minio":
		if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when PHOTO_BACKEND=minio")
		}
	default:
		return fmt.Errorf("unsupported PHOTO_BACKEND %q", c.PhotoBackend)
	}

	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive")
	}
	if c.IntegrityInterval <= 0 {
		return fmt.Errorf("INTEGRITY_INTERVAL must be positive")
	}

	// Validate required fields in production
	if c.Environment == "production" {
		if c.DBDriver != "postgres" {
			return fmt.Errorf("DB_DRIVER=postgres is required in production")
		}
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
