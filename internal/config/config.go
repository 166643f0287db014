// Package config provides configuration loading for the vCon registry.
// Settings come from the environment, with .env files filling gaps in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads .env and .env.local when present. godotenv never overrides
// variables already set in the process environment.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the registry service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL connection string; empty selects the in-memory store

	RedisURL string        // Redis URL for the document read cache; empty disables it
	CacheTTL time.Duration // Lifetime of cached documents

	EventBackend string // "nats", "amqp" or "none"
	NATSURL      string // NATS server URL
	AMQPURL      string // RabbitMQ URL
	AMQPExchange string // Topic exchange vCon events are published to

	S3Endpoint  string // S3-compatible archive endpoint
	S3Region    string // S3 region
	S3Bucket    string // Archive bucket; empty disables archiving
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key

	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
	JWKSURL     string // JWKS endpoint; empty selects test-mode verification

	MaxDocumentSize int64 // Maximum ingest body size in bytes

	DefaultListLimit int // Page size when no limit is given
	MaxListLimit     int // Upper bound on the requested page size

	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort            = "8080"
	defaultS3Region        = "us-east-1"
	defaultEnv             = "dev"
	defaultEventBackend    = "nats"
	defaultAMQPExchange    = "vcon.events"
	defaultCacheTTL        = 5 * time.Minute
	defaultMaxDocumentSize = 10 * 1024 * 1024
	defaultListLimit       = 25
	defaultMaxListLimit    = 100
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// VCON_JWT_ISSUER and VCON_JWT_AUDIENCE are required.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("VCON_ENV", defaultEnv),
		Port:         getEnv("VCON_PORT", defaultPort),
		DatabaseDSN:  os.Getenv("VCON_DB_DSN"),
		RedisURL:     os.Getenv("VCON_REDIS_URL"),
		EventBackend: strings.ToLower(getEnv("VCON_EVENT_BACKEND", defaultEventBackend)),
		NATSURL:      os.Getenv("VCON_NATS_URL"),
		AMQPURL:      os.Getenv("VCON_AMQP_URL"),
		AMQPExchange: getEnv("VCON_AMQP_EXCHANGE", defaultAMQPExchange),
		S3Endpoint:   os.Getenv("VCON_S3_ENDPOINT"),
		S3Region:     getEnv("VCON_S3_REGION", defaultS3Region),
		S3Bucket:     os.Getenv("VCON_S3_BUCKET"),
		S3AccessKey:  os.Getenv("VCON_S3_ACCESS_KEY"),
		S3SecretKey:  os.Getenv("VCON_S3_SECRET_KEY"),
		JWTIssuer:    os.Getenv("VCON_JWT_ISSUER"),
		JWTAudience:  os.Getenv("VCON_JWT_AUDIENCE"),
		JWKSURL:      os.Getenv("VCON_JWKS_URL"),
	}

	cfg.CacheTTL = defaultCacheTTL
	if v, exists := os.LookupEnv("VCON_CACHE_TTL"); exists {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("VCON_CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = d
	}

	cfg.MaxDocumentSize = defaultMaxDocumentSize
	if v, exists := os.LookupEnv("VCON_MAX_DOCUMENT_SIZE"); exists {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.MaxDocumentSize = size
		}
	}

	cfg.DefaultListLimit = parseInt(os.Getenv("VCON_DEFAULT_LIST_LIMIT"), defaultListLimit)
	cfg.MaxListLimit = parseInt(os.Getenv("VCON_MAX_LIST_LIMIT"), defaultMaxListLimit)
	if cfg.DefaultListLimit > cfg.MaxListLimit {
		cfg.DefaultListLimit = cfg.MaxListLimit
	}

	if corsOrigins, exists := os.LookupEnv("VCON_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(corsOrigins)
	}

	switch cfg.EventBackend {
	case "nats", "amqp", "none":
	default:
		return cfg, fmt.Errorf("VCON_EVENT_BACKEND must be nats, amqp or none, got %q", cfg.EventBackend)
	}

	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("VCON_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("VCON_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseInt returns the positive integer in v, or fallback.
func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
