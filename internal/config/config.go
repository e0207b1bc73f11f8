// Package config loads semcache configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dev.helix.semcache/internal/models"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Sweeper  SweeperConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig points at the PostgreSQL/pgvector backend. Credential fields
// left empty here are filled in from the credential provider at connect time.
type DatabaseConfig struct {
	CredentialName  string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	AcquireTimeout  time.Duration
}

// RedisConfig points at the remote knowledge source backing the global layer.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type CacheConfig struct {
	// FallbackOrder is the configured layer sequence consulted when routing
	// is ambiguous, and offered to callers that cascade on a miss.
	FallbackOrder []models.Layer
	// OperationTimeout bounds every single layer operation.
	OperationTimeout time.Duration
	DefaultTTL       time.Duration
	PredictiveTTL    time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64
	// SemanticThreshold is the default similarity floor for semantic search.
	SemanticThreshold float64
	// GlobalFallbackEnabled lets the global layer serve stale local entries
	// when the remote knowledge source is unreachable.
	GlobalFallbackEnabled bool
}

type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load builds the configuration from environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SEMCACHE_PORT", "8090"),
			ReadTimeout:  getDurationEnv("SEMCACHE_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SEMCACHE_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			CredentialName:  getEnv("SEMCACHE_DB_CREDENTIAL", "semcache"),
			SSLMode:         getEnv("SEMCACHE_DB_SSLMODE", "disable"),
			MaxConns:        int32(getIntEnv("SEMCACHE_DB_MAX_CONNS", 10)),
			MinConns:        int32(getIntEnv("SEMCACHE_DB_MIN_CONNS", 2)),
			MaxConnLifetime: getDurationEnv("SEMCACHE_DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getDurationEnv("SEMCACHE_DB_MAX_CONN_IDLE", 30*time.Minute),
			ConnectTimeout:  getDurationEnv("SEMCACHE_DB_CONNECT_TIMEOUT", 30*time.Second),
			AcquireTimeout:  getDurationEnv("SEMCACHE_DB_ACQUIRE_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("SEMCACHE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("SEMCACHE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("SEMCACHE_REDIS_DB", 0),
			Enabled:  getBoolEnv("SEMCACHE_REDIS_ENABLED", true),
		},
		Cache: CacheConfig{
			FallbackOrder:         parseFallbackOrder(getEnv("SEMCACHE_FALLBACK_ORDER", "")),
			OperationTimeout:      getDurationEnv("SEMCACHE_OP_TIMEOUT", 30*time.Second),
			DefaultTTL:            getDurationEnv("SEMCACHE_DEFAULT_TTL", 30*time.Minute),
			PredictiveTTL:         getDurationEnv("SEMCACHE_PREDICTIVE_TTL", 5*time.Minute),
			MaxRetries:            getIntEnv("SEMCACHE_MAX_RETRIES", 3),
			RetryBaseDelay:        getDurationEnv("SEMCACHE_RETRY_BASE_DELAY", 100*time.Millisecond),
			RetryMultiplier:       getFloatEnv("SEMCACHE_RETRY_MULTIPLIER", 2.0),
			SemanticThreshold:     getFloatEnv("SEMCACHE_SEMANTIC_THRESHOLD", 0.8),
			GlobalFallbackEnabled: getBoolEnv("SEMCACHE_GLOBAL_FALLBACK", true),
		},
		Sweeper: SweeperConfig{
			Enabled:  getBoolEnv("SEMCACHE_SWEEPER_ENABLED", true),
			Interval: getDurationEnv("SEMCACHE_SWEEPER_INTERVAL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Cache.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.Cache.MaxRetries)
	}
	if c.Cache.RetryMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %g", c.Cache.RetryMultiplier)
	}
	if c.Cache.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database pool must allow at least one connection")
	}
	for _, l := range c.Cache.FallbackOrder {
		if !l.Valid() {
			return fmt.Errorf("invalid layer %q in fallback order", l)
		}
	}
	if len(c.Cache.FallbackOrder) == 0 {
		return fmt.Errorf("fallback order must not be empty")
	}
	return nil
}

// DefaultFallbackOrder is the layer sequence used when none is configured.
func DefaultFallbackOrder() []models.Layer {
	return []models.Layer{
		models.LayerPredictive,
		models.LayerSemantic,
		models.LayerVector,
		models.LayerGlobal,
	}
}

func parseFallbackOrder(raw string) []models.Layer {
	if raw == "" {
		return DefaultFallbackOrder()
	}
	parts := strings.Split(raw, ",")
	order := make([]models.Layer, 0, len(parts))
	for _, p := range parts {
		order = append(order, models.Layer(strings.TrimSpace(p)))
	}
	return order
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
