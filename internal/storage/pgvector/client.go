// Package pgvector backs the cache layers with PostgreSQL and the pgvector
// extension. One table per layer; the shared connection pool is bounded and
// process-wide.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/credentials"
)

// Config holds pool and connection settings. Host, user and password come
// from the credential provider at connect time, not from here.
type Config struct {
	CredentialName  string        `json:"credential_name"`
	SSLMode         string        `json:"ssl_mode"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	AcquireTimeout  time.Duration `json:"acquire_timeout"`
}

// DefaultConfig returns default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		CredentialName:  "semcache",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectTimeout:  30 * time.Second,
		AcquireTimeout:  5 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CredentialName == "" {
		return fmt.Errorf("credential name is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("pool must allow at least one connection")
	}
	return nil
}

// Client manages the shared pgx pool for all layer stores.
type Client struct {
	config   *Config
	provider credentials.Provider
	logger   *logrus.Logger

	mu        sync.RWMutex
	pool      *pgxpool.Pool
	connected bool
}

// NewClient creates a client. Credentials are resolved lazily on Connect so
// rotation picks up fresh values on every reconnect.
func NewClient(config *Config, provider credentials.Provider, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{config: config, provider: provider, logger: logger}, nil
}

// Connect fetches credentials, establishes the pool and ensures the pgvector
// extension exists.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	creds, err := c.provider.DatabaseCredentials(ctx, c.config.CredentialName)
	if err != nil {
		return fmt.Errorf("failed to resolve database credentials: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(c.connectionString(creds))
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = c.config.MaxConns
	poolConfig.MinConns = c.config.MinConns
	poolConfig.MaxConnLifetime = c.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.config.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}

	if c.pool != nil {
		c.pool.Close()
	}
	c.pool = pool
	c.connected = true
	c.logger.WithField("database", creds.Database).Info("Connected to PostgreSQL with pgvector")
	return nil
}

// Reconnect tears the pool down and connects again with freshly resolved
// credentials. Serves both the reconnect and permission-retry recovery paths.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	c.connected = false
	return c.connectLocked(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	c.connected = false
	return nil
}

// IsConnected returns whether the client holds a live pool.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck pings the database.
func (c *Client) HealthCheck(ctx context.Context) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Pool returns the underlying pool for advanced operations.
func (c *Client) Pool() *pgxpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

func (c *Client) acquirePool() (*pgxpool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.pool == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.pool, nil
}

func (c *Client) connectionString(creds credentials.DatabaseCredentials) string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
		creds.Host, creds.Port, creds.Username, creds.Database)
	if creds.Password != "" {
		connStr += fmt.Sprintf(" password=%s", creds.Password)
	}
	if c.config.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", c.config.SSLMode)
	}
	if c.config.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", int(c.config.ConnectTimeout.Seconds()))
	}
	return connStr
}

// vectorToString converts a float32 slice to pgvector text format.
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector converts pgvector text format back into a float32 slice.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
