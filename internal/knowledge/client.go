// Package knowledge implements the remote knowledge source consulted by the
// global cache layer. Entries live in Redis under a shared namespace so
// multiple cache instances see the same knowledge base.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
)

// Config holds the Redis connection settings for the knowledge source.
type Config struct {
	Addr      string        `json:"addr"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	Namespace string        `json:"namespace"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultConfig returns default knowledge source configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:      "localhost:6379",
		Namespace: "knowledge",
		Timeout:   5 * time.Second,
	}
}

// Client reads and publishes knowledge entries.
type Client struct {
	rdb       *redis.Client
	namespace string
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewClient creates a knowledge client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	ns := config.Namespace
	if ns == "" {
		ns = "knowledge"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{rdb: rdb, namespace: ns, timeout: timeout, logger: logger}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Lookup fetches a knowledge entry. Absence is (nil, nil). Transport errors
// come back classified as network failures so recovery can switch the layer
// to its offline path.
func (c *Client) Lookup(ctx context.Context, key string) (*models.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, c.namespace+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, recovery.NewFailure(recovery.KindNetwork, "knowledge lookup", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, recovery.NewFailure(recovery.KindCorruption, "knowledge lookup",
			fmt.Errorf("undecodable knowledge entry %q: %w", key, err))
	}
	return &entry, nil
}

// Publish stores a knowledge entry with the given TTL. A zero TTL publishes
// without expiry.
func (c *Client) Publish(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode knowledge entry: %w", err)
	}
	if err := c.rdb.Set(ctx, c.namespace+":"+entry.Key, raw, ttl).Err(); err != nil {
		return recovery.NewFailure(recovery.KindNetwork, "knowledge publish", err)
	}
	return nil
}

// Forget removes a knowledge entry.
func (c *Client) Forget(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Del(ctx, c.namespace+":"+key).Err(); err != nil {
		return recovery.NewFailure(recovery.KindNetwork, "knowledge forget", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
