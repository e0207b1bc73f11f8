// Package credentials abstracts the secret provider that hands out database
// connection parameters. The cache never reads raw secrets itself; it asks a
// Provider by credential name so rotation happens outside this process.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DatabaseCredentials are the connection parameters for one named database.
type DatabaseCredentials struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Validate checks that the credentials are usable.
func (c DatabaseCredentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid port")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// Provider hands out database credentials by name. Implementations may defer
// to the environment, Vault, or a static fixture.
type Provider interface {
	DatabaseCredentials(ctx context.Context, name string) (DatabaseCredentials, error)
}

// EnvProvider resolves credentials from environment variables. For a
// credential named "semcache" it reads SEMCACHE_DB_HOST, SEMCACHE_DB_PORT,
// SEMCACHE_DB_USER, SEMCACHE_DB_PASSWORD and SEMCACHE_DB_NAME.
type EnvProvider struct{}

// NewEnvProvider creates an environment-backed credential provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) DatabaseCredentials(_ context.Context, name string) (DatabaseCredentials, error) {
	prefix := strings.ToUpper(name) + "_DB"
	port := 5432
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return DatabaseCredentials{}, fmt.Errorf("invalid %s_PORT: %w", prefix, err)
		}
		port = n
	}
	creds := DatabaseCredentials{
		Host:     envOr(prefix+"_HOST", "localhost"),
		Port:     port,
		Username: envOr(prefix+"_USER", "postgres"),
		Password: os.Getenv(prefix + "_PASSWORD"),
		Database: envOr(prefix+"_NAME", "semcache"),
	}
	if err := creds.Validate(); err != nil {
		return DatabaseCredentials{}, fmt.Errorf("credentials %q: %w", name, err)
	}
	return creds, nil
}

// StaticProvider serves fixed credentials, primarily for tests.
type StaticProvider struct {
	mu    sync.RWMutex
	creds map[string]DatabaseCredentials
}

// NewStaticProvider creates a provider preloaded with the given credentials.
func NewStaticProvider(creds map[string]DatabaseCredentials) *StaticProvider {
	cp := make(map[string]DatabaseCredentials, len(creds))
	for k, v := range creds {
		cp[k] = v
	}
	return &StaticProvider{creds: cp}
}

func (p *StaticProvider) DatabaseCredentials(_ context.Context, name string) (DatabaseCredentials, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	creds, ok := p.creds[name]
	if !ok {
		return DatabaseCredentials{}, fmt.Errorf("no credentials registered for %q", name)
	}
	return creds, nil
}

// Set registers or replaces credentials under a name.
func (p *StaticProvider) Set(name string, creds DatabaseCredentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[name] = creds
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
