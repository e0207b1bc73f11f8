package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderDefaults(t *testing.T) {
	provider := NewEnvProvider()

	creds, err := provider.DatabaseCredentials(context.Background(), "semcache")
	require.NoError(t, err)
	assert.Equal(t, "localhost", creds.Host)
	assert.Equal(t, 5432, creds.Port)
	assert.Equal(t, "postgres", creds.Username)
	assert.Equal(t, "semcache", creds.Database)
}

func TestEnvProviderReadsEnv(t *testing.T) {
	t.Setenv("SEMCACHE_DB_HOST", "db.internal")
	t.Setenv("SEMCACHE_DB_PORT", "5433")
	t.Setenv("SEMCACHE_DB_USER", "cache")
	t.Setenv("SEMCACHE_DB_PASSWORD", "secret")
	t.Setenv("SEMCACHE_DB_NAME", "cache_prod")

	creds, err := NewEnvProvider().DatabaseCredentials(context.Background(), "semcache")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", creds.Host)
	assert.Equal(t, 5433, creds.Port)
	assert.Equal(t, "cache", creds.Username)
	assert.Equal(t, "secret", creds.Password)
	assert.Equal(t, "cache_prod", creds.Database)
}

func TestEnvProviderRejectsBadPort(t *testing.T) {
	t.Setenv("SEMCACHE_DB_PORT", "not-a-port")

	_, err := NewEnvProvider().DatabaseCredentials(context.Background(), "semcache")
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	provider := NewStaticProvider(map[string]DatabaseCredentials{
		"primary": {Host: "a", Port: 5432, Username: "u", Database: "d"},
	})

	creds, err := provider.DatabaseCredentials(context.Background(), "primary")
	require.NoError(t, err)
	assert.Equal(t, "a", creds.Host)

	_, err = provider.DatabaseCredentials(context.Background(), "missing")
	assert.Error(t, err)

	provider.Set("primary", DatabaseCredentials{Host: "b", Port: 5432, Username: "u", Database: "d"})
	creds, err = provider.DatabaseCredentials(context.Background(), "primary")
	require.NoError(t, err)
	assert.Equal(t, "b", creds.Host, "Set replaces existing credentials")
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   DatabaseCredentials
		wantErr bool
	}{
		{"valid", DatabaseCredentials{Host: "h", Port: 5432, Username: "u", Database: "d"}, false},
		{"missing host", DatabaseCredentials{Port: 5432, Username: "u", Database: "d"}, true},
		{"bad port", DatabaseCredentials{Host: "h", Port: 0, Username: "u", Database: "d"}, true},
		{"missing user", DatabaseCredentials{Host: "h", Port: 5432, Database: "d"}, true},
		{"missing database", DatabaseCredentials{Host: "h", Port: 5432, Username: "u"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
