package pgvector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.semcache/internal/credentials"
	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"missing credential name", func(c *Config) { c.CredentialName = "" }, true},
		{"zero connections", func(c *Config) { c.MaxConns = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	provider := credentials.NewStaticProvider(nil)

	_, err := NewClient(&Config{}, provider, nil)
	assert.Error(t, err)

	client, err := NewClient(nil, provider, nil)
	require.NoError(t, err, "nil config falls back to defaults")
	assert.NotNil(t, client)
}

func TestConnectionString(t *testing.T) {
	provider := credentials.NewStaticProvider(nil)
	client, err := NewClient(DefaultConfig(), provider, nil)
	require.NoError(t, err)

	got := client.connectionString(credentials.DatabaseCredentials{
		Host:     "db.internal",
		Port:     5433,
		Username: "cache",
		Password: "s3cret",
		Database: "semcache",
	})
	assert.Contains(t, got, "host=db.internal")
	assert.Contains(t, got, "port=5433")
	assert.Contains(t, got, "user=cache")
	assert.Contains(t, got, "password=s3cret")
	assert.Contains(t, got, "dbname=semcache")
	assert.Contains(t, got, "sslmode=disable")

	noPassword := client.connectionString(credentials.DatabaseCredentials{
		Host: "h", Port: 5432, Username: "u", Database: "d",
	})
	assert.NotContains(t, noPassword, "password=")
}

func TestVectorToString(t *testing.T) {
	assert.Equal(t, "[]", vectorToString(nil))
	assert.Equal(t, "[1,0.5,-2]", vectorToString([]float32{1, 0.5, -2}))
}

func TestParseVector(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := []float32{0.25, -1, 3.5, 0}
		out, err := parseVector(vectorToString(in))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("empty", func(t *testing.T) {
		out, err := parseVector("[]")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("whitespace tolerated", func(t *testing.T) {
		out, err := parseVector(" [1, 2, 3] ")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, out)
	})

	t.Run("malformed literals", func(t *testing.T) {
		for _, input := range []string{"", "1,2,3", "[1,2", "[a,b]"} {
			_, err := parseVector(input)
			assert.Error(t, err, "input %q", input)
		}
	})
}

func TestStoreFailsClassifiedWhenDisconnected(t *testing.T) {
	provider := credentials.NewStaticProvider(nil)
	client, err := NewClient(DefaultConfig(), provider, nil)
	require.NoError(t, err)

	store := NewStore(client, models.LayerSemantic)
	ctx := context.Background()

	_, gerr := store.Get(ctx, "k")
	assert.Equal(t, recovery.KindConnection, recovery.Classify(gerr),
		"operations on a disconnected client classify as connection failures")

	serr := store.Set(ctx, &models.CacheEntry{Key: "k"})
	assert.Equal(t, recovery.KindConnection, recovery.Classify(serr))
}

func TestClientLifecycleWithoutConnection(t *testing.T) {
	provider := credentials.NewStaticProvider(nil)
	client, err := NewClient(DefaultConfig(), provider, nil)
	require.NoError(t, err)

	assert.False(t, client.IsConnected())
	assert.Nil(t, client.Pool())
	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close(), "closing an unconnected client is a no-op")
}
