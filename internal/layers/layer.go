// Package layers implements the five cache layers. Each layer wraps a
// primary store plus the in-memory side stores recovery strategies lean on:
// a fallback store for storage failures, an offline copy for network
// failures, and last-known-good backup snapshots for corruption repair.
package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/storage"
)

// Cache is the uniform contract every layer implements. The Op constructors
// produce store-parameterized operations the recovery governor can re-execute
// against an alternate store; the plain methods run the same operation
// directly against the primary store.
type Cache interface {
	recovery.Target

	Get(ctx context.Context, key string) (models.GetResult, error)
	Set(ctx context.Context, key string, value json.RawMessage, opts models.SetOptions) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	GetOp(key string, out *models.GetResult) recovery.Operation
	SetOp(key string, value json.RawMessage, opts models.SetOptions) recovery.Operation
	DeleteOp(key string) recovery.Operation
}

// Searcher is the optional capability of the three vector-bearing layers.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, opts models.SearchOptions) ([]models.SearchMatch, error)
	SearchOp(embedding []float32, opts models.SearchOptions, out *[]models.SearchMatch) recovery.Operation
}

// Options configure a layer.
type Options struct {
	Store storage.Store
	// OpTimeout bounds every single operation against the backing store.
	OpTimeout time.Duration
	// DefaultTTL applies when a Set carries no TTL. Zero means no expiry.
	DefaultTTL time.Duration
	// Threshold is the layer's default similarity floor for searches.
	Threshold float64
	// FallbackMaxSize caps the in-memory side stores.
	FallbackMaxSize int
	// Reconnect reinitializes the primary store's connection.
	Reconnect func(ctx context.Context) error
	// RefreshCredentials re-requests credentials and reconnects.
	RefreshCredentials func(ctx context.Context) error
	Logger             *logrus.Logger
}

const defaultOpTimeout = 30 * time.Second

// base carries the behavior shared by all five layers.
type base struct {
	id           models.Layer
	primary      storage.Store
	fallback     *storage.MemoryStore
	offline      *storage.MemoryStore
	backups      *storage.MemoryStore
	reconnect    func(ctx context.Context) error
	refreshCreds func(ctx context.Context) error
	opTimeout    time.Duration
	defaultTTL   time.Duration
	threshold    float64
	logger       *logrus.Entry
}

func newBase(id models.Layer, opts Options) *base {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	opTimeout := opts.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	primary := opts.Store
	if primary == nil {
		primary = storage.NewMemoryStore(id, 0)
	}
	return &base{
		id:           id,
		primary:      primary,
		fallback:     storage.NewMemoryStore(id, opts.FallbackMaxSize),
		offline:      storage.NewMemoryStore(id, opts.FallbackMaxSize),
		backups:      storage.NewMemoryStore(id, opts.FallbackMaxSize),
		reconnect:    opts.Reconnect,
		refreshCreds: opts.RefreshCredentials,
		opTimeout:    opTimeout,
		defaultTTL:   opts.DefaultTTL,
		threshold:    opts.Threshold,
		logger:       logger.WithField("layer", string(id)),
	}
}

// ID returns the layer identity.
func (b *base) ID() models.Layer { return b.id }

// PrimaryStore returns the layer's backing store.
func (b *base) PrimaryStore() storage.Store { return b.primary }

// FallbackStore returns the in-memory store substituted after a storage
// failure.
func (b *base) FallbackStore() storage.Store { return b.fallback }

// OfflineStore returns the local read-through copy served when the network
// is unavailable.
func (b *base) OfflineStore() storage.Store { return b.offline }

// Reconnect reinitializes the layer's connection to its backend.
func (b *base) Reconnect(ctx context.Context) error {
	if b.reconnect == nil {
		return nil
	}
	return b.reconnect(ctx)
}

// ClearCache wipes the layer, including its in-memory side stores. Used only
// by recovery, never by normal traffic.
func (b *base) ClearCache(ctx context.Context) error {
	if err := b.primary.Clear(ctx); err != nil {
		return err
	}
	_ = b.fallback.Clear(ctx)
	_ = b.offline.Clear(ctx)
	return nil
}

// RestoreFromBackup rewrites a key from its last-known-good snapshot.
func (b *base) RestoreFromBackup(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("no key to restore")
	}
	snapshot, err := b.backups.Get(ctx, key)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("no backup snapshot for key %q", key)
	}
	if err := b.primary.Delete(ctx, key); err != nil {
		return err
	}
	return b.primary.Set(ctx, snapshot)
}

// RefreshCredentials re-requests credentials for the backing store.
func (b *base) RefreshCredentials(ctx context.Context) error {
	if b.refreshCreds == nil {
		return nil
	}
	return b.refreshCreds(ctx)
}

// GetOp builds the read operation. A logically expired entry is a MISS; the
// stores delete such rows best-effort.
func (b *base) GetOp(key string, out *models.GetResult) recovery.Operation {
	return func(ctx context.Context, st storage.Store) error {
		ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
		defer cancel()

		start := time.Now()
		entry, err := st.Get(ctx, key)
		out.Latency = time.Since(start)
		if err != nil {
			out.Status = models.StatusError
			out.Entry = nil
			return err
		}
		if entry == nil {
			out.Status = models.StatusMiss
			out.Entry = nil
			return nil
		}
		out.Status = models.StatusHit
		out.Entry = entry
		if st == b.primary {
			// Keep the offline copy warm for network-failure reads.
			_ = b.offline.Set(ctx, entry)
		}
		return nil
	}
}

// SetOp builds the upsert operation. Rejects embeddings whose width does not
// match the layer.
func (b *base) SetOp(key string, value json.RawMessage, opts models.SetOptions) recovery.Operation {
	return func(ctx context.Context, st storage.Store) error {
		entry, err := b.buildEntry(key, value, opts)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
		defer cancel()

		if err := st.Set(ctx, entry); err != nil {
			return err
		}
		// Snapshot the accepted write for corruption repair.
		_ = b.backups.Set(ctx, entry)
		return nil
	}
}

// DeleteOp builds the delete operation. Deleting an absent key succeeds.
func (b *base) DeleteOp(key string) recovery.Operation {
	return func(ctx context.Context, st storage.Store) error {
		ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
		defer cancel()
		if err := st.Delete(ctx, key); err != nil {
			return err
		}
		_ = b.backups.Delete(ctx, key)
		_ = b.offline.Delete(ctx, key)
		return nil
	}
}

// Get runs the read against the primary store.
func (b *base) Get(ctx context.Context, key string) (models.GetResult, error) {
	var out models.GetResult
	err := b.GetOp(key, &out)(ctx, b.primary)
	return out, err
}

// Set runs the upsert against the primary store.
func (b *base) Set(ctx context.Context, key string, value json.RawMessage, opts models.SetOptions) error {
	return b.SetOp(key, value, opts)(ctx, b.primary)
}

// Delete runs the delete against the primary store.
func (b *base) Delete(ctx context.Context, key string) error {
	return b.DeleteOp(key)(ctx, b.primary)
}

// Clear removes every entry in the layer.
func (b *base) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	return b.ClearCache(ctx)
}

// SweepExpired removes physically expired rows from the primary and side
// stores.
func (b *base) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	removed, err := b.primary.SweepExpired(ctx, now)
	if err != nil {
		return removed, err
	}
	n, _ := b.fallback.SweepExpired(ctx, now)
	removed += n
	n, _ = b.offline.SweepExpired(ctx, now)
	removed += n
	return removed, nil
}

func (b *base) buildEntry(key string, value json.RawMessage, opts models.SetOptions) (*models.CacheEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("value is required")
	}
	if err := b.validateEmbedding(opts.Embedding); err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &models.CacheEntry{
		Key:             key,
		Value:           value,
		Embedding:       opts.Embedding,
		Metadata:        opts.Metadata,
		CreatedAt:       now,
		SessionID:       opts.SessionID,
		ContextType:     opts.ContextType,
		ImportanceScore: opts.ImportanceScore,
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = b.defaultTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}
	return entry, nil
}

func (b *base) validateEmbedding(embedding []float32) error {
	dim := b.id.Dimension()
	if dim == 0 {
		if len(embedding) > 0 {
			return fmt.Errorf("layer %s does not store embeddings", b.id)
		}
		return nil
	}
	if len(embedding) != dim {
		return fmt.Errorf("layer %s requires a %d-dimensional embedding, got %d", b.id, dim, len(embedding))
	}
	return nil
}

// searchOp is shared by the three vector-bearing layers.
func (b *base) searchOp(embedding []float32, opts models.SearchOptions, rankImportance bool, out *[]models.SearchMatch) recovery.Operation {
	return func(ctx context.Context, st storage.Store) error {
		if err := b.validateEmbedding(embedding); err != nil {
			return err
		}
		threshold := opts.Threshold
		if threshold == 0 {
			threshold = b.threshold
		}
		topK := opts.TopK
		if topK <= 0 {
			topK = 10
		}

		ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
		defer cancel()

		matches, err := st.Search(ctx, &storage.SearchRequest{
			Embedding:      embedding,
			TopK:           topK,
			Threshold:      threshold,
			SessionID:      opts.SessionID,
			RankImportance: rankImportance,
		})
		if err != nil {
			return err
		}
		*out = matches
		return nil
	}
}
