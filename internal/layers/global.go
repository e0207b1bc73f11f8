package layers

import (
	"context"
	"encoding/json"
	"time"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/storage"
)

// KnowledgeSource is the remote knowledge base backing the global layer.
type KnowledgeSource interface {
	Lookup(ctx context.Context, key string) (*models.CacheEntry, error)
	Publish(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error
}

// Global serves shared knowledge entries. Reads consult the remote source
// first; local rows act as fallback copies. When the remote is unreachable
// the layer serves the possibly stale local copy if fallback is enabled,
// otherwise it reports a MISS.
type Global struct {
	*base
	remote          KnowledgeSource
	fallbackEnabled bool
}

// NewGlobal creates the global layer. remote may be nil, which degrades the
// layer to its local table only.
func NewGlobal(opts Options, remote KnowledgeSource, fallbackEnabled bool) *Global {
	return &Global{
		base:            newBase(models.LayerGlobal, opts),
		remote:          remote,
		fallbackEnabled: fallbackEnabled,
	}
}

// GetOp consults the remote knowledge source, refreshing the local copy on a
// remote hit.
func (l *Global) GetOp(key string, out *models.GetResult) recovery.Operation {
	local := l.base.GetOp(key, out)
	return func(ctx context.Context, st storage.Store) error {
		if l.remote == nil {
			return local(ctx, st)
		}

		start := time.Now()
		rctx, cancel := context.WithTimeout(ctx, l.opTimeout)
		entry, err := l.remote.Lookup(rctx, key)
		cancel()

		if err != nil {
			l.logger.WithError(err).Warn("remote knowledge source unavailable")
			if !l.fallbackEnabled {
				out.Status = models.StatusMiss
				out.Entry = nil
				out.Latency = time.Since(start)
				return nil
			}
			return local(ctx, st)
		}
		if entry == nil {
			// Remote has no such fact; the local table may still.
			return local(ctx, st)
		}
		if entry.Expired(time.Now()) {
			out.Status = models.StatusMiss
			out.Entry = nil
			out.Latency = time.Since(start)
			return nil
		}

		// Refresh the local fallback copy.
		_ = st.Set(ctx, entry)
		_ = l.offline.Set(ctx, entry)

		out.Status = models.StatusHit
		out.Entry = entry
		out.Latency = time.Since(start)
		return nil
	}
}

// Get runs the read against the remote source with the primary store as
// local fallback.
func (l *Global) Get(ctx context.Context, key string) (models.GetResult, error) {
	var out models.GetResult
	err := l.GetOp(key, &out)(ctx, l.primary)
	return out, err
}

// SetOp writes the local copy and publishes to the remote source
// best-effort.
func (l *Global) SetOp(key string, value json.RawMessage, opts models.SetOptions) recovery.Operation {
	inner := l.base.SetOp(key, value, opts)
	return func(ctx context.Context, st storage.Store) error {
		if err := inner(ctx, st); err != nil {
			return err
		}
		if l.remote == nil {
			return nil
		}
		entry, err := l.buildEntry(key, value, opts)
		if err != nil {
			return nil
		}
		if perr := l.remote.Publish(ctx, entry, opts.TTL); perr != nil {
			l.logger.WithError(perr).Warn("failed to publish knowledge entry")
		}
		return nil
	}
}

// Set runs the write against the primary store and the remote source.
func (l *Global) Set(ctx context.Context, key string, value json.RawMessage, opts models.SetOptions) error {
	return l.SetOp(key, value, opts)(ctx, l.primary)
}
