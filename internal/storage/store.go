// Package storage defines the backing-store contract shared by every cache
// layer, plus the in-memory implementation used for fallback, offline and
// test stores.
package storage

import (
	"context"
	"errors"
	"time"

	"dev.helix.semcache/internal/models"
)

// ErrSearchUnsupported is returned by stores backing layers without an
// embedding column.
var ErrSearchUnsupported = errors.New("similarity search not supported by this store")

// SearchRequest bounds one similarity search against a store.
type SearchRequest struct {
	Embedding []float32
	TopK      int
	Threshold float64
	// SessionID restricts results to one session (vector diary tables).
	SessionID string
	// RankImportance adds importance_score as the first tie-break after the
	// similarity score (vector diary).
	RankImportance bool
}

// Store is the uniform persistence contract for a single cache layer.
//
// Get returns only live entries: a logically expired row is treated as
// absent, and the store removes it best-effort. Absence is (nil, nil), never
// an error. Get and Set both refresh last_accessed and increment
// access_count atomically with the row they touch.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Search(ctx context.Context, req *SearchRequest) ([]models.SearchMatch, error)
	// SweepExpired physically removes rows past their expiry, returning the
	// number removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}
