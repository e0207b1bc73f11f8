package layers

import (
	"context"
	"encoding/json"
	"fmt"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/storage"
)

// VectorDiary is the session-scoped conversational layer. Every entry
// belongs to a session and carries an importance score in [0, 1] that breaks
// similarity-score ties during search.
type VectorDiary struct {
	*base
}

// NewVectorDiary creates the vector diary layer.
func NewVectorDiary(opts Options) *VectorDiary {
	if opts.Threshold == 0 {
		opts.Threshold = 0.7
	}
	return &VectorDiary{base: newBase(models.LayerVectorDiary, opts)}
}

// SetOp additionally requires a session id and a valid importance score.
func (l *VectorDiary) SetOp(key string, value json.RawMessage, opts models.SetOptions) recovery.Operation {
	inner := l.base.SetOp(key, value, opts)
	return func(ctx context.Context, st storage.Store) error {
		if opts.SessionID == "" {
			return fmt.Errorf("vector diary entries require a session id")
		}
		if opts.ImportanceScore < 0 || opts.ImportanceScore > 1 {
			return fmt.Errorf("importance score must be in [0.0, 1.0], got %g", opts.ImportanceScore)
		}
		return inner(ctx, st)
	}
}

// Set runs the upsert against the primary store.
func (l *VectorDiary) Set(ctx context.Context, key string, value json.RawMessage, opts models.SetOptions) error {
	return l.SetOp(key, value, opts)(ctx, l.primary)
}

// SearchOp builds the session-scoped search with importance ranking.
func (l *VectorDiary) SearchOp(embedding []float32, opts models.SearchOptions, out *[]models.SearchMatch) recovery.Operation {
	return l.searchOp(embedding, opts, true, out)
}

// Search runs a session-scoped similarity search against the primary store.
func (l *VectorDiary) Search(ctx context.Context, embedding []float32, opts models.SearchOptions) ([]models.SearchMatch, error) {
	var out []models.SearchMatch
	err := l.SearchOp(embedding, opts, &out)(ctx, l.primary)
	return out, err
}
