package layers

import (
	"context"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
)

// Semantic caches query/search/understand results keyed by 384-dimensional
// embeddings.
type Semantic struct {
	*base
}

// NewSemantic creates the semantic layer. The default similarity threshold
// is 0.8.
func NewSemantic(opts Options) *Semantic {
	if opts.Threshold == 0 {
		opts.Threshold = 0.8
	}
	return &Semantic{base: newBase(models.LayerSemantic, opts)}
}

// SearchOp builds the cosine similarity search operation.
func (l *Semantic) SearchOp(embedding []float32, opts models.SearchOptions, out *[]models.SearchMatch) recovery.Operation {
	return l.searchOp(embedding, opts, false, out)
}

// Search runs a similarity search against the primary store.
func (l *Semantic) Search(ctx context.Context, embedding []float32, opts models.SearchOptions) ([]models.SearchMatch, error) {
	var out []models.SearchMatch
	err := l.SearchOp(embedding, opts, &out)(ctx, l.primary)
	return out, err
}
