package layers

import (
	"context"
	"math"
	"sort"
	"time"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/storage"
)

// Reranker reorders the top-k of a search by a secondary relevance signal.
type Reranker interface {
	Rerank(ctx context.Context, query []float32, matches []models.SearchMatch) ([]models.SearchMatch, error)
}

// Vector caches 1536-dimensional embedding lookups and optionally reranks
// search results. A reranker failure degrades the search to plain cosine
// order; it never fails the search itself.
type Vector struct {
	*base
	reranker Reranker
}

// NewVector creates the vector layer. reranker may be nil to skip reranking.
func NewVector(opts Options, reranker Reranker) *Vector {
	if opts.Threshold == 0 {
		opts.Threshold = 0.7
	}
	return &Vector{base: newBase(models.LayerVector, opts), reranker: reranker}
}

// SearchOp builds the search operation, applying the reranker to the cosine
// top-k.
func (l *Vector) SearchOp(embedding []float32, opts models.SearchOptions, out *[]models.SearchMatch) recovery.Operation {
	inner := l.searchOp(embedding, opts, false, out)
	return func(ctx context.Context, st storage.Store) error {
		if err := inner(ctx, st); err != nil {
			return err
		}
		if l.reranker == nil || len(*out) < 2 {
			return nil
		}
		reranked, err := l.reranker.Rerank(ctx, embedding, *out)
		if err != nil {
			l.logger.WithError(err).Warn("reranking failed, serving cosine order")
			return nil
		}
		*out = reranked
		return nil
	}
}

// Search runs a reranked similarity search against the primary store.
func (l *Vector) Search(ctx context.Context, embedding []float32, opts models.SearchOptions) ([]models.SearchMatch, error) {
	var out []models.SearchMatch
	err := l.SearchOp(embedding, opts, &out)(ctx, l.primary)
	return out, err
}

// FrequencyReranker blends the cosine score with access frequency and
// recency. The cosine score dominates; frequency and recency only separate
// closely scored entries.
type FrequencyReranker struct {
	// HalfLife controls how fast the recency signal decays. Defaults to an
	// hour.
	HalfLife time.Duration
}

func (r *FrequencyReranker) Rerank(_ context.Context, _ []float32, matches []models.SearchMatch) ([]models.SearchMatch, error) {
	halfLife := r.HalfLife
	if halfLife <= 0 {
		halfLife = time.Hour
	}

	var maxCount int64 = 1
	for _, m := range matches {
		if m.Entry.AccessCount > maxCount {
			maxCount = m.Entry.AccessCount
		}
	}

	now := time.Now()
	type scored struct {
		match models.SearchMatch
		rank  float64
	}
	out := make([]scored, len(matches))
	for i, m := range matches {
		freq := float64(m.Entry.AccessCount) / float64(maxCount)
		last := m.Entry.CreatedAt
		if m.Entry.LastAccessed != nil {
			last = *m.Entry.LastAccessed
		}
		age := now.Sub(last)
		recency := math.Exp2(-float64(age) / float64(halfLife))
		out[i] = scored{match: m, rank: 0.8*m.Score + 0.1*freq + 0.1*recency}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].rank > out[j].rank })

	reranked := make([]models.SearchMatch, len(out))
	for i, s := range out {
		reranked[i] = s.match
	}
	return reranked, nil
}
