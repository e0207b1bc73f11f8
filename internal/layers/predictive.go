package layers

import (
	"time"

	"dev.helix.semcache/internal/models"
)

// Predictive caches forecast/anticipation results. No embeddings; entries
// live on a short TTL and are overwritten at a high rate.
type Predictive struct {
	*base
}

// NewPredictive creates the predictive layer. When no TTL is configured it
// defaults to five minutes.
func NewPredictive(opts Options) *Predictive {
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	return &Predictive{base: newBase(models.LayerPredictive, opts)}
}
