package layers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/alerting"
)

// SweeperConfig configures the background expiry sweeper.
type SweeperConfig struct {
	Interval time.Duration
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{Interval: time.Minute}
}

// Sweeper periodically removes physically expired rows from every layer.
// Expiry is already enforced lazily on read; the sweeper just reclaims
// storage.
type Sweeper struct {
	layers  []Cache
	config  *SweeperConfig
	metrics *alerting.Metrics
	logger  *logrus.Logger

	runs    atomic.Int64
	removed atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the given layers.
func NewSweeper(layers []Cache, config *SweeperConfig, metrics *alerting.Metrics, logger *logrus.Logger) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		layers:  layers,
		config:  config,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
}

// Runs reports how many sweep passes completed.
func (s *Sweeper) Runs() int64 { return s.runs.Load() }

// Removed reports the total entries reclaimed.
func (s *Sweeper) Removed() int64 { return s.removed.Load() }

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx)
		}
	}
}

// SweepOnce runs a single sweep pass over all layers.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now()
	for _, layer := range s.layers {
		removed, err := layer.SweepExpired(ctx, now)
		if err != nil {
			s.logger.WithError(err).WithField("layer", layer.ID()).Warn("expiry sweep failed")
			continue
		}
		if removed > 0 {
			s.metrics.Swept(string(layer.ID()), removed)
			s.removed.Add(removed)
			s.logger.WithFields(logrus.Fields{
				"layer":   layer.ID(),
				"removed": removed,
			}).Debug("expired entries swept")
		}
	}
	s.runs.Add(1)
}
