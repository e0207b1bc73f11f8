package orchestrator

import (
	"sync/atomic"

	"dev.helix.semcache/internal/models"
)

// Stats holds the orchestrator's monotonic counters.
type Stats struct {
	hits   atomic.Int64
	misses atomic.Int64
	total  atomic.Int64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	HitCount      int64   `json:"hit_count"`
	MissCount     int64   `json:"miss_count"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

func (o *Orchestrator) recordHit(layer models.Layer) {
	o.stats.hits.Add(1)
	o.stats.total.Add(1)
	o.metrics.Hit(string(layer))
}

func (o *Orchestrator) recordMiss(layer models.Layer) {
	o.stats.misses.Add(1)
	o.stats.total.Add(1)
	o.metrics.Miss(string(layer))
}

// Stats returns the orchestrator's counters.
func (o *Orchestrator) Stats() *Stats { return &o.stats }

// HitCount returns the number of hits recorded so far.
func (s *Stats) HitCount() int64 { return s.hits.Load() }

// MissCount returns the number of misses recorded so far.
func (s *Stats) MissCount() int64 { return s.misses.Load() }

// TotalRequests returns the number of lookups recorded so far.
func (s *Stats) TotalRequests() int64 { return s.total.Load() }

// HitRate is hits divided by total requests, 0 before any request.
func (s *Stats) HitRate() float64 {
	total := s.total.Load()
	if total == 0 {
		return 0
	}
	return float64(s.hits.Load()) / float64(total)
}

// Snapshot captures the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		HitCount:      s.HitCount(),
		MissCount:     s.MissCount(),
		TotalRequests: s.TotalRequests(),
		HitRate:       s.HitRate(),
	}
}
