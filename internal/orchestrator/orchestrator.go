// Package orchestrator routes cache operations to their layer, executes them
// under the recovery governor, and keeps the hit/miss bookkeeping. All
// operations soft-fail: callers always get a structured result, never a
// panic or a raw backend error.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/alerting"
	"dev.helix.semcache/internal/layers"
	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/router"
)

// Orchestrator owns the layer set and all mutable cache statistics. Counters
// are atomic; no ambient global state.
type Orchestrator struct {
	layers   map[models.Layer]layers.Cache
	router   *router.Router
	governor *recovery.Governor
	metrics  *alerting.Metrics
	alerts   alerting.Sink
	logger   *logrus.Logger

	stats Stats
}

// New creates an orchestrator over the given layers. alerts and metrics may
// be nil.
func New(layerSet []layers.Cache, rt *router.Router, gov *recovery.Governor, metrics *alerting.Metrics, alerts alerting.Sink, logger *logrus.Logger) *Orchestrator {
	if rt == nil {
		rt = router.New(nil, nil)
	}
	if gov == nil {
		gov = recovery.NewGovernor(recovery.DefaultRetryPolicy(), alerts, metrics, logger)
	}
	if alerts == nil {
		alerts = alerting.NopSink{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := make(map[models.Layer]layers.Cache, len(layerSet))
	for _, l := range layerSet {
		m[l.ID()] = l
	}
	return &Orchestrator{
		layers:   m,
		router:   rt,
		governor: gov,
		metrics:  metrics,
		alerts:   alerts,
		logger:   logger,
	}
}

// Layer returns the layer registered under id.
func (o *Orchestrator) Layer(id models.Layer) (layers.Cache, bool) {
	l, ok := o.layers[id]
	return l, ok
}

// FallbackOrder returns the configured layer fallback sequence.
func (o *Orchestrator) FallbackOrder() []models.Layer {
	return o.router.FallbackOrder()
}

// CheckRequest is one routed cache-first check.
type CheckRequest struct {
	Query     string          `json:"query"`
	Operation string          `json:"operation"`
	Embedding []float32       `json:"embedding,omitempty"`
	TopK      int             `json:"top_k,omitempty"`
	Threshold float64         `json:"threshold,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	TTL       time.Duration   `json:"ttl,omitempty"`
}

// CheckCacheFirst routes the request to a layer and executes it there. A
// MISS on the chosen layer does not cascade through the fallback order;
// whether to consult the next layer is the caller's policy.
func (o *Orchestrator) CheckCacheFirst(ctx context.Context, req CheckRequest) *models.CacheCheckResult {
	decision := o.router.Route(req.Query, req.Operation)
	result := &models.CacheCheckResult{CacheLayer: decision.ChosenLayer}

	layer, ok := o.layers[decision.ChosenLayer]
	if !ok {
		result.FallbackNeeded = true
		result.Err = fmt.Errorf("layer %s not configured", decision.ChosenLayer)
		return result
	}

	switch decision.Operation {
	case "get":
		res, outcome, err := o.Get(ctx, decision.ChosenLayer, req.Query)
		result.RecoveryAttempted = outcome.RecoveryAttempted
		if err != nil || res.Status != models.StatusHit {
			result.FallbackNeeded = true
			result.Err = err
			return result
		}
		result.CacheHit = true
		result.Data = res.Entry
	case "search":
		matches, outcome, err := o.searchLayer(ctx, layer, req)
		result.RecoveryAttempted = outcome.RecoveryAttempted
		if err != nil || len(matches) == 0 {
			o.recordMiss(decision.ChosenLayer)
			result.FallbackNeeded = true
			result.Err = err
			return result
		}
		o.recordHit(decision.ChosenLayer)
		result.CacheHit = true
		result.Matches = matches
		result.Data = matches[0].Entry
	case "set":
		outcome, err := o.Set(ctx, decision.ChosenLayer, req.Query, req.Value, models.SetOptions{
			Embedding: req.Embedding,
			TTL:       req.TTL,
			SessionID: req.SessionID,
		})
		result.RecoveryAttempted = outcome.RecoveryAttempted
		if err != nil {
			result.FallbackNeeded = true
			result.Err = err
		}
	case "delete":
		outcome, err := o.Delete(ctx, decision.ChosenLayer, req.Query)
		result.RecoveryAttempted = outcome.RecoveryAttempted
		if err != nil {
			result.FallbackNeeded = true
			result.Err = err
		}
	default:
		result.FallbackNeeded = true
		result.Err = fmt.Errorf("unsupported operation %q", decision.Operation)
	}
	return result
}

// Get reads a key from one layer under the governor. Statistics and events
// are recorded here.
func (o *Orchestrator) Get(ctx context.Context, layerID models.Layer, key string) (models.GetResult, recovery.Outcome, error) {
	layer, ok := o.layers[layerID]
	if !ok {
		return models.GetResult{Status: models.StatusError}, recovery.Outcome{}, fmt.Errorf("layer %s not configured", layerID)
	}

	var res models.GetResult
	start := time.Now()
	outcome, err := o.governor.Execute(ctx, layer, key, layer.GetOp(key, &res))
	o.metrics.Observe(string(layerID), "get", time.Since(start))

	if err != nil {
		res.Status = models.StatusError
		o.recordMiss(layerID)
		o.emit(alerting.LevelError, layerID, "cache get failed", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return res, outcome, err
	}
	if res.Status == models.StatusHit {
		o.recordHit(layerID)
		o.emit(alerting.LevelInfo, layerID, "cache hit", map[string]interface{}{"key": key})
	} else {
		o.recordMiss(layerID)
		o.emit(alerting.LevelInfo, layerID, "cache miss", map[string]interface{}{"key": key})
	}
	return res, outcome, nil
}

// Set upserts a key in one layer under the governor.
func (o *Orchestrator) Set(ctx context.Context, layerID models.Layer, key string, value json.RawMessage, opts models.SetOptions) (recovery.Outcome, error) {
	layer, ok := o.layers[layerID]
	if !ok {
		return recovery.Outcome{}, fmt.Errorf("layer %s not configured", layerID)
	}
	start := time.Now()
	outcome, err := o.governor.Execute(ctx, layer, key, layer.SetOp(key, value, opts))
	o.metrics.Observe(string(layerID), "set", time.Since(start))
	if err != nil {
		o.emit(alerting.LevelError, layerID, "cache set failed", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
	return outcome, err
}

// Delete removes a key from one layer under the governor. Deleting an
// absent key succeeds.
func (o *Orchestrator) Delete(ctx context.Context, layerID models.Layer, key string) (recovery.Outcome, error) {
	layer, ok := o.layers[layerID]
	if !ok {
		return recovery.Outcome{}, fmt.Errorf("layer %s not configured", layerID)
	}
	start := time.Now()
	outcome, err := o.governor.Execute(ctx, layer, key, layer.DeleteOp(key))
	o.metrics.Observe(string(layerID), "delete", time.Since(start))
	return outcome, err
}

// Search runs a similarity search on one of the vector-bearing layers.
func (o *Orchestrator) Search(ctx context.Context, layerID models.Layer, embedding []float32, opts models.SearchOptions) ([]models.SearchMatch, recovery.Outcome, error) {
	layer, ok := o.layers[layerID]
	if !ok {
		return nil, recovery.Outcome{}, fmt.Errorf("layer %s not configured", layerID)
	}
	searcher, ok := layer.(layers.Searcher)
	if !ok {
		return nil, recovery.Outcome{}, fmt.Errorf("layer %s does not support search", layerID)
	}

	var matches []models.SearchMatch
	start := time.Now()
	outcome, err := o.governor.Execute(ctx, layer, "", searcher.SearchOp(embedding, opts, &matches))
	o.metrics.Observe(string(layerID), "search", time.Since(start))
	return matches, outcome, err
}

func (o *Orchestrator) searchLayer(ctx context.Context, layer layers.Cache, req CheckRequest) ([]models.SearchMatch, recovery.Outcome, error) {
	searcher, ok := layer.(layers.Searcher)
	if !ok {
		return nil, recovery.Outcome{}, fmt.Errorf("layer %s does not support search", layer.ID())
	}
	var matches []models.SearchMatch
	outcome, err := o.governor.Execute(ctx, layer, "", searcher.SearchOp(req.Embedding, models.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		SessionID: req.SessionID,
	}, &matches))
	return matches, outcome, err
}

func (o *Orchestrator) emit(level alerting.Level, layer models.Layer, message string, metrics map[string]interface{}) {
	if metrics == nil {
		metrics = map[string]interface{}{}
	}
	metrics["layer"] = string(layer)
	o.alerts.Emit(alerting.Event{
		Component: "orchestrator",
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Metrics:   metrics,
	})
}
