// Package handlers exposes the cache operation API over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/orchestrator"
)

// CacheHandler handles the cache API endpoints.
type CacheHandler struct {
	orch   *orchestrator.Orchestrator
	logger *logrus.Logger
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(orch *orchestrator.Orchestrator, logger *logrus.Logger) *CacheHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CacheHandler{orch: orch, logger: logger}
}

// RegisterRoutes registers the cache routes.
func (h *CacheHandler) RegisterRoutes(router *gin.RouterGroup) {
	cache := router.Group("/cache")
	{
		cache.POST("/check", h.Check)
		cache.GET("/stats", h.Stats)
		cache.POST("/:layer/get", h.Get)
		cache.POST("/:layer/set", h.Set)
		cache.POST("/:layer/delete", h.Delete)
		cache.POST("/:layer/search", h.Search)
	}
}

type getRequest struct {
	Key string `json:"key" binding:"required"`
}

type setRequest struct {
	Key             string                 `json:"key" binding:"required"`
	Value           json.RawMessage        `json:"value" binding:"required"`
	TTLSeconds      int64                  `json:"ttl_seconds"`
	Embedding       []float32              `json:"embedding"`
	Metadata        map[string]interface{} `json:"metadata"`
	SessionID       string                 `json:"session_id"`
	ContextType     string                 `json:"context_type"`
	ImportanceScore float64                `json:"importance_score"`
}

type searchRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	TopK      int       `json:"top_k"`
	Threshold float64   `json:"threshold"`
	SessionID string    `json:"session_id"`
}

type checkRequest struct {
	Query     string          `json:"query" binding:"required"`
	Operation string          `json:"operation" binding:"required"`
	Embedding []float32       `json:"embedding"`
	TopK      int             `json:"top_k"`
	Threshold float64         `json:"threshold"`
	SessionID string          `json:"session_id"`
	Value     json.RawMessage `json:"value"`
	TTLSecs   int64           `json:"ttl_seconds"`
	// Cascade walks the fallback order when the chosen layer misses. This
	// is caller policy; the orchestrator never cascades on its own.
	Cascade bool `json:"cascade"`
}

type searchResult struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Score float64         `json:"score"`
}

// Get handles POST /v1/cache/:layer/get.
func (h *CacheHandler) Get(c *gin.Context) {
	layer, ok := h.layerParam(c)
	if !ok {
		return
	}
	var req getRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res, outcome, err := h.orch.Get(c.Request.Context(), layer, req.Key)
	body := gin.H{
		"success":            err == nil,
		"status":             res.Status,
		"layer":              layer,
		"latency_ms":         res.Latency.Milliseconds(),
		"recovery_attempted": outcome.RecoveryAttempted,
	}
	if res.Entry != nil {
		body["data"] = res.Entry.Value
		body["metadata"] = res.Entry.Metadata
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Set handles POST /v1/cache/:layer/set.
func (h *CacheHandler) Set(c *gin.Context) {
	layer, ok := h.layerParam(c)
	if !ok {
		return
	}
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	outcome, err := h.orch.Set(c.Request.Context(), layer, req.Key, req.Value, models.SetOptions{
		Embedding:       req.Embedding,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
		Metadata:        req.Metadata,
		SessionID:       req.SessionID,
		ContextType:     req.ContextType,
		ImportanceScore: req.ImportanceScore,
	})
	body := gin.H{"success": err == nil, "layer": layer, "recovery_attempted": outcome.RecoveryAttempted}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Delete handles POST /v1/cache/:layer/delete. Idempotent: deleting an
// absent key succeeds.
func (h *CacheHandler) Delete(c *gin.Context) {
	layer, ok := h.layerParam(c)
	if !ok {
		return
	}
	var req getRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	outcome, err := h.orch.Delete(c.Request.Context(), layer, req.Key)
	body := gin.H{"success": err == nil, "layer": layer, "recovery_attempted": outcome.RecoveryAttempted}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Search handles POST /v1/cache/:layer/search.
func (h *CacheHandler) Search(c *gin.Context) {
	layer, ok := h.layerParam(c)
	if !ok {
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	matches, outcome, err := h.orch.Search(c.Request.Context(), layer, req.Embedding, models.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		SessionID: req.SessionID,
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false, "layer": layer, "error": err.Error(),
			"recovery_attempted": outcome.RecoveryAttempted,
		})
		return
	}

	results := make([]searchResult, len(matches))
	for i, m := range matches {
		results[i] = searchResult{Key: m.Entry.Key, Value: m.Entry.Value, Score: m.Score}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true, "layer": layer, "results": results,
		"recovery_attempted": outcome.RecoveryAttempted,
	})
}

// Check handles POST /v1/cache/check: the routed cache-first lookup.
func (h *CacheHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result := h.orch.CheckCacheFirst(c.Request.Context(), orchestrator.CheckRequest{
		Query:     req.Query,
		Operation: req.Operation,
		Embedding: req.Embedding,
		TopK:      req.TopK,
		Threshold: req.Threshold,
		SessionID: req.SessionID,
		Value:     req.Value,
		TTL:       time.Duration(req.TTLSecs) * time.Second,
	})

	// Cascading through the remaining layers is this caller's policy.
	if req.Cascade && req.Operation == "get" && !result.CacheHit {
		for _, next := range h.orch.FallbackOrder() {
			if next == result.CacheLayer {
				continue
			}
			res, _, err := h.orch.Get(c.Request.Context(), next, req.Query)
			if err == nil && res.Status == models.StatusHit {
				result.CacheHit = true
				result.CacheLayer = next
				result.Data = res.Entry
				result.FallbackNeeded = false
				break
			}
		}
	}

	body := gin.H{
		"cache_hit":          result.CacheHit,
		"cache_layer":        result.CacheLayer,
		"fallback_needed":    result.FallbackNeeded,
		"recovery_attempted": result.RecoveryAttempted,
	}
	if result.Data != nil {
		body["data"] = result.Data.Value
	}
	if len(result.Matches) > 0 {
		results := make([]searchResult, len(result.Matches))
		for i, m := range result.Matches {
			results[i] = searchResult{Key: m.Entry.Key, Value: m.Entry.Value, Score: m.Score}
		}
		body["results"] = results
	}
	if result.Err != nil {
		body["error"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Stats handles GET /v1/cache/stats.
func (h *CacheHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Stats().Snapshot())
}

func (h *CacheHandler) layerParam(c *gin.Context) (models.Layer, bool) {
	layer, err := models.ParseLayer(c.Param("layer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return "", false
	}
	return layer, true
}
