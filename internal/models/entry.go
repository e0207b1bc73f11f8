// Package models defines the shared data types for the semantic cache:
// cache entries, layer identities, and operation results.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layer identifies one of the five cache partitions. Each layer owns its own
// keyspace and backing table; keys are unique per layer, not globally.
type Layer string

const (
	LayerPredictive  Layer = "predictive"
	LayerSemantic    Layer = "semantic"
	LayerVector      Layer = "vector"
	LayerGlobal      Layer = "global"
	LayerVectorDiary Layer = "vector_diary"
)

// Embedding widths are fixed per layer.
const (
	SemanticDimension = 384
	VectorDimension   = 1536
	DiaryDimension    = 1536
)

// AllLayers returns the layers in their configured priority order.
func AllLayers() []Layer {
	return []Layer{LayerPredictive, LayerSemantic, LayerVector, LayerGlobal, LayerVectorDiary}
}

// ParseLayer converts a string into a Layer.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown cache layer: %q", s)
	}
	return l, nil
}

// Valid reports whether l is one of the five known layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerPredictive, LayerSemantic, LayerVector, LayerGlobal, LayerVectorDiary:
		return true
	}
	return false
}

// Dimension returns the fixed embedding width for a vector-bearing layer,
// or 0 for layers without embeddings.
func (l Layer) Dimension() int {
	switch l {
	case LayerSemantic:
		return SemanticDimension
	case LayerVector:
		return VectorDimension
	case LayerVectorDiary:
		return DiaryDimension
	}
	return 0
}

// HasEmbedding reports whether the layer stores embeddings and supports
// similarity search.
func (l Layer) HasEmbedding() bool {
	return l.Dimension() > 0
}

// CacheEntry is the fundamental unit stored in every layer.
type CacheEntry struct {
	ID        string                 `json:"id,omitempty"`
	Key       string                 `json:"key"`
	Value     json.RawMessage        `json:"value"`
	Embedding []float32              `json:"embedding,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	// ExpiresAt is nil when the entry never expires. An entry past its
	// ExpiresAt is logically absent even while the row still exists.
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	AccessCount  int64      `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// Vector diary only.
	SessionID       string  `json:"session_id,omitempty"`
	ContextType     string  `json:"context_type,omitempty"`
	ImportanceScore float64 `json:"importance_score,omitempty"`
}

// Expired reports whether the entry is logically expired at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Clone returns a deep copy of the entry so callers cannot mutate cached state.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Value != nil {
		cp.Value = append(json.RawMessage(nil), e.Value...)
	}
	if e.Embedding != nil {
		cp.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		cp.ExpiresAt = &t
	}
	if e.LastAccessed != nil {
		t := *e.LastAccessed
		cp.LastAccessed = &t
	}
	return &cp
}

// Status is the outcome of a single cache read.
type Status string

const (
	StatusHit   Status = "HIT"
	StatusMiss  Status = "MISS"
	StatusError Status = "ERROR"
)

// GetResult is returned by every layer Get.
type GetResult struct {
	Status  Status        `json:"status"`
	Entry   *CacheEntry   `json:"entry,omitempty"`
	Latency time.Duration `json:"latency"`
}

// SearchMatch pairs an entry with its cosine similarity score.
type SearchMatch struct {
	Entry *CacheEntry `json:"entry"`
	Score float64     `json:"score"`
}

// SearchOptions bound a similarity search.
type SearchOptions struct {
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
	// SessionID restricts vector diary searches to one session. Ignored by
	// other layers.
	SessionID string `json:"session_id,omitempty"`
}

// SetOptions carry the optional fields of a Set.
type SetOptions struct {
	Embedding       []float32              `json:"embedding,omitempty"`
	TTL             time.Duration          `json:"ttl,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	ContextType     string                 `json:"context_type,omitempty"`
	ImportanceScore float64                `json:"importance_score,omitempty"`
}

// RoutingDecision is the ephemeral product of one routing pass. It is never
// persisted.
type RoutingDecision struct {
	Query         string  `json:"query"`
	Operation     string  `json:"operation"`
	ChosenLayer   Layer   `json:"chosen_layer"`
	FallbackOrder []Layer `json:"fallback_order"`
}

// CacheCheckResult is the orchestrator's answer to a cache-first check.
type CacheCheckResult struct {
	CacheHit          bool          `json:"cache_hit"`
	CacheLayer        Layer         `json:"cache_layer"`
	Data              *CacheEntry   `json:"data,omitempty"`
	Matches           []SearchMatch `json:"matches,omitempty"`
	FallbackNeeded    bool          `json:"fallback_needed"`
	RecoveryAttempted bool          `json:"recovery_attempted"`
	Err               error         `json:"-"`
}
