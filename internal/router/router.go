// Package router selects the cache layer for a query using keyword intent
// heuristics. Routing is a pure function of (query, operation) for a fixed
// configuration.
package router

import (
	"strings"

	"dev.helix.semcache/internal/models"
)

// LayerKeywords binds one layer to the intent keywords that route to it. The
// routing table is an ordered list: the first layer with a matching keyword
// wins.
type LayerKeywords struct {
	Layer    models.Layer
	Keywords []string
}

// DefaultRoutingTable returns the built-in intent table in priority order.
func DefaultRoutingTable() []LayerKeywords {
	return []LayerKeywords{
		{Layer: models.LayerPredictive, Keywords: []string{"predict", "forecast", "anticipate", "expect"}},
		{Layer: models.LayerSemantic, Keywords: []string{"query", "search", "analyze", "understand"}},
		{Layer: models.LayerVector, Keywords: []string{"embedding", "similarity", "context", "related"}},
		{Layer: models.LayerGlobal, Keywords: []string{"knowledge", "fact", "information", "reference"}},
		{Layer: models.LayerVectorDiary, Keywords: []string{"conversation", "chat", "dialog", "context"}},
	}
}

// Router maps queries to layers.
type Router struct {
	table         []LayerKeywords
	fallbackOrder []models.Layer
}

// New creates a router. A nil table uses the default routing table; a nil
// fallback order uses [predictive, semantic, vector, global].
func New(table []LayerKeywords, fallbackOrder []models.Layer) *Router {
	if table == nil {
		table = DefaultRoutingTable()
	}
	if len(fallbackOrder) == 0 {
		fallbackOrder = []models.Layer{
			models.LayerPredictive, models.LayerSemantic, models.LayerVector, models.LayerGlobal,
		}
	}
	return &Router{table: table, fallbackOrder: fallbackOrder}
}

// FallbackOrder returns the configured fallback sequence.
func (r *Router) FallbackOrder() []models.Layer {
	out := make([]models.Layer, len(r.fallbackOrder))
	copy(out, r.fallbackOrder)
	return out
}

// DetermineLayer picks the layer for a query. Keyword matches are checked in
// table order, first match wins. When nothing matches, get and search default
// to the semantic layer, set and delete to the predictive layer, and any
// other operation to the head of the fallback order.
func (r *Router) DetermineLayer(query, operation string) models.Layer {
	q := strings.ToLower(query)
	for _, lk := range r.table {
		for _, kw := range lk.Keywords {
			if strings.Contains(q, kw) {
				return lk.Layer
			}
		}
	}

	switch strings.ToLower(operation) {
	case "get", "search":
		return models.LayerSemantic
	case "set", "delete":
		return models.LayerPredictive
	}
	return r.fallbackOrder[0]
}

// Route produces the full routing decision for one request.
func (r *Router) Route(query, operation string) models.RoutingDecision {
	return models.RoutingDecision{
		Query:         query,
		Operation:     operation,
		ChosenLayer:   r.DetermineLayer(query, operation),
		FallbackOrder: r.FallbackOrder(),
	}
}
