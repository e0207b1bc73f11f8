package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.semcache/internal/models"
)

func TestDetermineLayerKeywords(t *testing.T) {
	r := New(nil, nil)

	tests := []struct {
		query string
		want  models.Layer
	}{
		{"predict the next user action", models.LayerPredictive},
		{"Forecast tomorrow's load", models.LayerPredictive},
		{"anticipate churn", models.LayerPredictive},
		{"what does the user expect", models.LayerPredictive},
		{"query the product catalog", models.LayerSemantic},
		{"analyze this paragraph", models.LayerSemantic},
		{"understand the request", models.LayerSemantic},
		{"embedding for this text", models.LayerVector},
		{"find similarity neighbors", models.LayerVector},
		{"related documents", models.LayerVector},
		{"knowledge about Go", models.LayerGlobal},
		{"a well-known fact", models.LayerGlobal},
		{"background information", models.LayerGlobal},
		{"reference material", models.LayerGlobal},
		{"summarize the conversation", models.LayerVectorDiary},
		{"previous chat turns", models.LayerVectorDiary},
		{"the dialog so far", models.LayerVectorDiary},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, r.DetermineLayer(tt.query, "get"))
		})
	}
}

func TestDetermineLayerFirstMatchWins(t *testing.T) {
	r := New(nil, nil)

	// "search" (semantic) appears before "knowledge" (global) in table order.
	assert.Equal(t, models.LayerSemantic, r.DetermineLayer("search the knowledge base", "get"))
	// "context" belongs to the vector layer, which precedes the diary.
	assert.Equal(t, models.LayerVector, r.DetermineLayer("context window", "get"))
	// "predict" outranks everything.
	assert.Equal(t, models.LayerPredictive, r.DetermineLayer("predict from the conversation", "get"))
}

func TestDetermineLayerCaseInsensitive(t *testing.T) {
	r := New(nil, nil)

	assert.Equal(t, models.LayerPredictive, r.DetermineLayer("PREDICT next", "get"))
	assert.Equal(t, models.LayerGlobal, r.DetermineLayer("KNOWLEDGE lookup", "get"))
}

func TestDetermineLayerDefaults(t *testing.T) {
	r := New(nil, nil)

	tests := []struct {
		operation string
		want      models.Layer
	}{
		{"get", models.LayerSemantic},
		{"search", models.LayerSemantic},
		{"set", models.LayerPredictive},
		{"delete", models.LayerPredictive},
		{"GET", models.LayerSemantic},
		{"purge", models.LayerPredictive}, // head of the fallback order
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			assert.Equal(t, tt.want, r.DetermineLayer("nothing matches here", tt.operation))
		})
	}
}

func TestDetermineLayerIsDeterministic(t *testing.T) {
	r := New(nil, nil)

	first := r.DetermineLayer("analyze related knowledge", "get")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, r.DetermineLayer("analyze related knowledge", "get"))
	}
}

func TestFallbackOrder(t *testing.T) {
	r := New(nil, nil)

	order := r.FallbackOrder()
	require.Equal(t, []models.Layer{
		models.LayerPredictive, models.LayerSemantic, models.LayerVector, models.LayerGlobal,
	}, order)

	// Mutating the returned slice must not affect the router.
	order[0] = models.LayerGlobal
	assert.Equal(t, models.LayerPredictive, r.FallbackOrder()[0])
}

func TestCustomFallbackOrder(t *testing.T) {
	r := New(nil, []models.Layer{models.LayerGlobal, models.LayerSemantic})

	assert.Equal(t, []models.Layer{models.LayerGlobal, models.LayerSemantic}, r.FallbackOrder())
	assert.Equal(t, models.LayerGlobal, r.DetermineLayer("nothing matches", "purge"))
}

func TestRoute(t *testing.T) {
	r := New(nil, nil)

	decision := r.Route("predict next action", "get")
	assert.Equal(t, "predict next action", decision.Query)
	assert.Equal(t, "get", decision.Operation)
	assert.Equal(t, models.LayerPredictive, decision.ChosenLayer)
	assert.Len(t, decision.FallbackOrder, 4)
}
