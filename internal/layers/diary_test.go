package layers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.semcache/internal/models"
)

func TestDiarySetRequiresSession(t *testing.T) {
	layer := NewVectorDiary(Options{})

	err := layer.Set(context.Background(), "turn-1", json.RawMessage(`1`), models.SetOptions{
		Embedding:       embedFor(models.LayerVectorDiary),
		ImportanceScore: 0.5,
	})
	assert.Error(t, err, "diary entries without a session are rejected")
}

func TestDiarySetValidatesImportance(t *testing.T) {
	layer := NewVectorDiary(Options{})
	ctx := context.Background()

	for _, score := range []float64{-0.1, 1.1, 5} {
		err := layer.Set(ctx, "turn-1", json.RawMessage(`1`), models.SetOptions{
			Embedding:       embedFor(models.LayerVectorDiary),
			SessionID:       "s1",
			ImportanceScore: score,
		})
		assert.Error(t, err, "importance %g is out of range", score)
	}

	for _, score := range []float64{0, 0.5, 1} {
		err := layer.Set(ctx, "turn-1", json.RawMessage(`1`), models.SetOptions{
			Embedding:       embedFor(models.LayerVectorDiary),
			SessionID:       "s1",
			ImportanceScore: score,
		})
		assert.NoError(t, err, "importance %g is valid", score)
	}
}

func TestDiarySearchIsSessionScoped(t *testing.T) {
	layer := NewVectorDiary(Options{})
	ctx := context.Background()

	embed := embedFor(models.LayerVectorDiary)
	require.NoError(t, layer.Set(ctx, "mine", json.RawMessage(`1`), models.SetOptions{
		Embedding: embed, SessionID: "s1", ImportanceScore: 0.5,
	}))
	require.NoError(t, layer.Set(ctx, "theirs", json.RawMessage(`1`), models.SetOptions{
		Embedding: embed, SessionID: "s2", ImportanceScore: 0.5,
	}))

	matches, err := layer.Search(ctx, embed, models.SearchOptions{TopK: 10, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mine", matches[0].Entry.Key)
}

func TestDiarySearchRanksByImportance(t *testing.T) {
	layer := NewVectorDiary(Options{})
	ctx := context.Background()

	embed := embedFor(models.LayerVectorDiary)
	require.NoError(t, layer.Set(ctx, "aside", json.RawMessage(`1`), models.SetOptions{
		Embedding: embed, SessionID: "s1", ImportanceScore: 0.2,
	}))
	require.NoError(t, layer.Set(ctx, "decision", json.RawMessage(`1`), models.SetOptions{
		Embedding: embed, SessionID: "s1", ImportanceScore: 0.9,
	}))

	matches, err := layer.Search(ctx, embed, models.SearchOptions{TopK: 10, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "decision", matches[0].Entry.Key,
		"equal similarity ranks by importance")
}
