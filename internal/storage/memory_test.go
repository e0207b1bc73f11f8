package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.semcache/internal/models"
)

func semEmbedding(lead ...float32) []float32 {
	v := make([]float32, models.SemanticDimension)
	copy(v, lead)
	return v
}

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key:   "k1",
		Value: json.RawMessage(`"v1"`),
	}))

	entry, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, json.RawMessage(`"v1"`), entry.Value)
	assert.NotEmpty(t, entry.ID, "an id is assigned on first write")

	entry, err = store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, entry, "absence is (nil, nil), not an error")
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Set(ctx, &models.CacheEntry{
			Key:   "k1",
			Value: json.RawMessage(`"latest"`),
		}))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "same-key writes replace, never duplicate")

	entry, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"latest"`), entry.Value)
}

func TestMemoryStoreAccessTracking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "k1", Value: json.RawMessage(`1`)}))

	first, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "k1")
	require.NoError(t, err)

	assert.Equal(t, first.AccessCount+1, second.AccessCount)
	assert.NotNil(t, second.LastAccessed)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "k1", Value: json.RawMessage(`1`)}))
	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.Delete(ctx, "k1"), "deleting an absent key succeeds")

	entry, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryStoreExpiredEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	past := time.Now().Add(-time.Second)
	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key:       "stale",
		Value:     json.RawMessage(`1`),
		ExpiresAt: &past,
	}))

	entry, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, entry, "logically expired entries read as absent")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "the expired row is reclaimed on read")
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "old1", Value: json.RawMessage(`1`), ExpiresAt: &past}))
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "old2", Value: json.RawMessage(`1`), ExpiresAt: &past}))
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "live", Value: json.RawMessage(`1`), ExpiresAt: &future}))
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "forever", Value: json.RawMessage(`1`)}))

	removed, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 2)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "a", Value: json.RawMessage(`1`)}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "b", Value: json.RawMessage(`1`)}))
	time.Sleep(2 * time.Millisecond)
	// Touch "a" so "b" becomes the eviction candidate.
	_, err := store.Get(ctx, "a")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "c", Value: json.RawMessage(`1`)}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	evicted, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, evicted, "least recently touched entry is evicted")
}

func TestMemoryStoreSearchOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerSemantic, 0)

	entries := []*models.CacheEntry{
		{Key: "exact", Value: json.RawMessage(`1`), Embedding: semEmbedding(1, 0)},
		{Key: "close", Value: json.RawMessage(`1`), Embedding: semEmbedding(1, 1)},
		{Key: "far", Value: json.RawMessage(`1`), Embedding: semEmbedding(0, 1)},
	}
	for _, e := range entries {
		require.NoError(t, store.Set(ctx, e))
	}

	matches, err := store.Search(ctx, &SearchRequest{
		Embedding: semEmbedding(1, 0),
		TopK:      10,
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2, "matches below the threshold are dropped")
	assert.Equal(t, "exact", matches[0].Entry.Key)
	assert.Equal(t, "close", matches[1].Entry.Key)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryStoreSearchTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerSemantic, 0)

	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Set(ctx, &models.CacheEntry{
			Key: key, Value: json.RawMessage(`1`), Embedding: semEmbedding(1, 0),
		}))
	}

	matches, err := store.Search(ctx, &SearchRequest{Embedding: semEmbedding(1, 0), TopK: 2, Threshold: 0.9})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryStoreSearchSessionFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerVectorDiary, 0)

	embed := make([]float32, models.DiaryDimension)
	embed[0] = 1
	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key: "mine", Value: json.RawMessage(`1`), Embedding: embed, SessionID: "s1",
	}))
	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key: "theirs", Value: json.RawMessage(`1`), Embedding: embed, SessionID: "s2",
	}))

	matches, err := store.Search(ctx, &SearchRequest{Embedding: embed, TopK: 10, Threshold: 0.5, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mine", matches[0].Entry.Key)
}

func TestMemoryStoreSearchImportanceTieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerVectorDiary, 0)

	embed := make([]float32, models.DiaryDimension)
	embed[0] = 1
	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key: "minor", Value: json.RawMessage(`1`), Embedding: embed, SessionID: "s1", ImportanceScore: 0.1,
	}))
	require.NoError(t, store.Set(ctx, &models.CacheEntry{
		Key: "major", Value: json.RawMessage(`1`), Embedding: embed, SessionID: "s1", ImportanceScore: 0.9,
	}))

	matches, err := store.Search(ctx, &SearchRequest{
		Embedding: embed, TopK: 10, Threshold: 0.5, SessionID: "s1", RankImportance: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "major", matches[0].Entry.Key, "equal similarity breaks toward higher importance")
}

func TestMemoryStoreSearchUnsupportedLayer(t *testing.T) {
	store := NewMemoryStore(models.LayerPredictive, 0)

	_, err := store.Search(context.Background(), &SearchRequest{Embedding: []float32{1}})
	assert.ErrorIs(t, err, ErrSearchUnsupported)
}

func TestMemoryStoreGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(models.LayerPredictive, 0)

	require.NoError(t, store.Set(ctx, &models.CacheEntry{Key: "k", Value: json.RawMessage(`"orig"`)}))

	first, err := store.Get(ctx, "k")
	require.NoError(t, err)
	first.Value[1] = 'X'

	second, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"orig"`), second.Value, "callers cannot mutate cached state")
}
