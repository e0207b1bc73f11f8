package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dev.helix.semcache/internal/models"
)

// MemoryStore is an in-memory Store. It backs the storage-error fallback
// path, the offline cache, backup snapshots, and unit tests. Same-key writes
// are serialized under the store lock so upserts stay last-writer-wins.
type MemoryStore struct {
	layer   models.Layer
	maxSize int

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
}

// NewMemoryStore creates an in-memory store for one layer. maxSize <= 0
// means unbounded.
func NewMemoryStore(layer models.Layer, maxSize int) *MemoryStore {
	return &MemoryStore{
		layer:   layer,
		maxSize: maxSize,
		entries: make(map[string]*models.CacheEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	if entry.Expired(now) {
		delete(s.entries, key)
		return nil, nil
	}
	entry.AccessCount++
	entry.LastAccessed = &now
	return entry.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := entry.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	now := time.Now()
	if prev, ok := s.entries[cp.Key]; ok {
		// Overwrite counts as an access to the same key.
		cp.AccessCount = prev.AccessCount + 1
	}
	cp.LastAccessed = &now

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		if _, exists := s.entries[cp.Key]; !exists {
			s.evictOldestLocked()
		}
	}
	s.entries[cp.Key] = cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*models.CacheEntry)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, req *SearchRequest) ([]models.SearchMatch, error) {
	if !s.layer.HasEmbedding() {
		return nil, ErrSearchUnsupported
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	matches := make([]models.SearchMatch, 0)
	for _, entry := range s.entries {
		if entry.Expired(now) || len(entry.Embedding) == 0 {
			continue
		}
		if req.SessionID != "" && entry.SessionID != req.SessionID {
			continue
		}
		score := models.CosineSimilarity(req.Embedding, entry.Embedding)
		if score < req.Threshold {
			continue
		}
		matches = append(matches, models.SearchMatch{Entry: entry.Clone(), Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if req.RankImportance && a.Entry.ImportanceScore != b.Entry.ImportanceScore {
			return a.Entry.ImportanceScore > b.Entry.ImportanceScore
		}
		if a.Entry.AccessCount != b.Entry.AccessCount {
			return a.Entry.AccessCount > b.Entry.AccessCount
		}
		return laterAccess(a.Entry, b.Entry)
	})

	if req.TopK > 0 && len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// evictOldestLocked drops the least recently touched entry. Caller holds the
// write lock.
func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, entry := range s.entries {
		ts := entry.CreatedAt
		if entry.LastAccessed != nil {
			ts = *entry.LastAccessed
		}
		if first || ts.Before(oldest) {
			first = false
			oldest = ts
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

func laterAccess(a, b *models.CacheEntry) bool {
	at, bt := a.CreatedAt, b.CreatedAt
	if a.LastAccessed != nil {
		at = *a.LastAccessed
	}
	if b.LastAccessed != nil {
		bt = *b.LastAccessed
	}
	return at.After(bt)
}
