package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/storage"
)

// Store implements storage.Store over one layer's table. All writes are
// single upsert statements so a cancelled call never leaves a half-written
// row.
type Store struct {
	client *Client
	layer  models.Layer
	table  string
	logger *logrus.Entry
}

// NewStore creates the store for one layer.
func NewStore(client *Client, layer models.Layer) *Store {
	return &Store{
		client: client,
		layer:  layer,
		table:  TableFor(layer),
		logger: client.logger.WithField("table", TableFor(layer)),
	}
}

func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	pool, err := s.client.acquirePool()
	if err != nil {
		return nil, recovery.NewFailure(recovery.KindConnection, "get", err)
	}

	// Best-effort purge of an expired row before the tracked read.
	_, _ = pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= NOW()", s.table), key)

	// The empty update fires the touch trigger: access_count and
	// last_accessed change atomically with the read.
	query := fmt.Sprintf(
		"UPDATE %s SET key = key WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW()) RETURNING %s",
		s.table, s.selectColumns())

	row := pool.QueryRow(ctx, query, key)
	entry, err := s.scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.table, err)
	}
	return entry, nil
}

func (s *Store) Set(ctx context.Context, entry *models.CacheEntry) error {
	pool, err := s.client.acquirePool()
	if err != nil {
		return recovery.NewFailure(recovery.KindConnection, "set", err)
	}

	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	cols := []string{"key", "value"}
	args := []interface{}{entry.Key, string(entry.Value)}
	casts := map[string]string{"value": "::jsonb", "metadata": "::jsonb", "embedding": "::vector"}

	if s.layer.HasEmbedding() {
		cols = append(cols, "embedding")
		args = append(args, vectorToString(entry.Embedding))
	}
	cols = append(cols, "metadata", "created_at", "expires_at")
	args = append(args, metadata, entry.CreatedAt, entry.ExpiresAt)
	if s.layer == models.LayerVectorDiary {
		cols = append(cols, "session_id", "context_type", "importance_score")
		args = append(args, entry.SessionID, entry.ContextType, entry.ImportanceScore)
	}

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d%s", i+1, casts[col])
		if col != "key" && col != "created_at" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (key) DO UPDATE SET %s",
		s.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	pool, err := s.client.acquirePool()
	if err != nil {
		return recovery.NewFailure(recovery.KindConnection, "delete", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table), key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	pool, err := s.client.acquirePool()
	if err != nil {
		return recovery.NewFailure(recovery.KindConnection, "clear", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.table, err)
	}
	s.logger.Warn("Layer table cleared")
	return nil
}

func (s *Store) Search(ctx context.Context, req *storage.SearchRequest) ([]models.SearchMatch, error) {
	if !s.layer.HasEmbedding() {
		return nil, storage.ErrSearchUnsupported
	}
	pool, err := s.client.acquirePool()
	if err != nil {
		return nil, recovery.NewFailure(recovery.KindConnection, "search", err)
	}

	args := []interface{}{vectorToString(req.Embedding), req.Threshold}
	where := "(expires_at IS NULL OR expires_at > NOW()) AND 1 - (embedding <=> $1::vector) >= $2"
	if req.SessionID != "" {
		args = append(args, req.SessionID)
		where += fmt.Sprintf(" AND session_id = $%d", len(args))
	}

	order := "score DESC"
	if req.RankImportance {
		order += ", importance_score DESC"
	}
	order += ", access_count DESC, last_accessed DESC NULLS LAST"

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	args = append(args, topK)

	query := fmt.Sprintf(
		"SELECT %s, 1 - (embedding <=> $1::vector) AS score FROM %s WHERE %s ORDER BY %s LIMIT $%d",
		s.selectColumns(), s.table, where, order, len(args))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", s.table, err)
	}
	defer rows.Close()

	matches := make([]models.SearchMatch, 0, topK)
	for rows.Next() {
		entry, score, err := s.scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.table, err)
		}
		matches = append(matches, models.SearchMatch{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", s.table, err)
	}
	return matches, nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.client.acquirePool()
	if err != nil {
		return 0, recovery.NewFailure(recovery.KindConnection, "sweep", err)
	}
	tag, err := pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1", s.table), now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s: %w", s.table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	pool, err := s.client.acquirePool()
	if err != nil {
		return 0, recovery.NewFailure(recovery.KindConnection, "count", err)
	}
	var count int64
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return count, nil
}

func (s *Store) selectColumns() string {
	cols := []string{"id::text", "key", "value", "metadata", "created_at", "expires_at", "access_count", "last_accessed"}
	if s.layer.HasEmbedding() {
		cols = append(cols, "embedding::text")
	}
	if s.layer == models.LayerVectorDiary {
		cols = append(cols, "session_id", "context_type", "importance_score")
	}
	return strings.Join(cols, ", ")
}

func (s *Store) scanEntry(row pgx.Row) (*models.CacheEntry, error) {
	entry := &models.CacheEntry{}
	var value, metadata []byte
	var embedding *string

	dests := []interface{}{
		&entry.ID, &entry.Key, &value, &metadata,
		&entry.CreatedAt, &entry.ExpiresAt, &entry.AccessCount, &entry.LastAccessed,
	}
	if s.layer.HasEmbedding() {
		dests = append(dests, &embedding)
	}
	var contextType *string
	if s.layer == models.LayerVectorDiary {
		dests = append(dests, &entry.SessionID, &contextType, &entry.ImportanceScore)
	}

	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	entry.Value = json.RawMessage(value)
	if metadata != nil {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, recovery.NewFailure(recovery.KindCorruption, "scan",
				fmt.Errorf("undecodable metadata for key %q: %w", entry.Key, err))
		}
	}
	if embedding != nil {
		vec, err := parseVector(*embedding)
		if err != nil {
			return nil, recovery.NewFailure(recovery.KindCorruption, "scan",
				fmt.Errorf("undecodable embedding for key %q: %w", entry.Key, err))
		}
		entry.Embedding = vec
	}
	if contextType != nil {
		entry.ContextType = *contextType
	}
	return entry, nil
}

func (s *Store) scanMatch(rows pgx.Rows) (*models.CacheEntry, float64, error) {
	entry := &models.CacheEntry{}
	var value, metadata []byte
	var embedding *string
	var contextType *string
	var score float64

	dests := []interface{}{
		&entry.ID, &entry.Key, &value, &metadata,
		&entry.CreatedAt, &entry.ExpiresAt, &entry.AccessCount, &entry.LastAccessed,
		&embedding,
	}
	if s.layer == models.LayerVectorDiary {
		dests = append(dests, &entry.SessionID, &contextType, &entry.ImportanceScore)
	}
	dests = append(dests, &score)

	if err := rows.Scan(dests...); err != nil {
		return nil, 0, err
	}

	entry.Value = json.RawMessage(value)
	if metadata != nil {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, 0, recovery.NewFailure(recovery.KindCorruption, "scan",
				fmt.Errorf("undecodable metadata for key %q: %w", entry.Key, err))
		}
	}
	if embedding != nil {
		vec, err := parseVector(*embedding)
		if err != nil {
			return nil, 0, recovery.NewFailure(recovery.KindCorruption, "scan",
				fmt.Errorf("undecodable embedding for key %q: %w", entry.Key, err))
		}
		entry.Embedding = vec
	}
	if contextType != nil {
		entry.ContextType = *contextType
	}
	return entry, score, nil
}

func marshalMetadata(m map[string]interface{}) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
