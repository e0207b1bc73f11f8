package pgvector

import (
	"context"
	"fmt"
	"strings"

	"dev.helix.semcache/internal/models"
)

// TableFor maps a layer to its backing table.
func TableFor(layer models.Layer) string {
	switch layer {
	case models.LayerPredictive:
		return "predictive_cache"
	case models.LayerSemantic:
		return "semantic_cache"
	case models.LayerVector:
		return "vector_cache"
	case models.LayerGlobal:
		return "global_cache"
	case models.LayerVectorDiary:
		return "vector_diary"
	}
	return ""
}

// touchFunction keeps access bookkeeping in the database: every row update
// refreshes last_accessed and increments access_count atomically with the
// update itself.
const touchFunction = `
CREATE OR REPLACE FUNCTION semcache_touch() RETURNS trigger AS $$
BEGIN
    NEW.access_count := OLD.access_count + 1;
    NEW.last_accessed := NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`

// EnsureSchema creates the five layer tables, the access-tracking trigger and
// all supporting indexes. Safe to run repeatedly.
func (c *Client) EnsureSchema(ctx context.Context) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, touchFunction); err != nil {
		return fmt.Errorf("failed to create touch function: %w", err)
	}

	for _, layer := range models.AllLayers() {
		for _, stmt := range schemaStatements(layer) {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema for %s: %w", layer, err)
			}
		}
	}

	c.logger.Info("Cache schema ensured")
	return nil
}

func schemaStatements(layer models.Layer) []string {
	table := TableFor(layer)

	cols := []string{
		"id UUID PRIMARY KEY DEFAULT gen_random_uuid()",
		"key TEXT UNIQUE NOT NULL",
		"value JSONB NOT NULL",
	}
	if layer.HasEmbedding() {
		cols = append(cols, fmt.Sprintf("embedding vector(%d) NOT NULL", layer.Dimension()))
	}
	cols = append(cols,
		"metadata JSONB",
		"created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		"expires_at TIMESTAMPTZ",
		"access_count INTEGER NOT NULL DEFAULT 0 CHECK (access_count >= 0)",
		"last_accessed TIMESTAMPTZ",
	)
	if layer == models.LayerVectorDiary {
		cols = append(cols,
			"session_id TEXT NOT NULL",
			"context_type TEXT",
			"importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (importance_score >= 0.0 AND importance_score <= 1.0)",
		)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at)", table, table),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s_touch ON %s", table, table),
		fmt.Sprintf("CREATE TRIGGER %s_touch BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION semcache_touch()", table, table),
	}
	if layer.HasEmbedding() {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)", table, table))
	}
	if layer == models.LayerVectorDiary {
		stmts = append(stmts,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_session_id_idx ON %s (session_id)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_context_type_idx ON %s (context_type)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_importance_idx ON %s (importance_score DESC)", table, table),
		)
	}
	return stmts
}
