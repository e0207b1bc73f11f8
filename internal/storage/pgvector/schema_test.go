package pgvector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.semcache/internal/models"
)

func TestTableFor(t *testing.T) {
	assert.Equal(t, "predictive_cache", TableFor(models.LayerPredictive))
	assert.Equal(t, "semantic_cache", TableFor(models.LayerSemantic))
	assert.Equal(t, "vector_cache", TableFor(models.LayerVector))
	assert.Equal(t, "global_cache", TableFor(models.LayerGlobal))
	assert.Equal(t, "vector_diary", TableFor(models.LayerVectorDiary))
	assert.Equal(t, "", TableFor(models.Layer("unknown")))
}

func TestSchemaStatements(t *testing.T) {
	for _, layer := range models.AllLayers() {
		t.Run(string(layer), func(t *testing.T) {
			stmts := schemaStatements(layer)
			require.NotEmpty(t, stmts)

			all := strings.Join(stmts, ";\n")
			assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS "+TableFor(layer))
			assert.Contains(t, stmts[0], "key TEXT UNIQUE NOT NULL")
			assert.Contains(t, stmts[0], "value JSONB NOT NULL")
			assert.Contains(t, all, "BEFORE UPDATE ON "+TableFor(layer))

			if layer.HasEmbedding() {
				assert.Contains(t, stmts[0], "embedding vector(")
				assert.Contains(t, stmts[0], "NOT NULL")
				assert.Contains(t, all, "USING hnsw (embedding vector_cosine_ops)")
			} else {
				assert.NotContains(t, all, "embedding")
			}

			if layer == models.LayerVectorDiary {
				assert.Contains(t, stmts[0], "session_id TEXT NOT NULL")
				assert.Contains(t, stmts[0], "importance_score DOUBLE PRECISION")
			}
		})
	}
}

func TestSchemaEmbeddingDimensions(t *testing.T) {
	assert.Contains(t, schemaStatements(models.LayerSemantic)[0], "vector(384)")
	assert.Contains(t, schemaStatements(models.LayerVector)[0], "vector(1536)")
	assert.Contains(t, schemaStatements(models.LayerVectorDiary)[0], "vector(1536)")
}
