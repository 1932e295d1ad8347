package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hashing", cfg.Embedder.Type)
	require.NotNil(t, cfg.Embedder.Hashing)
	assert.Equal(t, 384, cfg.Embedder.Hashing.Dimension)
	assert.Equal(t, ChunkerConfig{Type: "word", ChunkSize: 250, Overlap: 50, SentencesPerChunk: 5}, cfg.Chunker)
	assert.Equal(t, VectorStoreConfig{Type: "local", Local: LocalConfig{Dir: "local_db", Index: "docs_index"}}, cfg.VectorStore)
	assert.Equal(t, RetrievalConfig{TopK: 5, AnswerContexts: 3}, cfg.Retrieval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	require.NoError(t, cfg.Validate())
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("LOCALRAG_TEST_DIR", "/var/lib/rag")
	t.Setenv("LOCALRAG_TEST_UNSET", "")

	cfg, err := Parse([]byte(`
vector_store:
  local:
    dir: ${LOCALRAG_TEST_DIR}
    index: ${LOCALRAG_TEST_UNSET:-papers}
embedder:
  type: openai
  openai:
    model: ${LOCALRAG_TEST_MODEL:-nomic-embed-text}
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rag", cfg.VectorStore.Local.Dir)
	assert.Equal(t, "papers", cfg.VectorStore.Local.Index)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 32, cfg.Embedder.OpenAI.BatchSize)
}

func TestParse_ExplicitChunkSizeKeepsZeroOverlap(t *testing.T) {
	cfg, err := Parse([]byte("chunker:\n  chunk_size: 100\n"))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Chunker.ChunkSize)
	assert.Equal(t, 0, cfg.Chunker.Overlap)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown embedder", "embedder:\n  type: bert\n"},
		{"unknown chunker", "chunker:\n  type: paragraph\n"},
		{"overlap equals size", "chunker:\n  chunk_size: 10\n  overlap: 10\n"},
		{"negative overlap", "chunker:\n  chunk_size: 10\n  overlap: -1\n"},
		{"negative chunk size", "chunker:\n  chunk_size: -5\n"},
		{"sentence overlap too large", "chunker:\n  type: sentence\n  sentences_per_chunk: 2\n  overlap_sentences: 2\n"},
		{"unknown store", "vector_store:\n  type: qdrant\n"},
		{"negative top_k", "retrieval:\n  top_k: -1\n"},
		{"negative hashing dimension", "embedder:\n  hashing:\n    dimension: -3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("chunker: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Retrieval.TopK = 8
	cfg.VectorStore.Local.Lock = true

	require.NoError(t, Save(path, cfg))
	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "localrag", "config.yaml"), path)
	assert.Equal(t, defaultConfig(), cfg)
	assert.FileExists(t, path)
}
