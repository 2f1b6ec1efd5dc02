package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MNEMOS_EMBEDDING_PROVIDER",
		"MNEMOS_EMBEDDING_MODEL",
		"MNEMOS_EMBEDDING_API_KEY",
		"MNEMOS_EMBEDDING_BASE_URL",
		"MNEMOS_EMBEDDING_DIMS",
		"MNEMOS_PG_DSN",
		"MNEMOS_RULES_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "hash", p.EmbeddingProvider)
	assert.Empty(t, p.EmbeddingAPIKey)
	assert.False(t, p.UsesRemoteEmbeddings())
}

func TestFromEnvProviderDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MNEMOS_EMBEDDING_PROVIDER", "siliconflow")
	t.Setenv("MNEMOS_EMBEDDING_API_KEY", "sk-test")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.siliconflow.cn/v1", p.EmbeddingBaseURL)
	assert.Equal(t, "BAAI/bge-m3", p.EmbeddingModel)
	assert.True(t, p.UsesRemoteEmbeddings())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("defaults", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: dir}
		require.NoError(t, p.Validate())
		assert.Equal(t, "memory", p.ProfileImpl)
		assert.Equal(t, "memory", p.KnowledgeImpl)
		assert.Equal(t, "chromem", p.SearchBackend)
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "weird", Data: dir}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("sqlite dsn is derived from data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: dir, ProfileImpl: "sqlite"}
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "mnemos_dev.db"), p.DSN)
	})

	t.Run("pgvector requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: dir, SearchBackend: "pgvector"}
		assert.Error(t, p.Validate())

		p.PgDSN = "postgres://localhost/mnemos?sslmode=disable"
		assert.NoError(t, p.Validate())
	})

	t.Run("unknown implementations rejected", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: dir, ProfileImpl: "redis"}
		assert.Error(t, p.Validate())

		p = &Profile{Mode: "dev", Data: dir, SearchBackend: "milvus"}
		assert.Error(t, p.Validate())
	})
}
