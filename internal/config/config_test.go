package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := load(lookupFrom(nil), nil)
	assert.Equal(t, "input/batch_ids.csv", cfg.Artifacts.BatchIDsPath())
	assert.Equal(t, "output/batch_urls/quantity.txt", cfg.Artifacts.Output("batch_urls", "quantity.txt"))
	assert.Equal(t, 100, cfg.Parallelism.Threshold)
	assert.Equal(t, 15, cfg.Parallelism.URLMax)
	assert.Equal(t, 1000, cfg.Vector.ChunkSize)
	assert.Equal(t, 10, cfg.Scraping.RetryMax)
	assert.Equal(t, 60*time.Second, cfg.Scraping.Timeout)
	assert.Equal(t, "postgres://postgres:@localhost:5432/edupipeline?sslmode=disable", cfg.Database.DataSource())
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
parallelism:
  threshold: 7
  urlMax: 3
scraping:
  timeout: 5s
sanitary:
  interval: 30m
sources:
  feeds:
    - corpus: conversation
      urls: ["https://theconversation.com/fr/articles.atom"]
`), 0o600))

	env := map[string]string{
		configPathEnv:           file,
		"PARALLELISM_THRESHOLD": "9",
		"SCRAPING_TIMEOUT":      "12",
		"PG_DRIVER":             "sqlite",
		"PG_DB":                 ":memory:",
		"QDRANT_WAIT":           "false",
		"PDF_SIZE_FILE_LIMIT":   "1048576",
		"PARALLELISM_URL_MAX":   "lots",
	}
	cfg := load(lookupFrom(env), environ(env))

	assert.Equal(t, 9, cfg.Parallelism.Threshold)
	assert.Equal(t, 3, cfg.Parallelism.URLMax, "bad numbers are ignored")
	assert.Equal(t, 12*time.Second, cfg.Scraping.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Sanitary.Interval)
	assert.Equal(t, ":memory:", cfg.Database.DataSource())
	assert.False(t, cfg.Vector.Wait)
	assert.Equal(t, int64(1<<20), cfg.PDF.FileLimit)
	require.Len(t, cfg.Sources.Feeds, 1)
	assert.Equal(t, "conversation", cfg.Sources.Feeds[0].Corpus)
}

func TestEmbeddingModelsFromEnvironment(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"EMBEDDING_MODEL_EN":           "paraphrase-multilingual",
		"EMBEDDING_MODEL_FR":           "camembert",
		"EMBEDDING_MODELS_NAME_PREFIX": "EMBEDDING_MODEL",
		"EMBEDDING_MODEL_":             "ignored",
	}
	cfg := load(lookupFrom(env), environ(env))

	name, ok := cfg.Models.EmbeddingModel("EN")
	require.True(t, ok)
	assert.Equal(t, "paraphrase-multilingual", name)

	name, ok = cfg.Models.EmbeddingModel("fr")
	require.True(t, ok)
	assert.Equal(t, "camembert", name)

	_, ok = cfg.Models.EmbeddingModel("de")
	assert.False(t, ok)
}

func TestCustomModelPrefix(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"EMBEDDING_MODELS_NAME_PREFIX": "ENC",
		"ENC_ES":                       "beto",
		"EMBEDDING_MODEL_EN":           "unused",
	}
	cfg := load(lookupFrom(env), environ(env))

	assert.Equal(t, map[string]string{"es": "beto"}, cfg.Models.Embedding)
}

func TestQdrantHost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "qdrant", VectorConfig{QdrantURL: "http://qdrant:6333"}.QdrantHost())
	assert.Equal(t, "localhost", VectorConfig{QdrantURL: "localhost"}.QdrantHost())
	assert.True(t, VectorConfig{QdrantURL: "https://cloud.qdrant.io"}.QdrantTLS())
}
