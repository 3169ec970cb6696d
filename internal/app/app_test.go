package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/config"
	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/pdf"
	"EduPipeline/internal/logging"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Artifacts: config.ArtifactsConfig{
			Root:         t.TempDir(),
			InputFolder:  "input",
			OutputFolder: "output",
			IDCSVName:    "batch_ids.csv",
		},
		Database:    config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", Bootstrap: true},
		Vector:      config.VectorConfig{Backend: "pgvector"},
		Parallelism: config.ParallelismConfig{Threshold: 10, URLMax: 2},
		Logging:     config.LoggingConfig{Level: "error"},
	}
}

func TestNewWiresEveryStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, localConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	for _, name := range []domain.Stage{
		domain.StageExtract, domain.StageVectorize, domain.StageClassify,
		domain.StageKeywords, domain.StageIndex, domain.StageSanitary,
	} {
		s, err := a.Stage(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
	_, err = a.Stage("deploy")
	assert.Error(t, err)

	assert.Contains(t, a.Corpora(), "openalex")
}

func TestGenerateBatchesOnEmptyStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := localConfig(t)

	a, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	n, err := a.GenerateBatches(ctx, domain.StageVectorize, "", 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	raw, err := os.ReadFile(filepath.Join(cfg.Artifacts.Root, "output", "batch_urls", "quantity.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(raw))
}

func TestRunStageWithoutIDFileFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, localConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.RunStage(ctx, domain.StageExtract)
	assert.Error(t, err)
}

func TestNewRejectsUnknownVectorBackend(t *testing.T) {
	t.Parallel()

	cfg := localConfig(t)
	cfg.Vector.Backend = "faiss"
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "unsupported vector backend")
}

func TestBootstrapSchemaIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := localConfig(t)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "edu.db")
	require.NoError(t, BootstrapSchema(context.Background(), cfg))
	require.NoError(t, BootstrapSchema(context.Background(), cfg))
}

func TestPDFToolsUsePDFTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tika", r.URL.Path)
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"X-TIKA:content":"<html><body><div class=\"page\"><p>Slow page.</p></div></body></html>"}`)
	}))
	t.Cleanup(srv.Close)

	cfg := localConfig(t)
	cfg.Scraping.Timeout = 50 * time.Millisecond
	cfg.PDF.Timeout = 10 * time.Second
	cfg.Tika.Address = srv.URL

	converter, meta, _ := pdfTools(cfg, logging.Discard())
	assert.NotNil(t, meta)

	pages, err := converter.ConvertPDF(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0], "Slow page.")

	cfg.Tika.Address = ""
	converter, meta, _ = pdfTools(cfg, logging.Discard())
	assert.IsType(t, pdf.LocalConverter{}, converter)
	assert.Nil(t, meta)
}
