package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/logging"
)

// fakePDF returns a fixed text for every url and remembers the requests.
type fakePDF struct {
	text string
	err  error
	urls []string
}

func (f *fakePDF) FetchText(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

func TestRunEachKeepsOrderAndRecoversPanics(t *testing.T) {
	t.Parallel()

	refs := []domain.Document{{ID: 1, URL: "a"}, {ID: 2, URL: "b"}, {ID: 3, URL: "c"}}
	results := runEach(context.Background(), 2, logging.Discard(), refs, func(_ context.Context, ref domain.Document) (domain.Document, error) {
		switch ref.ID {
		case 2:
			panic("broken page")
		case 3:
			return domain.Document{}, errors.New("timeout")
		}
		return domain.Document{Title: "ok"}, nil
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, int64(1), results[0].Document.ID)
	assert.Equal(t, "a", results[0].Document.URL)

	require.NotNil(t, results[1].Rejection)
	assert.Equal(t, domain.KindSchemaMismatch, results[1].Rejection.Kind)
	assert.Contains(t, results[1].Rejection.Info, "broken page")

	require.NotNil(t, results[2].Rejection)
	assert.Equal(t, domain.KindTransient, results[2].Rejection.Kind)
	assert.Equal(t, int64(3), results[2].Reference.ID)
}

func TestTextHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Résumé", firstSentence(" Résumé. Plus."))
	assert.Equal(t, "no period", firstSentence("no period"))
	assert.Equal(t, "https://example.org/a/b.pdf", resolveURL("https://example.org/a/page", "b.pdf"))
	assert.Equal(t, "W123", lastSegment("https://openalex.org/W123/"))
	assert.Equal(t, "hal-00006805", lastSegment("hal-00006805"))
}
