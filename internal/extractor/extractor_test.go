package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
)

type stubExtractor struct {
	corpus  string
	variant Variant
}

func (s stubExtractor) RelatedCorpus() string { return s.corpus }
func (s stubExtractor) Variant() Variant      { return s.variant }
func (s stubExtractor) Run(_ context.Context, refs []domain.Document) []domain.Result {
	out := make([]domain.Result, 0, len(refs))
	for _, ref := range refs {
		out = append(out, domain.Extracted(ref, domain.Document{Title: s.corpus}))
	}
	return out
}

type stubCollector struct{ corpus string }

func (s stubCollector) RelatedCorpus() string { return s.corpus }
func (s stubCollector) Collect(context.Context) ([]domain.Document, error) {
	return []domain.Document{{URL: "https://example.org/" + s.corpus}}, nil
}

func TestRegistrySelect(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(
		stubExtractor{corpus: "hal", variant: VariantREST},
		stubExtractor{corpus: "ted", variant: VariantFile},
		stubExtractor{corpus: "broken", variant: "plugin"},
	)

	t.Run("found", func(t *testing.T) {
		e, err := reg.Select("hal")
		require.NoError(t, err)
		assert.Equal(t, "hal", e.RelatedCorpus())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := reg.Select("unknown")
		assert.ErrorIs(t, err, domain.ErrPluginNotFound)
	})

	t.Run("invalid variant", func(t *testing.T) {
		_, err := reg.Select("broken")
		assert.ErrorIs(t, err, domain.ErrInvalidPluginType)
	})

	t.Run("variant mismatch", func(t *testing.T) {
		_, err := reg.SelectVariant("ted", VariantScraper)
		assert.ErrorIs(t, err, domain.ErrInvalidPluginType)

		e, err := reg.SelectVariant("ted", VariantFile)
		require.NoError(t, err)
		assert.Equal(t, VariantFile, e.Variant())
	})

	assert.Equal(t, []string{"broken", "hal", "ted"}, reg.Corpora())
}

func TestRegistryReplacesByCorpus(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(stubExtractor{corpus: "plos", variant: VariantREST})
	reg.Register(stubExtractor{corpus: "plos", variant: VariantScraper})

	e, err := reg.Select("plos")
	require.NoError(t, err)
	assert.Equal(t, VariantScraper, e.Variant())
}

func TestRegistryCollectors(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterCollector(stubCollector{corpus: "conversation"})
	reg.RegisterCollector(stubCollector{corpus: "conversation"})

	cs, err := reg.Collectors("conversation")
	require.NoError(t, err)
	assert.Len(t, cs, 2)

	_, err = reg.Collectors("ted")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}
