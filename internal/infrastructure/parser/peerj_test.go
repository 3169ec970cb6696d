package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/logging"
)

const peerjPage = `<html lang="en"><head>
<meta name="citation_title" content="Seagrass  meadows">
<meta name="citation_doi" content="10.7717/peerj.1">
<meta name="citation_author" content="Ann Lee">
<meta name="citation_author_institution" content="Ocean Lab">
<meta name="citation_author" content="Bo Chan">
<meta name="citation_keywords" content="seagrass; carbon ;">
<meta name="description" content="Meta description.">
</head><body>
<div class="abstract"><p>Seagrass stores carbon.</p></div>
<div class="article-body">
 <h2>Methods</h2><p>We sampled meadows.</p>
 <ul><li><p>Site A</p></li></ul>
</div>
<span class="license-p">Licensed <a href="http://creativecommons.org/licenses/by/4.0/">CC BY</a></span>
</body></html>`

func TestParsePeerJ(t *testing.T) {
	t.Parallel()

	page, err := goquery.NewDocumentFromReader(strings.NewReader(peerjPage))
	require.NoError(t, err)

	doc, err := ParsePeerJ(page, "https://peerj.com/articles/1/")
	require.NoError(t, err)

	assert.Equal(t, "Seagrass meadows", doc.Title)
	assert.Equal(t, "Seagrass stores carbon.", doc.Description)
	assert.Equal(t, "Methods We sampled meadows. Site A", doc.FullContent)
	assert.Equal(t, "en", doc.Lang)
	assert.Equal(t, "10.7717/peerj.1", doc.Details[domain.DetailDOI])
	assert.Equal(t, []any{"seagrass", "carbon"}, doc.Details[domain.DetailKeywords])

	authors := CitationAuthors(page)
	require.Len(t, authors, 2)
	assert.Equal(t, []string{"Ocean Lab"}, authors[0].Institutions)
	assert.Empty(t, authors[1].Institutions)
}

func TestPeerJRejectsUnlicensedPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Replace(peerjPage, "licenses/by/4.0", "licenses/by-nd/4.0", 1)))
	}))
	t.Cleanup(srv.Close)

	results := NewPeerJ(Deps{HTTP: srv.Client(), Logger: logging.Discard()}).Run(context.Background(), []domain.Document{{ID: 1, URL: srv.URL + "/articles/1/"}})
	require.NotNil(t, results[0].Rejection)
	assert.Equal(t, domain.KindLegal, results[0].Rejection.Kind)
}
