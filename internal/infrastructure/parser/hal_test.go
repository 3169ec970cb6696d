package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/logging"
)

func halServer(t *testing.T, docs []HALRecord) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("q"), "halId_s:(")
		assert.Equal(t, "json", r.URL.Query().Get("wt"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": map[string]any{"docs": docs}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHALTakesPDFWhenLicenceAllowed(t *testing.T) {
	t.Parallel()

	srv := halServer(t, []HALRecord{{
		HalID:    "hal-00006805",
		URI:      "https://hal.science/hal-00006805",
		Title:    []string{"Une étude"},
		Abstract: []string{"Résumé. Plus."},
		Licence:  "http://hal.archives-ouvertes.fr/licences/publicDomain/",
		FileMain: "https://hal.science/hal-00006805/document",
		Language: []string{"fr"},
		DocType:  "ART",
	}})
	pdf := &fakePDF{text: "PDF content"}
	hal := NewHAL(Deps{HTTP: srv.Client(), PDF: pdf, Logger: logging.Discard()}, srv.URL)

	results := hal.Run(context.Background(), []domain.Document{
		{ID: 7, URL: "https://hal.science/hal-00006805v2"},
		{ID: 8, URL: "https://hal.science/hal-99999999"},
	})
	require.Len(t, results, 2)

	require.True(t, results[0].OK())
	doc := results[0].Document
	assert.Equal(t, "PDF content", doc.FullContent)
	assert.Equal(t, "Résumé", doc.Description)
	assert.Equal(t, true, doc.Details[domain.DetailContentFromPDF])
	assert.Equal(t, "article", doc.Details[domain.DetailType])
	assert.Equal(t, "http://hal.archives-ouvertes.fr/licences/publicDomain/", doc.Details[domain.DetailLicenseURL])
	assert.Equal(t, "fr", doc.Lang)
	assert.Equal(t, int64(7), doc.ID)
	assert.Equal(t, []string{"https://hal.science/hal-00006805/document"}, pdf.urls)

	require.NotNil(t, results[1].Rejection)
	assert.Equal(t, domain.KindLegal, results[1].Rejection.Kind)
}

func TestHALFallsBackToAbstract(t *testing.T) {
	t.Parallel()

	pdf := &fakePDF{text: "PDF content"}
	hal := NewHAL(Deps{PDF: pdf, Logger: logging.Discard()}, "http://unused")

	doc, err := hal.Convert(context.Background(), HALRecord{
		HalID:    "hal-1",
		Title:    []string{"Title"},
		Abstract: []string{"First sentence. Second sentence."},
		Licence:  "https://example.org/all-rights-reserved",
		FileMain: "https://hal.science/hal-1/document",
		DocType:  "POSTER",
	})
	require.NoError(t, err)

	assert.Empty(t, pdf.urls)
	assert.Equal(t, "First sentence. Second sentence.", doc.FullContent)
	assert.Equal(t, "First sentence…", doc.Description)
	assert.Equal(t, false, doc.Details[domain.DetailContentFromPDF])
	assert.False(t, doc.Details.Has(domain.DetailLicenseURL))
	assert.Equal(t, "poster", doc.Details[domain.DetailType])
}
