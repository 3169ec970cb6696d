package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPDF(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.4", string(body))
		_, _ = w.Write([]byte(`{"X-TIKA:content":"<html><body><div class=\"page\"><p>First page</p><p>line two</p></div><div class=\"page\"><p>Second</p></div></body></html>"}`))
	}))
	defer srv.Close()

	pages, err := NewClient(srv.URL, srv.Client()).ConvertPDF(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"First page\nline two", "Second"}, pages)
}

func TestMetaFlattensLists(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meta", r.URL.Path)
		assert.Equal(t, "text/html", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"dc:title":"Course","keywords":["water","climate"],"og:image":"https://x/img.png"}`))
	}))
	defer srv.Close()

	meta, err := NewClient(srv.URL+"/", nil).Meta(context.Background(), []byte("<html></html>"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "Course", meta["dc:title"])
	assert.Equal(t, "water, climate", meta["keywords"])
	assert.Equal(t, []string{"dc:title", "keywords", "og:image"}, Keys(meta))
}

func TestSplitPagesWithoutMarkers(t *testing.T) {
	t.Parallel()

	pages, err := SplitPages("<html><body><p>only</p></body></html>")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, pages)
}
