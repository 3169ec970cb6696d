// Package parser holds the per-source extractors and URL collectors.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/panjf2000/ants/v2"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/textmeta"
)

// DefaultWorkers bounds per-document concurrency of the scraper extractors.
const DefaultWorkers = 15

// Deps are the collaborators shared by every extractor.
type Deps struct {
	HTTP      httpclient.Doer
	PDF       ports.PDFFetcher
	Meta      ports.MetaExtractor
	Detector  *textmeta.Detector
	Artifacts ports.ArtifactStore
	Logger    *slog.Logger
	Workers   int
	TeamEmail string
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}
	if d.Detector == nil {
		d.Detector = textmeta.NewDetector()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	return d
}

// fetchFunc extracts one reference.
type fetchFunc func(ctx context.Context, ref domain.Document) (domain.Document, error)

// runEach extracts every reference on a bounded worker pool. Results keep the
// reference order; a panicking reference becomes a schema-mismatch rejection.
func runEach(ctx context.Context, workers int, logger *slog.Logger, refs []domain.Document, fn fetchFunc) []domain.Result {
	results := make([]domain.Result, len(refs))
	if len(refs) == 0 {
		return results
	}

	one := func(i int) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("extractor panicked", "document_id", refs[i].ID, "url", refs[i].URL, "panic", p)
				results[i] = domain.Rejected(refs[i], domain.Rejection{
					Kind: domain.KindSchemaMismatch,
					Info: fmt.Sprintf("extractor panicked: %v", p),
				})
			}
		}()
		doc, err := fn(ctx, refs[i])
		if err != nil {
			results[i] = domain.RejectedErr(refs[i], err)
			return
		}
		results[i] = domain.Extracted(refs[i], doc)
	}

	pool, err := ants.NewPool(max(workers, 1))
	if err != nil {
		logger.Warn("worker pool unavailable, extracting sequentially", "err", err)
		for i := range refs {
			one(i)
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			one(i)
		}); err != nil {
			one(i)
			wg.Done()
		}
	}
	wg.Wait()
	return results
}

func fetchDocument(ctx context.Context, client httpclient.Doer, pageURL string) (*goquery.Document, error) {
	body, err := httpclient.Get(ctx, client, pageURL, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", domain.ErrSchemaMismatch, err)
	}
	return doc, nil
}

// firstSentence returns the text before the first period.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "."); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// resolveURL makes href absolute against base.
func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// lastSegment returns the final non-empty path segment of a URL or id.
func lastSegment(raw string) string {
	raw = strings.TrimRight(raw, "/")
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

func authorsDetail(authors []domain.Author) []any {
	out := make([]any, 0, len(authors))
	for _, a := range authors {
		entry := map[string]any{"name": a.Name}
		if a.ID != "" {
			entry["id"] = a.ID
		}
		if len(a.Institutions) > 0 {
			inst := make([]any, len(a.Institutions))
			for i, s := range a.Institutions {
				inst[i] = s
			}
			entry["institutions"] = inst
		}
		out = append(out, entry)
	}
	return out
}

func stringsDetail(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
