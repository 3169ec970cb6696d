package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
)

// FeedSpec names the Atom or RSS feeds announcing new pages of a corpus.
type FeedSpec struct {
	Corpus string
	URLs   []string
}

// Feed collects article links from Atom and RSS feeds.
type Feed struct {
	deps Deps
	spec FeedSpec
}

var _ extractor.Collector = (*Feed)(nil)

func NewFeed(deps Deps, spec FeedSpec) *Feed {
	return &Feed{deps: deps.withDefaults(), spec: spec}
}

func (f *Feed) RelatedCorpus() string { return f.spec.Corpus }

// Collect returns one reference per distinct link found across the feeds.
// A failing feed is logged and skipped.
func (f *Feed) Collect(ctx context.Context) ([]domain.Document, error) {
	seen := map[string]struct{}{}
	var (
		out    []domain.Document
		failed int
	)
	for _, feedURL := range f.spec.URLs {
		body, err := httpclient.Get(ctx, f.deps.HTTP, feedURL, http.Header{
			"Accept": {"application/atom+xml, application/rss+xml, application/xml;q=0.9"},
		})
		if err != nil {
			failed++
			f.deps.Logger.Warn("feed unavailable", "corpus", f.spec.Corpus, "feed", feedURL, "err", err)
			continue
		}
		links, err := FeedLinks(body, feedURL)
		if err != nil {
			failed++
			f.deps.Logger.Warn("feed unreadable", "corpus", f.spec.Corpus, "feed", feedURL, "err", err)
			continue
		}
		for _, link := range links {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, domain.Document{URL: link})
		}
	}
	if failed > 0 && failed == len(f.spec.URLs) {
		return nil, fmt.Errorf("collect %s: all %d feeds failed", f.spec.Corpus, failed)
	}
	return out, nil
}

// FeedLinks extracts entry links of an Atom feed or item links of an RSS feed,
// keeping only those on the feed's own domain.
func FeedLinks(data []byte, feedURL string) ([]string, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", domain.ErrSchemaMismatch, err)
	}
	feedHost := registrableHost(feedURL)

	var raw []string
	for _, n := range xmlquery.Find(root, "//*[local-name()='entry']/*[local-name()='link']") {
		rel := n.SelectAttr("rel")
		if rel != "" && rel != "alternate" {
			continue
		}
		raw = append(raw, n.SelectAttr("href"))
	}
	for _, n := range xmlquery.Find(root, "//item/link") {
		raw = append(raw, n.InnerText())
	}

	var links []string
	for _, href := range raw {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		link := resolveURL(feedURL, href)
		if registrableHost(link) != feedHost {
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

// registrableHost is the lowercased host without port or leading "www.".
func registrableHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
