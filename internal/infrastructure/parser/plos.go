package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/license"
)

const plosCorpus = "plos"

// PLOS downloads the JATS manuscript behind each article page.
type PLOS struct {
	deps Deps
}

var _ extractor.Extractor = (*PLOS)(nil)

func NewPLOS(deps Deps) *PLOS {
	return &PLOS{deps: deps.withDefaults()}
}

func (p *PLOS) RelatedCorpus() string      { return plosCorpus }
func (p *PLOS) Variant() extractor.Variant { return extractor.VariantScraper }

func (p *PLOS) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	return runEach(ctx, p.deps.Workers, p.deps.Logger, refs, p.extract)
}

func (p *PLOS) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	manuscript, err := ManuscriptURL(ref.URL)
	if err != nil {
		return domain.Document{}, err
	}
	body, err := httpclient.Get(ctx, p.deps.HTTP, manuscript, http.Header{"Accept": {"application/xml"}})
	if err != nil {
		return domain.Document{}, fmt.Errorf("get plos manuscript: %w", err)
	}

	doc, err := ParseJATS(body)
	if err != nil {
		return domain.Document{}, err
	}
	if err := license.Check(doc.Details.String(domain.DetailLicenseURL), ""); err != nil {
		return domain.Document{}, fmt.Errorf("plos %s: %w", ref.URL, err)
	}
	if doc.ExternalID == "" {
		doc.ExternalID = doc.Details.String(domain.DetailDOI)
	}
	return doc, nil
}

// ManuscriptURL maps an article page such as /plosone/article?id=DOI to its XML
// manuscript /plosone/article/file?id=DOI&type=manuscript.
func ManuscriptURL(articleURL string) (string, error) {
	u, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad plos url %q: %v", domain.ErrSchemaMismatch, articleURL, err)
	}
	id := u.Query().Get("id")
	if id == "" {
		return "", fmt.Errorf("%w: plos url %q has no id", domain.ErrSchemaMismatch, articleURL)
	}

	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/file") + "/file"
	query := url.Values{}
	query.Set("id", id)
	query.Set("type", "manuscript")
	u.RawQuery = query.Encode()
	return u.String(), nil
}
