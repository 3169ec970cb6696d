package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/license"
	"EduPipeline/internal/textclean"
)

const (
	peerjCorpus          = "peerj"
	peerjContentSelector = "div.article-body, section.article-body, #article-body"
)

// PeerJ scrapes PeerJ article pages.
type PeerJ struct {
	deps Deps
}

var _ extractor.Extractor = (*PeerJ)(nil)

func NewPeerJ(deps Deps) *PeerJ {
	return &PeerJ{deps: deps.withDefaults()}
}

func (p *PeerJ) RelatedCorpus() string      { return peerjCorpus }
func (p *PeerJ) Variant() extractor.Variant { return extractor.VariantScraper }

func (p *PeerJ) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	return runEach(ctx, p.deps.Workers, p.deps.Logger, refs, p.extract)
}

func (p *PeerJ) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	page, err := fetchDocument(ctx, p.deps.HTTP, ref.URL)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get peerj page: %w", err)
	}
	return ParsePeerJ(page, ref.URL)
}

// ParsePeerJ reads an article page; it rejects pages whose license link is not allow-listed.
func ParsePeerJ(page *goquery.Document, pageURL string) (domain.Document, error) {
	href, _ := page.Find("span.license-p a").First().Attr("href")
	licenseURL := resolveURL(pageURL, href)
	if href == "" {
		licenseURL = ""
	}
	if err := license.Check(licenseURL, ""); err != nil {
		return domain.Document{}, fmt.Errorf("peerj %s: %w", pageURL, err)
	}

	description := textclean.Clean(page.Find("div.abstract").First().Text())
	if description == "" {
		description = metaContent(page, "description")
	}

	var content []string
	page.Find(peerjContentSelector).First().Find("h2, h3, h4, p, li").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("li").Length() > 0 && goquery.NodeName(s) == "p" {
			return
		}
		if text := textclean.Line(s.Text()); text != "" {
			content = append(content, text)
		}
	})

	lang := metaContent(page, "citation_language")
	if lang == "" {
		lang, _ = page.Find("html").Attr("lang")
	}
	if lang == "" {
		lang = "en"
	}

	var keywords []string
	for _, k := range strings.Split(metaContent(page, "citation_keywords"), ";") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return domain.Document{
		Title:       textclean.Line(metaContent(page, "citation_title")),
		Lang:        strings.ToLower(strings.SplitN(lang, "-", 2)[0]),
		Description: description,
		FullContent: textclean.Clean(strings.Join(content, "\n")),
		Details: domain.Details{
			domain.DetailLicenseURL:      licenseURL,
			domain.DetailDOI:             metaContent(page, "citation_doi"),
			domain.DetailPublicationDate: metaContent(page, "citation_publication_date"),
			domain.DetailAuthors:         authorsDetail(CitationAuthors(page)),
			domain.DetailKeywords:        stringsDetail(keywords),
			domain.DetailContentFromPDF:  false,
		},
	}, nil
}

// CitationAuthors pairs each citation_author meta tag with the
// citation_author_institution tags that follow it.
func CitationAuthors(page *goquery.Document) []domain.Author {
	var authors []domain.Author
	page.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		value := strings.TrimSpace(s.AttrOr("content", ""))
		switch name {
		case "citation_author":
			authors = append(authors, domain.Author{Name: value})
		case "citation_author_institution":
			if len(authors) > 0 && value != "" {
				last := &authors[len(authors)-1]
				last.Institutions = append(last.Institutions, value)
			}
		}
	})
	return authors
}

func metaContent(page *goquery.Document, name string) string {
	v, _ := page.Find(`meta[name="` + name + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}
