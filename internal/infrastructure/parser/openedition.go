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
	"EduPipeline/internal/license"
	"EduPipeline/internal/textclean"
)

const (
	openEditionCorpus       = "openedition"
	openEditionBodySelector = "#text, div.text"
)

// OpenEdition reads books and chapters from their METS descriptors.
type OpenEdition struct {
	deps Deps
}

var _ extractor.Extractor = (*OpenEdition)(nil)

func NewOpenEdition(deps Deps) *OpenEdition {
	return &OpenEdition{deps: deps.withDefaults()}
}

func (o *OpenEdition) RelatedCorpus() string      { return openEditionCorpus }
func (o *OpenEdition) Variant() extractor.Variant { return extractor.VariantScraper }

func (o *OpenEdition) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	return runEach(ctx, o.deps.Workers, o.deps.Logger, refs, o.extract)
}

// metsRecord is the Dublin Core block of one dmdSec.
type metsRecord struct {
	node *xmlquery.Node
}

func (r metsRecord) value(name string) string {
	n := xmlquery.FindOne(r.node, ".//*[local-name()='"+name+"']")
	return textclean.Line(innerText(n))
}

func (r metsRecord) values(name string) []*xmlquery.Node {
	return xmlquery.Find(r.node, ".//*[local-name()='"+name+"']")
}

// abstract prefers the abstract written in lang.
func (r metsRecord) abstract(lang string) string {
	var fallback string
	for _, n := range r.values("abstract") {
		text := textclean.Clean(n.InnerText())
		if text == "" {
			continue
		}
		if fallback == "" {
			fallback = text
		}
		if strings.EqualFold(attrLocal(n, "lang"), lang) {
			return text
		}
	}
	return fallback
}

// subjects keeps the keywords tagged with lang, or untagged ones.
func (r metsRecord) subjects(lang string) []string {
	var out []string
	for _, n := range r.values("subject") {
		l := attrLocal(n, "lang")
		if l != "" && !strings.EqualFold(l, lang) {
			continue
		}
		if v := textclean.Line(n.InnerText()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (o *OpenEdition) mets(ctx context.Context, pageURL string) ([]metsRecord, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad openedition url %q: %v", domain.ErrSchemaMismatch, pageURL, err)
	}
	query := u.Query()
	query.Set("format", "mets")
	u.RawQuery = query.Encode()

	body, err := httpclient.Get(ctx, o.deps.HTTP, u.String(), http.Header{"Accept": {"application/xml"}})
	if err != nil {
		return nil, fmt.Errorf("get mets %s: %w", pageURL, err)
	}
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse mets: %v", domain.ErrSchemaMismatch, err)
	}

	var records []metsRecord
	for _, n := range xmlquery.Find(root, "//*[local-name()='dmdSec']") {
		records = append(records, metsRecord{node: n})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: mets without dmdSec", domain.ErrSchemaMismatch)
	}
	return records, nil
}

func (o *OpenEdition) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	records, err := o.mets(ctx, ref.URL)
	if err != nil {
		return domain.Document{}, err
	}
	self := records[0]
	lang := strings.ToLower(self.value("language"))

	switch kind := strings.ToLower(self.value("type")); {
	case strings.Contains(kind, "chapter"):
		return o.chapter(ctx, ref, self, lang)
	case strings.Contains(kind, "book"), kind == "":
		return o.book(self, lang), nil
	default:
		return domain.Document{}, fmt.Errorf("%w: unsupported openedition type %q", domain.ErrSchemaMismatch, kind)
	}
}

func (o *OpenEdition) book(rec metsRecord, lang string) domain.Document {
	abstract := rec.abstract(lang)
	doc := domain.Document{
		Title:       rec.value("title"),
		Lang:        lang,
		Description: abstract,
		FullContent: abstract,
		Details: domain.Details{
			domain.DetailType:           "book",
			domain.DetailKeywords:       stringsDetail(rec.subjects(lang)),
			domain.DetailAccessRights:   rec.value("accessRights"),
			domain.DetailContentFromPDF: false,
		},
	}
	if lic := rec.value("license"); license.Allowed(lic) {
		doc.Details[domain.DetailLicenseURL] = lic
	}
	return doc
}

// chapter includes the chapter body only when the parent book declares it open
// and allow-listed; otherwise the description stands in as content.
func (o *OpenEdition) chapter(ctx context.Context, ref domain.Document, self metsRecord, lang string) (domain.Document, error) {
	parentURL := self.value("isPartOf")
	if parentURL == "" {
		return domain.Document{}, fmt.Errorf("%w: chapter without parent book", domain.ErrSchemaMismatch)
	}
	parent, err := o.mets(ctx, parentURL)
	if err != nil {
		return domain.Document{}, err
	}
	bookRec := parent[0]
	match := bookRec
	for _, rec := range parent[1:] {
		if sameResource(rec.value("identifier"), ref.URL) {
			match = rec
			break
		}
	}

	rights := firstNonEmpty(match.value("accessRights"), bookRec.value("accessRights"))
	lic := firstNonEmpty(match.value("license"), bookRec.value("license"))

	description := firstNonEmpty(self.abstract(lang), match.abstract(lang))
	doc := domain.Document{
		Title:       bookRec.value("title") + " - " + firstNonEmpty(self.value("title"), match.value("title")),
		Lang:        lang,
		Description: description,
		FullContent: description,
		Details: domain.Details{
			domain.DetailType:           "chapter",
			domain.DetailKeywords:       stringsDetail(firstNonEmptyList(self.subjects(lang), match.subjects(lang))),
			domain.DetailAccessRights:   rights,
			domain.DetailContentFromPDF: false,
		},
	}

	if license.NormalizeAccess(rights) != license.OpenAccess || !license.Allowed(lic) {
		o.deps.Logger.Debug("openedition chapter body withheld", "url", ref.URL, "access", rights, "license", lic)
		return doc, nil
	}
	doc.Details[domain.DetailLicenseURL] = lic

	page, err := fetchDocument(ctx, o.deps.HTTP, ref.URL)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get openedition chapter: %w", err)
	}
	if body := textclean.Clean(page.Find(openEditionBodySelector).First().Text()); body != "" {
		doc.FullContent = body
	}
	return doc, nil
}

func sameResource(a, b string) bool {
	norm := func(v string) string {
		v = strings.TrimSpace(strings.ToLower(v))
		v = strings.TrimPrefix(strings.TrimPrefix(v, "https://"), "http://")
		return strings.TrimRight(v, "/")
	}
	return a != "" && norm(a) == norm(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
