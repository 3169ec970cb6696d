package parser

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/license"
)

const (
	oapenCorpus  = "oapen"
	oapenBaseURL = "https://library.oapen.org"
)

var oapenLanguages = map[string]string{
	"english": "en", "eng": "en", "en": "en",
	"french": "fr", "fre": "fr", "fra": "fr", "fr": "fr",
	"spanish": "es", "spa": "es", "es": "es",
	"german": "de", "ger": "de", "deu": "de", "de": "de",
	"italian": "it", "ita": "it", "it": "it",
	"portuguese": "pt", "por": "pt", "pt": "pt",
	"dutch": "nl", "dut": "nl", "nld": "nl", "nl": "nl",
}

// OAPEN reads items of the OAPEN DSpace repository.
type OAPEN struct {
	deps    Deps
	baseURL string
}

var _ extractor.Extractor = (*OAPEN)(nil)

// NewOAPEN creates the extractor; an empty baseURL uses the public library.
func NewOAPEN(deps Deps, baseURL string) *OAPEN {
	if baseURL == "" {
		baseURL = oapenBaseURL
	}
	return &OAPEN{deps: deps.withDefaults(), baseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OAPEN) RelatedCorpus() string      { return oapenCorpus }
func (o *OAPEN) Variant() extractor.Variant { return extractor.VariantREST }

type oapenItem struct {
	UUID       string           `json:"uuid"`
	Name       string           `json:"name"`
	Handle     string           `json:"handle"`
	Metadata   []oapenMetadata  `json:"metadata"`
	Bitstreams []oapenBitstream `json:"bitstreams"`
}

type oapenMetadata struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Language string `json:"language"`
}

type oapenBitstream struct {
	Name         string `json:"name"`
	BundleName   string `json:"bundleName"`
	MimeType     string `json:"mimeType"`
	RetrieveLink string `json:"retrieveLink"`
}

func (it oapenItem) values(key string) []string {
	var out []string
	for _, m := range it.Metadata {
		if m.Key == key && strings.TrimSpace(m.Value) != "" {
			out = append(out, strings.TrimSpace(m.Value))
		}
	}
	return out
}

// Run fetches every item concurrently, bounded by the worker count.
func (o *OAPEN) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	results := make([]domain.Result, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.deps.Workers)
	for i, ref := range refs {
		g.Go(func() error {
			doc, err := o.extract(gctx, ref)
			if err != nil {
				results[i] = domain.RejectedErr(ref, err)
				return nil
			}
			results[i] = domain.Extracted(ref, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *OAPEN) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	handle := oapenHandle(ref)
	if handle == "" {
		return domain.Document{}, fmt.Errorf("%w: no handle in %q", domain.ErrSchemaMismatch, ref.URL)
	}

	var item oapenItem
	itemURL := o.baseURL + "/rest/handle/" + handle + "?expand=metadata,bitstreams"
	if err := httpclient.GetJSON(ctx, o.deps.HTTP, itemURL, &item); err != nil {
		return domain.Document{}, fmt.Errorf("get oapen item %s: %w", handle, err)
	}

	lang, err := oapenLanguage(item.values("dc.language"))
	if err != nil {
		return domain.Document{}, err
	}

	licenseURL := first(item.values("dc.rights.uri"))
	if err := license.Check(licenseURL, first(item.values("dc.rights.accessRights"))); err != nil {
		return domain.Document{}, fmt.Errorf("oapen item %s: %w", handle, err)
	}

	title := first(item.values("dc.title"))
	if title == "" {
		title = item.Name
	}

	doc := domain.Document{
		ExternalID:  handle,
		Title:       title,
		Lang:        lang,
		Description: o.pickAbstract(item.values("dc.description.abstract"), lang),
		Details: domain.Details{
			domain.DetailLicenseURL:      licenseURL,
			domain.DetailType:            "book",
			domain.DetailPublicationDate: first(item.values("dc.date.issued")),
			domain.DetailKeywords:        stringsDetail(item.values("dc.subject.other")),
			domain.DetailContentFromPDF:  false,
		},
	}
	authors := item.values("dc.contributor.author")
	list := make([]domain.Author, len(authors))
	for i, name := range authors {
		list[i] = domain.Author{Name: name}
	}
	doc.Details[domain.DetailAuthors] = authorsDetail(list)

	text, fromPDF, err := o.content(ctx, item)
	if err != nil {
		return domain.Document{}, err
	}
	doc.FullContent = text
	doc.Details[domain.DetailContentFromPDF] = fromPDF
	return doc, nil
}

// content prefers the TEXT bundle and falls back to the ORIGINAL PDF.
func (o *OAPEN) content(ctx context.Context, item oapenItem) (string, bool, error) {
	var pdfLink string
	for _, b := range item.Bitstreams {
		switch {
		case strings.EqualFold(b.BundleName, "TEXT"):
			body, err := httpclient.Get(ctx, o.deps.HTTP, o.resolve(b.RetrieveLink), http.Header{"Accept": {"text/plain"}})
			if err != nil {
				return "", false, fmt.Errorf("get oapen text %s: %w", b.Name, err)
			}
			return string(body), false, nil
		case strings.EqualFold(b.BundleName, "ORIGINAL") && b.MimeType == "application/pdf" && pdfLink == "":
			pdfLink = o.resolve(b.RetrieveLink)
		}
	}
	if pdfLink == "" || o.deps.PDF == nil {
		return "", false, fmt.Errorf("%w: item %s has no text or pdf bitstream", domain.ErrContentDeficiency, item.Handle)
	}
	text, err := o.deps.PDF.FetchText(ctx, pdfLink)
	if err != nil {
		return "", false, fmt.Errorf("fetch oapen pdf: %w", err)
	}
	return text, true, nil
}

// pickAbstract keeps the abstract whose detected language matches lang.
func (o *OAPEN) pickAbstract(abstracts []string, lang string) string {
	for _, a := range abstracts {
		if detected, ok := o.deps.Detector.Detect(a); ok && detected.Language == lang {
			return a
		}
	}
	return first(abstracts)
}

func (o *OAPEN) resolve(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return o.baseURL + "/" + strings.TrimLeft(link, "/")
}

func oapenLanguage(values []string) (string, error) {
	switch len(values) {
	case 0:
		return "", fmt.Errorf("%w: missing dc.language", domain.ErrContentDeficiency)
	case 1:
	default:
		return "", fmt.Errorf("%w: several languages %v", domain.ErrSchemaMismatch, values)
	}
	lang, ok := oapenLanguages[strings.ToLower(values[0])]
	if !ok {
		return "", fmt.Errorf("%w: unknown language %q", domain.ErrSchemaMismatch, values[0])
	}
	return lang, nil
}

func oapenHandle(ref domain.Document) string {
	if ref.ExternalID != "" {
		return strings.Trim(ref.ExternalID, "/")
	}
	if _, after, ok := strings.Cut(ref.URL, "/handle/"); ok {
		if i := strings.IndexAny(after, "?#"); i >= 0 {
			after = after[:i]
		}
		return strings.Trim(after, "/")
	}
	return ""
}
