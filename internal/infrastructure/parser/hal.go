package parser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/license"
)

const (
	halCorpus    = "hal"
	halBaseURL   = "https://api.archives-ouvertes.fr"
	halBatchSize = 50
	halFields    = "halId_s,uri_s,title_s,abstract_s,licence_s,fileMain_s,language_s,docType_s,authFullName_s,doiId_s,keyword_s,producedDate_s"
)

var halDocTypes = map[string]string{
	"ART":     "article",
	"COMM":    "conference",
	"OUV":     "book",
	"COUV":    "chapter",
	"THESE":   "thesis",
	"HDR":     "thesis",
	"REPORT":  "report",
	"LECTURE": "lecture",
}

// HAL queries the HAL open archive search API by HAL id.
type HAL struct {
	deps    Deps
	baseURL string
}

var _ extractor.Extractor = (*HAL)(nil)

// NewHAL creates the extractor; an empty baseURL uses the public API.
func NewHAL(deps Deps, baseURL string) *HAL {
	if baseURL == "" {
		baseURL = halBaseURL
	}
	return &HAL{deps: deps.withDefaults(), baseURL: strings.TrimRight(baseURL, "/")}
}

func (h *HAL) RelatedCorpus() string      { return halCorpus }
func (h *HAL) Variant() extractor.Variant { return extractor.VariantREST }

// HALRecord is one document of the search response.
type HALRecord struct {
	HalID    string   `json:"halId_s"`
	URI      string   `json:"uri_s"`
	Title    []string `json:"title_s"`
	Abstract []string `json:"abstract_s"`
	Licence  string   `json:"licence_s"`
	FileMain string   `json:"fileMain_s"`
	Language []string `json:"language_s"`
	DocType  string   `json:"docType_s"`
	Authors  []string `json:"authFullName_s"`
	DOI      string   `json:"doiId_s"`
	Keywords []string `json:"keyword_s"`
	Produced string   `json:"producedDate_s"`
}

// Run issues one query per batch of HAL ids.
func (h *HAL) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	results := make([]domain.Result, 0, len(refs))
	for start := 0; start < len(refs); start += halBatchSize {
		batch := refs[start:min(start+halBatchSize, len(refs))]
		results = append(results, h.runBatch(ctx, batch)...)
	}
	return results
}

func (h *HAL) runBatch(ctx context.Context, refs []domain.Document) []domain.Result {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = halID(ref)
	}

	records, err := h.search(ctx, ids)
	out := make([]domain.Result, len(refs))
	if err != nil {
		h.deps.Logger.Warn("hal batch failed", "size", len(refs), "err", err)
		for i, ref := range refs {
			out[i] = domain.RejectedErr(ref, err)
		}
		return out
	}

	for i, ref := range refs {
		rec, ok := records[ids[i]]
		if !ok {
			out[i] = domain.RejectedErr(ref, fmt.Errorf("%w: hal id %s", domain.ErrNotFoundInResponse, ids[i]))
			continue
		}
		doc, err := h.Convert(ctx, rec)
		if err != nil {
			out[i] = domain.RejectedErr(ref, err)
			continue
		}
		out[i] = domain.Extracted(ref, doc)
	}
	return out
}

func (h *HAL) search(ctx context.Context, ids []string) (map[string]HALRecord, error) {
	query := url.Values{}
	query.Set("q", "halId_s:("+strings.Join(ids, " OR ")+")")
	query.Set("fl", halFields)
	query.Set("wt", "json")
	query.Set("rows", fmt.Sprint(len(ids)))

	var resp struct {
		Response struct {
			Docs []HALRecord `json:"docs"`
		} `json:"response"`
	}
	if err := httpclient.GetJSON(ctx, h.deps.HTTP, h.baseURL+"/search/?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("search hal: %w", err)
	}

	out := make(map[string]HALRecord, len(resp.Response.Docs))
	for _, rec := range resp.Response.Docs {
		out[rec.HalID] = rec
	}
	return out, nil
}

// Convert turns a search record into a document. The PDF becomes the content only
// when the licence is allow-listed and a main file exists.
func (h *HAL) Convert(ctx context.Context, rec HALRecord) (domain.Document, error) {
	abstract := strings.TrimSpace(strings.Join(rec.Abstract, " "))
	doc := domain.Document{
		ExternalID: rec.HalID,
		URL:        rec.URI,
		Title:      first(rec.Title),
		Lang:       strings.ToLower(first(rec.Language)),
		Details: domain.Details{
			domain.DetailType:            halDocType(rec.DocType),
			domain.DetailDOI:             rec.DOI,
			domain.DetailPublicationDate: rec.Produced,
			domain.DetailKeywords:        stringsDetail(rec.Keywords),
			domain.DetailContentFromPDF:  false,
		},
	}
	authors := make([]domain.Author, len(rec.Authors))
	for i, name := range rec.Authors {
		authors[i] = domain.Author{Name: name}
	}
	doc.Details[domain.DetailAuthors] = authorsDetail(authors)

	allowed := license.Allowed(rec.Licence)
	if allowed {
		doc.Details[domain.DetailLicenseURL] = rec.Licence
	}

	if allowed && rec.FileMain != "" && h.deps.PDF != nil {
		text, err := h.deps.PDF.FetchText(ctx, rec.FileMain)
		if err != nil {
			return domain.Document{}, fmt.Errorf("fetch hal pdf %s: %w", rec.FileMain, err)
		}
		doc.FullContent = text
		doc.Description = firstSentence(abstract)
		doc.Details[domain.DetailContentFromPDF] = true
		return doc, nil
	}

	doc.FullContent = abstract
	if summary := firstSentence(abstract); summary != "" {
		doc.Description = summary + "…"
	}
	return doc, nil
}

func halID(ref domain.Document) string {
	if ref.ExternalID != "" {
		return ref.ExternalID
	}
	id := lastSegment(ref.URL)
	if i := strings.Index(id, "v"); i > 0 && strings.HasPrefix(id, "hal-") {
		// hal-00006805v2 → hal-00006805
		if rest := id[i+1:]; rest != "" && strings.Trim(rest, "0123456789") == "" {
			id = id[:i]
		}
	}
	return id
}

func halDocType(code string) string {
	if t, ok := halDocTypes[strings.ToUpper(code)]; ok {
		return t
	}
	return strings.ToLower(code)
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
