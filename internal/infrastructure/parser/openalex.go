package parser

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/license"
)

const (
	openAlexCorpus    = "openalex"
	openAlexBaseURL   = "https://api.openalex.org"
	openAlexBatchSize = 50
)

var leadingHeadings = map[string]struct{}{
	"background":   {},
	"abstract":     {},
	"introduction": {},
}

// OpenAlex queries the OpenAlex works API in batches of ids.
type OpenAlex struct {
	deps    Deps
	baseURL string
}

var _ extractor.Extractor = (*OpenAlex)(nil)

// NewOpenAlex creates the extractor; an empty baseURL uses the public API.
func NewOpenAlex(deps Deps, baseURL string) *OpenAlex {
	if baseURL == "" {
		baseURL = openAlexBaseURL
	}
	return &OpenAlex{deps: deps.withDefaults(), baseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OpenAlex) RelatedCorpus() string      { return openAlexCorpus }
func (o *OpenAlex) Variant() extractor.Variant { return extractor.VariantREST }

type openAlexWork struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	Language              string           `json:"language"`
	Type                  string           `json:"type"`
	PublicationDate       string           `json:"publication_date"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	OpenAccess            struct {
		IsOA   bool   `json:"is_oa"`
		OAURL  string `json:"oa_url"`
		Status string `json:"oa_status"`
	} `json:"open_access"`
	PrimaryLocation *openAlexLocation `json:"primary_location"`
	BestOALocation  *openAlexLocation `json:"best_oa_location"`
	Authorships     []struct {
		Author struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"author"`
		Institutions []struct {
			DisplayName string `json:"display_name"`
		} `json:"institutions"`
	} `json:"authorships"`
	Topics []OpenAlexTopic `json:"topics"`
}

type openAlexLocation struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
	License        string `json:"license"`
	IsOA           bool   `json:"is_oa"`
}

type openAlexEntity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// OpenAlexTopic is the nested topic record of a work.
type OpenAlexTopic struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Subfield    openAlexEntity `json:"subfield"`
	Field       openAlexEntity `json:"field"`
	Domain      openAlexEntity `json:"domain"`
}

// Run queries one filter request per batch of at most 50 references.
func (o *OpenAlex) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	results := make([]domain.Result, 0, len(refs))
	for start := 0; start < len(refs); start += openAlexBatchSize {
		batch := refs[start:min(start+openAlexBatchSize, len(refs))]
		results = append(results, o.runBatch(ctx, batch)...)
	}
	return results
}

func (o *OpenAlex) runBatch(ctx context.Context, refs []domain.Document) []domain.Result {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = openAlexID(ref)
	}

	works, err := o.fetchWorks(ctx, ids)
	if err != nil {
		o.deps.Logger.Warn("openalex batch failed", "size", len(refs), "err", err)
		out := make([]domain.Result, len(refs))
		for i, ref := range refs {
			out[i] = domain.RejectedErr(ref, err)
		}
		return out
	}

	out := make([]domain.Result, len(refs))
	for i, ref := range refs {
		work, ok := works[strings.ToUpper(ids[i])]
		if !ok {
			out[i] = domain.RejectedErr(ref, fmt.Errorf("%w: openalex work %s", domain.ErrNotFoundInResponse, ids[i]))
			continue
		}
		doc, err := o.toDocument(ctx, work)
		if err != nil {
			out[i] = domain.RejectedErr(ref, err)
			continue
		}
		out[i] = domain.Extracted(ref, doc)
	}
	return out
}

func (o *OpenAlex) fetchWorks(ctx context.Context, ids []string) (map[string]openAlexWork, error) {
	query := url.Values{}
	query.Set("filter", "ids.openalex:"+strings.Join(ids, "|")+",is_oa:true")
	query.Set("per-page", fmt.Sprint(openAlexBatchSize))
	if o.deps.TeamEmail != "" {
		query.Set("mailto", o.deps.TeamEmail)
	}

	var resp struct {
		Results []openAlexWork `json:"results"`
	}
	if err := httpclient.GetJSON(ctx, o.deps.HTTP, o.baseURL+"/works?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("query openalex works: %w", err)
	}

	works := make(map[string]openAlexWork, len(resp.Results))
	for _, w := range resp.Results {
		works[strings.ToUpper(lastSegment(w.ID))] = w
	}
	return works, nil
}

func (o *OpenAlex) toDocument(ctx context.Context, work openAlexWork) (domain.Document, error) {
	if !work.OpenAccess.IsOA {
		return domain.Document{}, fmt.Errorf("%w: %s is not open access", domain.ErrAccessNotOpen, work.ID)
	}

	loc := work.BestOALocation
	if loc == nil {
		loc = work.PrimaryLocation
	}
	if loc == nil {
		loc = &openAlexLocation{}
	}
	licenseURL := license.FromShortCode(loc.License)
	if err := license.Check(licenseURL, ""); err != nil {
		return domain.Document{}, fmt.Errorf("openalex work %s (%q): %w", work.ID, loc.License, err)
	}

	title := work.Title
	if title == "" {
		title = work.DisplayName
	}
	abstract := StripLeadingHeading(ReconstructAbstract(work.AbstractInvertedIndex))

	doc := domain.Document{
		ExternalID:  lastSegment(work.ID),
		Title:       title,
		Lang:        strings.ToLower(work.Language),
		Description: abstract,
		FullContent: abstract,
		Details: domain.Details{
			domain.DetailLicenseURL:      licenseURL,
			domain.DetailDOI:             strings.TrimPrefix(work.DOI, "https://doi.org/"),
			domain.DetailType:            work.Type,
			domain.DetailPublicationDate: work.PublicationDate,
			domain.DetailTopics:          topicsDetail(TopicGraph(work.Topics)),
		},
	}
	if loc.LandingPageURL != "" {
		doc.URL = loc.LandingPageURL
	}

	authors := make([]domain.Author, 0, len(work.Authorships))
	for _, a := range work.Authorships {
		author := domain.Author{Name: a.Author.DisplayName, ID: a.Author.ID}
		for _, inst := range a.Institutions {
			author.Institutions = append(author.Institutions, inst.DisplayName)
		}
		authors = append(authors, author)
	}
	doc.Details[domain.DetailAuthors] = authorsDetail(authors)

	if loc.PDFURL != "" && o.deps.PDF != nil {
		text, err := o.deps.PDF.FetchText(ctx, loc.PDFURL)
		switch {
		case err != nil:
			o.deps.Logger.Warn("openalex pdf unavailable, keeping abstract", "work", work.ID, "pdf", loc.PDFURL, "err", err)
		case strings.TrimSpace(text) != "":
			doc.FullContent = text
			doc.Details[domain.DetailContentFromPDF] = true
		}
	}
	return doc, nil
}

func openAlexID(ref domain.Document) string {
	if ref.ExternalID != "" {
		return lastSegment(ref.ExternalID)
	}
	return lastSegment(ref.URL)
}

// ReconstructAbstract rebuilds text from an inverted index of word positions.
func ReconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type token struct {
		pos  int
		word string
	}
	var tokens []token
	for word, positions := range index {
		for _, p := range positions {
			tokens = append(tokens, token{pos: p, word: word})
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].pos < tokens[j].pos })

	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	return strings.Join(words, " ")
}

// StripLeadingHeading drops a leading "Background", "Abstract" or "Introduction"
// when it is immediately followed by another capitalized word.
func StripLeadingHeading(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return text
	}
	head := strings.ToLower(strings.TrimRight(fields[0], ":.-"))
	if _, ok := leadingHeadings[head]; !ok {
		return text
	}
	if !startsUpper(fields[0]) || !startsUpper(fields[1]) {
		return text
	}
	rest := strings.TrimSpace(text)
	return strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
}

func startsUpper(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r)
}

// TopicGraph flattens nested topics into domain (0), field (1), subfield (2) and
// topic (3) nodes; each node lists its direct parents.
func TopicGraph(topics []OpenAlexTopic) []domain.TopicNode {
	var (
		nodes []domain.TopicNode
		index = map[string]int{}
	)
	add := func(id, name string, depth int, parent string) {
		if id == "" {
			return
		}
		i, ok := index[id]
		if !ok {
			nodes = append(nodes, domain.TopicNode{ID: id, DisplayName: name, Depth: depth, DirectlyContainedIn: []string{}})
			i = len(nodes) - 1
			index[id] = i
		}
		if parent == "" {
			return
		}
		for _, p := range nodes[i].DirectlyContainedIn {
			if p == parent {
				return
			}
		}
		nodes[i].DirectlyContainedIn = append(nodes[i].DirectlyContainedIn, parent)
	}

	for _, t := range topics {
		add(t.Domain.ID, t.Domain.DisplayName, 0, "")
		add(t.Field.ID, t.Field.DisplayName, 1, t.Domain.ID)
		add(t.Subfield.ID, t.Subfield.DisplayName, 2, t.Field.ID)
		add(t.ID, t.DisplayName, 3, t.Subfield.ID)
	}
	return nodes
}

func topicsDetail(nodes []domain.TopicNode) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = map[string]any{
			"id":                    n.ID,
			"display_name":          n.DisplayName,
			"depth":                 n.Depth,
			"directly_contained_in": stringsDetail(n.DirectlyContainedIn),
		}
	}
	return out
}
