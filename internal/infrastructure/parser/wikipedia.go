package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
)

const (
	wikipediaCorpus  = "wikipedia"
	wikipediaLicense = "https://creativecommons.org/licenses/by-sa/4.0/"
)

var sectionBlacklist = map[string][]string{
	"en": {"References", "See also", "Further reading", "Notes", "Bibliography", "External links",
		"Related pages", "Other websites", "Sources", "More reading", "Articles"},
	"fr": {"Références", "Notes et références", "Voir aussi", "Bibliographie", "Liens externes",
		"Articles connexes", "Sources", "Annexes", "Notes", "Lien externe", "Source"},
}

var headingRe = regexp.MustCompile(`^(={2,6})\s*(.*?)\s*={2,6}$`)

// WikiSection is a titled section with its nested subsections.
type WikiSection struct {
	Title    string
	Text     string
	Sections []WikiSection
}

// WikiPage is a page split into its lead summary and sections.
type WikiPage struct {
	Title    string
	Summary  string
	Sections []WikiSection
}

// WikiClient fetches pages of a language edition.
type WikiClient interface {
	Page(ctx context.Context, lang, title string) (WikiPage, error)
}

// MediaWiki reads plain-text extracts through the MediaWiki action API.
type MediaWiki struct {
	http     httpclient.Doer
	endpoint func(lang string) string
}

// NewMediaWiki builds a client; endpoint maps a language to its api.php URL and
// defaults to https://<lang>.wikipedia.org/w/api.php.
func NewMediaWiki(client httpclient.Doer, endpoint func(lang string) string) *MediaWiki {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == nil {
		endpoint = func(lang string) string {
			return "https://" + lang + ".wikipedia.org/w/api.php"
		}
	}
	return &MediaWiki{http: client, endpoint: endpoint}
}

// Page fetches title and parses its extract. A missing page is reported as 404.
func (m *MediaWiki) Page(ctx context.Context, lang, title string) (WikiPage, error) {
	query := url.Values{}
	query.Set("action", "query")
	query.Set("prop", "extracts")
	query.Set("explaintext", "1")
	query.Set("exsectionformat", "wiki")
	query.Set("redirects", "1")
	query.Set("format", "json")
	query.Set("formatversion", "2")
	query.Set("titles", title)

	endpoint := m.endpoint(lang)
	var resp struct {
		Query struct {
			Pages []struct {
				Title   string `json:"title"`
				Missing bool   `json:"missing"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := httpclient.GetJSON(ctx, m.http, endpoint+"?"+query.Encode(), &resp); err != nil {
		return WikiPage{}, fmt.Errorf("query wiki page %q: %w", title, err)
	}
	if len(resp.Query.Pages) == 0 || resp.Query.Pages[0].Missing {
		return WikiPage{}, &httpclient.StatusError{
			Method:     http.MethodGet,
			URL:        endpoint,
			StatusCode: http.StatusNotFound,
			Status:     "page " + title + " is missing",
		}
	}

	page := ParseExtract(resp.Query.Pages[0].Extract)
	page.Title = resp.Query.Pages[0].Title
	return page, nil
}

// ParseExtract splits a wiki-formatted plain-text extract on its "== Heading ==" lines.
func ParseExtract(extract string) WikiPage {
	var (
		lead []string
		flat []flatSection
	)
	for _, line := range strings.Split(extract, "\n") {
		if m := headingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flat = append(flat, flatSection{level: len(m[1]), title: m[2]})
			continue
		}
		if len(flat) == 0 {
			lead = append(lead, line)
			continue
		}
		last := &flat[len(flat)-1]
		last.lines = append(last.lines, line)
	}
	return WikiPage{
		Summary:  strings.TrimSpace(strings.Join(lead, "\n")),
		Sections: nest(flat),
	}
}

type flatSection struct {
	level int
	title string
	lines []string
}

// nest turns a flat heading sequence into a tree; deeper headings belong to the
// closest preceding shallower one.
func nest(flat []flatSection) []WikiSection {
	var out []WikiSection
	for i := 0; i < len(flat); {
		j := i + 1
		for j < len(flat) && flat[j].level > flat[i].level {
			j++
		}
		out = append(out, WikiSection{
			Title:    flat[i].title,
			Text:     strings.TrimSpace(strings.Join(flat[i].lines, "\n")),
			Sections: nest(flat[i+1 : j]),
		})
		i = j
	}
	return out
}

// BuildContent concatenates the summary with every kept section, recursively.
func BuildContent(page WikiPage, lang string) string {
	parts := []string{page.Summary}
	var walk func([]WikiSection)
	walk = func(sections []WikiSection) {
		for _, s := range sections {
			if blacklisted(s.Title, lang) {
				continue
			}
			parts = append(parts, s.Title, s.Text)
			walk(s.Sections)
		}
	}
	walk(page.Sections)

	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func blacklisted(title, lang string) bool {
	list, ok := sectionBlacklist[lang]
	if !ok {
		list = sectionBlacklist["en"]
	}
	for _, b := range list {
		if strings.EqualFold(strings.TrimSpace(title), b) {
			return true
		}
	}
	return false
}

// Wikipedia scrapes encyclopedia pages through a WikiClient.
type Wikipedia struct {
	deps   Deps
	client WikiClient
}

var _ extractor.Extractor = (*Wikipedia)(nil)

// NewWikipedia creates the extractor; a nil client uses MediaWiki over deps.HTTP.
func NewWikipedia(deps Deps, client WikiClient) *Wikipedia {
	deps = deps.withDefaults()
	if client == nil {
		client = NewMediaWiki(deps.HTTP, nil)
	}
	return &Wikipedia{deps: deps, client: client}
}

func (w *Wikipedia) RelatedCorpus() string      { return wikipediaCorpus }
func (w *Wikipedia) Variant() extractor.Variant { return extractor.VariantScraper }

// Run fetches each page on the worker pool.
func (w *Wikipedia) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	return runEach(ctx, w.deps.Workers, w.deps.Logger, refs, w.extract)
}

func (w *Wikipedia) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	lang, title, err := WikiTitle(ref.URL)
	if err != nil {
		return domain.Document{}, err
	}
	page, err := w.client.Page(ctx, lang, title)
	if err != nil {
		return domain.Document{}, err
	}
	if page.Title == "" {
		page.Title = title
	}

	return domain.Document{
		Title:       page.Title,
		Lang:        lang,
		Description: page.Summary,
		FullContent: BuildContent(page, lang),
		Details: domain.Details{
			domain.DetailLicenseURL:     wikipediaLicense,
			domain.DetailContentFromPDF: false,
		},
	}, nil
}

// WikiTitle reads the language edition and page title from an article URL.
func WikiTitle(raw string) (lang, title string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad wiki url %q: %v", domain.ErrSchemaMismatch, raw, err)
	}
	host := strings.Split(u.Hostname(), ".")
	path, ok := strings.CutPrefix(u.Path, "/wiki/")
	if len(host) < 3 || !ok || path == "" {
		return "", "", fmt.Errorf("%w: not a wiki article url %q", domain.ErrSchemaMismatch, raw)
	}
	lang = strings.ToLower(host[0])
	if lang == "m" || lang == "www" {
		return "", "", fmt.Errorf("%w: no language edition in %q", domain.ErrSchemaMismatch, raw)
	}
	return lang, strings.ReplaceAll(path, "_", " "), nil
}
