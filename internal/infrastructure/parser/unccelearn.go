package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/textclean"
)

const (
	uncceLearnCorpus  = "unccelearn"
	uncceLearnLicense = "https://creativecommons.org/licenses/by/4.0/"
)

var (
	durationRe  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:(?:[-–—]|to)\s*(\d+(?:[.,]\d+)?))?\s*(hours?|hrs?|minutes?|mins?|days?|weeks?)\b`)
	unitSeconds = map[byte]float64{'h': 3600, 'm': 60, 'd': 86400, 'w': 604800}
)

// UNCCeLearn scrapes MOOC catalogue pages and their PDF syllabus.
type UNCCeLearn struct {
	deps Deps
}

var _ extractor.Extractor = (*UNCCeLearn)(nil)

func NewUNCCeLearn(deps Deps) *UNCCeLearn {
	return &UNCCeLearn{deps: deps.withDefaults()}
}

func (u *UNCCeLearn) RelatedCorpus() string      { return uncceLearnCorpus }
func (u *UNCCeLearn) Variant() extractor.Variant { return extractor.VariantScraper }

func (u *UNCCeLearn) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	return runEach(ctx, u.deps.Workers, u.deps.Logger, refs, u.extract)
}

func (u *UNCCeLearn) extract(ctx context.Context, ref domain.Document) (domain.Document, error) {
	html, err := httpclient.Get(ctx, u.deps.HTTP, ref.URL, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return domain.Document{}, fmt.Errorf("get course page: %w", err)
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: parse course page: %v", domain.ErrSchemaMismatch, err)
	}

	meta, err := u.pageMeta(ctx, html, page)
	if err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{
		Title:       textclean.Line(meta["dc:title"]),
		Description: textclean.Clean(meta["dc:description"]),
		Details: domain.Details{
			domain.DetailLicenseURL:     uncceLearnLicense,
			domain.DetailImage:          meta["og:image"],
			domain.DetailKeywords:       stringsDetail(splitKeywords(meta["keywords"])),
			domain.DetailContentFromPDF: false,
		},
	}
	for k, v := range CourseFacts(page) {
		doc.Details[k] = v
	}

	syllabus, ok := page.Find(`a[href$=".pdf"], a[href$=".PDF"]`).First().Attr("href")
	if !ok || u.deps.PDF == nil {
		doc.FullContent = doc.Description
		return doc, nil
	}
	text, err := u.deps.PDF.FetchText(ctx, resolveURL(ref.URL, syllabus))
	if err != nil {
		return domain.Document{}, fmt.Errorf("fetch syllabus: %w", err)
	}
	doc.FullContent = text
	doc.Details[domain.DetailContentFromPDF] = true
	return doc, nil
}

// pageMeta asks the meta extractor for the page metadata and falls back to the
// page's own meta tags for missing keys.
func (u *UNCCeLearn) pageMeta(ctx context.Context, html []byte, page *goquery.Document) (map[string]string, error) {
	meta := map[string]string{}
	if u.deps.Meta != nil {
		m, err := u.deps.Meta.Meta(ctx, html, "text/html")
		if err != nil {
			return nil, fmt.Errorf("extract course meta: %w", err)
		}
		meta = m
	}

	fallback := map[string]string{
		"dc:title":       strings.TrimSpace(page.Find("title").First().Text()),
		"dc:description": metaContent(page, "description"),
		"og:image":       page.Find(`meta[property="og:image"]`).AttrOr("content", ""),
		"keywords":       metaContent(page, "keywords"),
	}
	for k, v := range fallback {
		if meta[k] == "" {
			meta[k] = v
		}
	}
	return meta, nil
}

// CourseFacts reads the labelled facts of a course page: theme, duration range,
// certification and course type.
func CourseFacts(page *goquery.Document) domain.Details {
	facts := domain.Details{}
	var lines []string
	for _, line := range strings.Split(page.Find("body").Text(), "\n") {
		if line = textclean.Line(line); line != "" {
			lines = append(lines, line)
		}
	}

	if theme := labelled(lines, "theme"); theme != "" {
		facts["theme"] = theme
	}
	if d := labelled(lines, "duration"); d != "" {
		if lo, hi, ok := ParseDurationRange(d); ok {
			facts["course_duration_min"] = lo
			facts["course_duration_max"] = hi
		}
	}
	if kind := labelled(lines, "type"); kind != "" {
		facts["course_type"] = strings.ToLower(strings.ReplaceAll(kind, " ", "_"))
	}

	text := strings.ToLower(strings.Join(lines, " "))
	facts["certification"] = strings.Contains(text, "certificate") && !strings.Contains(text, "no certificate")
	return facts
}

// labelled returns the value after "Label:" on the same line, or the next line
// when the label stands alone.
func labelled(lines []string, label string) string {
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, label) {
			continue
		}
		rest := strings.TrimSpace(line[len(label):])
		if v, ok := strings.CutPrefix(rest, ":"); ok {
			rest = strings.TrimSpace(v)
		} else if rest != "" {
			continue
		}
		if rest != "" {
			return rest
		}
		if i+1 < len(lines) {
			return lines[i+1]
		}
	}
	return ""
}

// ParseDurationRange converts "3–4 hours" into (10800, 14400). A single value
// yields equal bounds.
func ParseDurationRange(text string) (int, int, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	factor := unitSeconds[strings.ToLower(m[3])[0]]
	parse := func(v string) (int, bool) {
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
		if err != nil {
			return 0, false
		}
		return int(f * factor), true
	}

	lo, ok := parse(m[1])
	if !ok {
		return 0, 0, false
	}
	hi := lo
	if m[2] != "" {
		if hi, ok = parse(m[2]); !ok {
			return 0, 0, false
		}
	}
	return lo, hi, true
}

func splitKeywords(v string) []string {
	var out []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
