package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/license"
)

// Document fields a dump column can map to.
const (
	FieldURL         = "url"
	FieldExternalID  = "external_id"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldContent     = "content"
	FieldLang        = "lang"
)

// DumpSpec declares how one tabular dump maps onto documents.
type DumpSpec struct {
	Corpus string
	// File is an artifact name such as input/dumps/ted.csv.
	File    string
	Columns map[string]string
	// Details are columns copied verbatim into details; absent ones become "".
	Details []string
	// Lists are detail columns holding comma separated values.
	Lists []string
	Lang  string
	// XMLColumn holds a JATS article parsed into the document.
	XMLColumn string
}

// DefaultDumps lists the dump corpora with their usual column layout.
func DefaultDumps() []DumpSpec {
	base := map[string]string{
		FieldURL:         "url",
		FieldTitle:       "title",
		FieldDescription: "description",
		FieldContent:     "content",
		FieldLang:        "lang",
	}
	clone := func(over map[string]string) map[string]string {
		out := make(map[string]string, len(base))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range over {
			out[k] = v
		}
		return out
	}

	return []DumpSpec{
		{Corpus: "conversation", File: "input/dumps/conversation.csv", Columns: clone(nil),
			Details: []string{"author", "published", "image"}},
		{Corpus: "france_culture", File: "input/dumps/france_culture.csv", Lang: "fr",
			Columns: clone(map[string]string{FieldContent: "transcript", FieldLang: ""}),
			Details: []string{"duration", "image", "show"}},
		{Corpus: "ted", File: "input/dumps/ted.csv", Columns: clone(map[string]string{FieldContent: "transcript"}),
			Details: []string{"speaker", "duration", "image", domain.DetailExternalSDG},
			Lists:   []string{domain.DetailExternalSDG}},
		{Corpus: "wikipedia_dump", File: "input/dumps/wikipedia.csv",
			Columns: clone(map[string]string{FieldDescription: "summary"})},
		{Corpus: "plos_mirror", File: "input/dumps/plos.csv", XMLColumn: "xml",
			Columns: map[string]string{FieldURL: "url"}},
	}
}

// Dump reads documents for a batch from a CSV, JSON or JSONL dump.
type Dump struct {
	deps Deps
	spec DumpSpec
}

var _ extractor.Extractor = (*Dump)(nil)

func NewDump(deps Deps, spec DumpSpec) *Dump {
	return &Dump{deps: deps.withDefaults(), spec: spec}
}

func (d *Dump) RelatedCorpus() string      { return d.spec.Corpus }
func (d *Dump) Variant() extractor.Variant { return extractor.VariantFile }

// Run keeps the rows whose url belongs to the batch.
func (d *Dump) Run(ctx context.Context, refs []domain.Document) []domain.Result {
	results := make([]domain.Result, len(refs))

	rows, err := d.load(ctx)
	if err != nil {
		d.deps.Logger.Error("dump unreadable", "corpus", d.spec.Corpus, "file", d.spec.File, "err", err)
		for i, ref := range refs {
			results[i] = domain.RejectedErr(ref, err)
		}
		return results
	}

	byURL := make(map[string]map[string]any, len(refs))
	byID := map[string]map[string]any{}
	for _, row := range rows {
		if u := cell(row, d.spec.Columns[FieldURL]); u != "" {
			byURL[u] = row
		}
		if id := cell(row, d.spec.Columns[FieldExternalID]); id != "" {
			byID[id] = row
		}
	}

	for i, ref := range refs {
		row, ok := byURL[strings.TrimSpace(ref.URL)]
		if !ok && ref.ExternalID != "" {
			row, ok = byID[ref.ExternalID]
		}
		if !ok {
			results[i] = domain.RejectedErr(ref, fmt.Errorf("%w: %s not in %s", domain.ErrNotFoundInResponse, ref.URL, d.spec.File))
			continue
		}
		doc, err := d.toDocument(row)
		if err != nil {
			results[i] = domain.RejectedErr(ref, err)
			continue
		}
		results[i] = domain.Extracted(ref, doc)
	}
	return results
}

func (d *Dump) toDocument(row map[string]any) (domain.Document, error) {
	doc := domain.Document{Details: domain.Details{}}
	if d.spec.XMLColumn != "" {
		parsed, err := ParseJATS([]byte(cell(row, d.spec.XMLColumn)))
		if err != nil {
			return domain.Document{}, err
		}
		if err := license.Check(parsed.Details.String(domain.DetailLicenseURL), ""); err != nil {
			return domain.Document{}, fmt.Errorf("%s row: %w", d.spec.Corpus, err)
		}
		doc = parsed
	}

	set := func(field string, dst *string) {
		if col := d.spec.Columns[field]; col != "" {
			if v := cell(row, col); v != "" {
				*dst = v
			}
		}
	}
	set(FieldExternalID, &doc.ExternalID)
	set(FieldTitle, &doc.Title)
	set(FieldDescription, &doc.Description)
	set(FieldContent, &doc.FullContent)
	set(FieldLang, &doc.Lang)
	if doc.Lang == "" {
		doc.Lang = d.spec.Lang
	}
	doc.Lang = strings.ToLower(doc.Lang)

	lists := map[string]bool{}
	for _, l := range d.spec.Lists {
		lists[l] = true
	}
	for _, col := range d.spec.Details {
		v := cell(row, col)
		if lists[col] {
			doc.Details[col] = splitList(v)
			continue
		}
		doc.Details[col] = v
	}
	if _, ok := doc.Details[domain.DetailContentFromPDF]; !ok {
		doc.Details[domain.DetailContentFromPDF] = false
	}
	return doc, nil
}

func (d *Dump) load(ctx context.Context) ([]map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if d.deps.Artifacts != nil {
		data, err = d.deps.Artifacts.Read(ctx, d.spec.File)
	} else {
		data, err = os.ReadFile(d.spec.File)
	}
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", d.spec.File, err)
	}

	switch strings.ToLower(path.Ext(d.spec.File)) {
	case ".csv":
		return readCSV(data)
	case ".json":
		var rows []map[string]any
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrSchemaMismatch, d.spec.File, err)
		}
		return rows, nil
	case ".jsonl", ".ndjson":
		return readJSONL(data)
	default:
		return nil, fmt.Errorf("%w: unsupported dump format %q", domain.ErrSchemaMismatch, d.spec.File)
	}
}

func readCSV(data []byte) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", domain.ErrSchemaMismatch, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]any
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", domain.ErrSchemaMismatch, err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
}

func readJSONL(data []byte) ([]map[string]any, error) {
	var rows []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(text, &row); err != nil {
			return nil, fmt.Errorf("%w: jsonl line %d: %v", domain.ErrSchemaMismatch, line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return rows, nil
}

func cell(row map[string]any, col string) string {
	if col == "" {
		return ""
	}
	switch v := row[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprint(int64(v))
		}
		return fmt.Sprint(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func splitList(v string) []any {
	v = strings.Trim(v, "[] ")
	out := []any{}
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.Trim(strings.TrimSpace(part), `"'`); part != "" {
			out = append(out, part)
		}
	}
	return out
}
