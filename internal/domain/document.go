package domain

import (
	"fmt"
	"hash/adler32"
	"strconv"
	"strings"
	"time"
)

// MinContentLength is the shortest full_content an extracted document may carry.
const MinContentLength = 25

// DefaultBinaryThreshold applies when a corpus declares no threshold of its own.
const DefaultBinaryThreshold = 0.5

// Detail keys shared by extractors and later stages.
const (
	DetailContentFromPDF          = "content_from_pdf"
	DetailLicenseURL              = "license_url"
	DetailAccessRights            = "access_rights"
	DetailReadability             = "readability"
	DetailDuration                = "duration"
	DetailContentAndDescriptionLn = "content_and_description_lang"
	DetailExternalSDG             = "external_sdg"
	DetailForcedSDG               = "forced_sdg"
	DetailDOI                     = "doi"
	DetailISSN                    = "issn"
	DetailAuthors                 = "authors"
	DetailTopics                  = "topics"
	DetailType                    = "type"
	DetailKeywords                = "keywords"
	DetailPublicationDate         = "publication_date"
	DetailContentLength           = "content_length"
	DetailImage                   = "image"
)

// Corpus identifies an external publisher feeding the index.
type Corpus struct {
	ID              int64
	SourceName      string
	IsFix           bool
	IsActive        bool
	BinaryThreshold float64
	CategoryID      int64
}

// Threshold returns the binary classifier cut-off for the corpus.
func (c Corpus) Threshold() float64 {
	if c.BinaryThreshold <= 0 {
		return DefaultBinaryThreshold
	}
	return c.BinaryThreshold
}

// Document is the unit of work moving through the pipeline.
type Document struct {
	ID          int64
	ExternalID  string
	URL         string
	Title       string
	Lang        string
	Description string
	FullContent string
	Details     Details
	Trace       uint32
	CorpusID    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy whose Details map can be mutated independently.
func (d Document) Clone() Document {
	d.Details = d.Details.Clone()
	return d
}

// Validate checks the textual requirements of an extracted document.
func (d Document) Validate() error {
	switch {
	case strings.TrimSpace(d.Title) == "":
		return fmt.Errorf("%w: missing title", ErrContentDeficiency)
	case strings.TrimSpace(d.Description) == "":
		return fmt.Errorf("%w: missing description", ErrContentDeficiency)
	case strings.TrimSpace(d.FullContent) == "":
		return fmt.Errorf("%w: missing content", ErrContentDeficiency)
	case len([]rune(d.FullContent)) < MinContentLength:
		return fmt.Errorf("%w: content shorter than %d characters", ErrContentDeficiency, MinContentLength)
	case strings.TrimSpace(d.Lang) == "":
		return fmt.Errorf("%w: missing language", ErrContentDeficiency)
	}
	return nil
}

// ContentTrace fingerprints full_content with Adler-32.
func ContentTrace(content string) uint32 {
	return adler32.Checksum([]byte(content))
}

// Author is a contributor record stored under details.authors.
type Author struct {
	Name         string   `json:"name"`
	ID           string   `json:"id,omitempty"`
	Institutions []string `json:"institutions,omitempty"`
}

// TopicNode is one vertex of the flattened domain/field/subfield/topic graph.
type TopicNode struct {
	ID                  string   `json:"id"`
	DisplayName         string   `json:"display_name"`
	Depth               int      `json:"depth"`
	DirectlyContainedIn []string `json:"directly_contained_in"`
}

// Details is the free-form metadata map attached to a document.
type Details map[string]any

// Clone copies the top level of the map.
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the value under key rendered as a string.
func (d Details) String(key string) string {
	switch v := d[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool reports whether key holds a truthy value.
func (d Details) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Has reports whether key is present and not empty.
func (d Details) Has(key string) bool {
	v, ok := d[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []int:
		return len(t) > 0
	}
	return true
}

// Int64 reads an integer value; JSON numbers decode as float64.
func (d Details) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Ints reads a list of integers such as external_sdg.
func (d Details) Ints(key string) []int {
	var out []int
	appendAny := func(v any) {
		switch n := v.(type) {
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		case float64:
			out = append(out, int(n))
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				out = append(out, parsed)
			}
		}
	}

	switch v := d[key].(type) {
	case []int:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			appendAny(item)
		}
	case nil:
	default:
		appendAny(v)
	}
	return out
}
