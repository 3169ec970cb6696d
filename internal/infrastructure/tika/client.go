// Package tika talks to a Tika-compatible text and metadata extraction server.
package tika

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/ports"
)

const contentKey = "X-TIKA:content"

// Client calls PUT /tika and PUT /meta.
type Client struct {
	address string
	http    httpclient.Doer
}

var (
	_ ports.PDFConverter  = (*Client)(nil)
	_ ports.MetaExtractor = (*Client)(nil)
)

// NewClient targets the server at address, e.g. http://localhost:9998.
func NewClient(address string, client httpclient.Doer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{address: strings.TrimRight(address, "/"), http: client}
}

// ConvertPDF returns the raw text of every page of a PDF.
func (c *Client) ConvertPDF(ctx context.Context, data []byte) ([]string, error) {
	var resp map[string]any
	if err := c.put(ctx, "/tika", data, "application/pdf", &resp); err != nil {
		return nil, err
	}
	xhtml, _ := resp[contentKey].(string)
	if xhtml == "" {
		return nil, fmt.Errorf("%w: tika answer without %s", domain.ErrSchemaMismatch, contentKey)
	}
	return SplitPages(xhtml)
}

// Meta returns the flattened metadata of an HTML or PDF payload.
func (c *Client) Meta(ctx context.Context, data []byte, contentType string) (map[string]string, error) {
	var resp map[string]any
	if err := c.put(ctx, "/meta", data, contentType, &resp); err != nil {
		return nil, err
	}
	return Flatten(resp), nil
}

// SplitPages reads the <div class="page"> blocks of Tika's XHTML output. Documents
// without page markers come back as a single page.
func SplitPages(xhtml string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(xhtml))
	if err != nil {
		return nil, fmt.Errorf("parse tika xhtml: %w", err)
	}

	var pages []string
	doc.Find("div.page").Each(func(_ int, page *goquery.Selection) {
		pages = append(pages, pageText(page))
	})
	if len(pages) == 0 {
		pages = append(pages, pageText(doc.Find("body")))
	}
	return pages, nil
}

func pageText(sel *goquery.Selection) string {
	paragraphs := sel.Find("p")
	if paragraphs.Length() == 0 {
		return sel.Text()
	}
	lines := make([]string, 0, paragraphs.Length())
	paragraphs.Each(func(_ int, p *goquery.Selection) {
		lines = append(lines, p.Text())
	})
	return strings.Join(lines, "\n")
}

// Flatten turns Tika's metadata JSON into string values; lists are joined with ", ".
func Flatten(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case []any:
			parts := make([]string, 0, len(t))
			for _, item := range t {
				parts = append(parts, fmt.Sprint(item))
			}
			out[k] = strings.Join(parts, ", ")
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// Keys lists the flattened keys, sorted; handy for logging unknown payloads.
func Keys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) put(ctx context.Context, path string, data []byte, contentType string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.address+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	body, err := httpclient.Do(c.http, req)
	if err != nil {
		return fmt.Errorf("tika %s: %w", path, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode tika %s: %v", domain.ErrSchemaMismatch, path, err)
	}
	return nil
}
