// Package pdf downloads PDFs under size caps and turns them into cleaned text.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/textclean"
)

// Fetcher implements the PDF text pipeline.
type Fetcher struct {
	http      httpclient.Doer
	converter ports.PDFConverter
	fileLimit int64
	pageLimit int64
	logger    *slog.Logger
}

var _ ports.PDFFetcher = (*Fetcher)(nil)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFileLimit caps the whole file in bytes; the size must then be announced by HEAD.
func WithFileLimit(n int64) Option {
	return func(f *Fetcher) { f.fileLimit = n }
}

// WithPageLimit caps the average page size in bytes.
func WithPageLimit(n int64) Option {
	return func(f *Fetcher) { f.pageLimit = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher wires the download client and the page converter.
func NewFetcher(client httpclient.Doer, converter ports.PDFConverter, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{http: client, converter: converter, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchText downloads url and returns the cleaned text of all pages joined by spaces.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	if f.fileLimit > 0 {
		if err := f.checkAnnouncedSize(ctx, url); err != nil {
			return "", err
		}
	}

	data, err := f.download(ctx, url)
	if err != nil {
		return "", err
	}

	if f.pageLimit > 0 {
		if pages := CountPages(data); pages > 0 && int64(len(data))/int64(pages) > f.pageLimit {
			return "", fmt.Errorf("%w: %s averages %d bytes over %d pages", domain.ErrOversizePDF, url, len(data)/pages, pages)
		}
	}

	pages, err := f.converter.ConvertPDF(ctx, data)
	if err != nil {
		return "", fmt.Errorf("convert pdf %s: %w", url, err)
	}

	cleaned := make([]string, 0, len(pages))
	for _, p := range pages {
		if c := textclean.CleanPDFPage(p); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	f.logger.Debug("pdf converted", "url", url, "bytes", len(data), "pages", len(pages))
	return strings.Join(cleaned, " "), nil
}

func (f *Fetcher) checkAnnouncedSize(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("head %s: %w", url, err)
	}
	_ = resp.Body.Close()
	if err := httpclient.CheckResponse(resp); err != nil {
		return err
	}

	switch {
	case resp.ContentLength <= 0:
		return fmt.Errorf("%w: %s announces no size", domain.ErrOversizePDF, url)
	case resp.ContentLength > f.fileLimit:
		return fmt.Errorf("%w: %s is %d bytes, limit %d", domain.ErrOversizePDF, url, resp.ContentLength, f.fileLimit)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if f.fileLimit > 0 {
		body = io.LimitReader(resp.Body, f.fileLimit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if f.fileLimit > 0 && int64(len(data)) > f.fileLimit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrOversizePDF, url, f.fileLimit)
	}
	return data, nil
}

// CountPages returns the page count of data, or 0 when the file cannot be parsed.
func CountPages(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return r.NumPage()
}
