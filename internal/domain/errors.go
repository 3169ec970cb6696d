package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	ErrPluginNotFound     = errors.New("extractor not found")
	ErrInvalidPluginType  = errors.New("extractor has an unexpected variant")
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrOversizePDF        = errors.New("pdf exceeds size limit")
	ErrLicenseNotAllowed  = errors.New("license not allowed")
	ErrAccessNotOpen      = errors.New("access is not open")
	ErrSchemaMismatch     = errors.New("unexpected source payload")
	ErrContentDeficiency  = errors.New("document content is deficient")
	ErrNotFoundInResponse = errors.New("reference missing from source response")
)

// ErrorKind classifies per-document failures.
type ErrorKind string

const (
	KindTransient         ErrorKind = "transient"
	KindPermanentFetch    ErrorKind = "permanent_fetch"
	KindLegal             ErrorKind = "legal"
	KindContentDeficiency ErrorKind = "content_deficiency"
	KindSchemaMismatch    ErrorKind = "schema_mismatch"
	KindOversizePDF       ErrorKind = "oversize_pdf"
	KindModelUnavailable  ErrorKind = "model_unavailable"
)

// Rejection describes why a reference could not be turned into a document.
type Rejection struct {
	Kind     ErrorKind
	Info     string
	HTTPCode int
}

func (r Rejection) Error() string {
	if r.HTTPCode != 0 {
		return fmt.Sprintf("%s (http %d): %s", r.Kind, r.HTTPCode, r.Info)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Info)
}

// Gone reports a 404/410 answer from the source.
func (r Rejection) Gone() bool {
	return r.HTTPCode == http.StatusNotFound || r.HTTPCode == http.StatusGone
}

// Record converts the rejection into an ErrorRetrieval row.
func (r Rejection) Record(documentID int64, now time.Time) ErrorRetrieval {
	rec := ErrorRetrieval{
		DocumentID: documentID,
		ErrorInfo:  fmt.Sprintf("%s: %s", r.Kind, r.Info),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if r.HTTPCode != 0 {
		code := r.HTTPCode
		rec.HTTPErrorCode = &code
	}
	return rec
}

// ErrorRetrieval is the diagnostic row attached to a failed extraction.
type ErrorRetrieval struct {
	ID            int64
	DocumentID    int64
	HTTPErrorCode *int
	ErrorInfo     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type statusCoder interface {
	HTTPStatus() int
}

// RejectionFromError maps any extraction error onto the failure taxonomy.
func RejectionFromError(err error) Rejection {
	if err == nil {
		return Rejection{}
	}

	var rej Rejection
	if errors.As(err, &rej) {
		return rej
	}
	var rejPtr *Rejection
	if errors.As(err, &rejPtr) && rejPtr != nil {
		return *rejPtr
	}

	info := err.Error()
	switch {
	case errors.Is(err, ErrLicenseNotAllowed), errors.Is(err, ErrAccessNotOpen), errors.Is(err, ErrNotFoundInResponse):
		return Rejection{Kind: KindLegal, Info: info}
	case errors.Is(err, ErrOversizePDF):
		return Rejection{Kind: KindOversizePDF, Info: info}
	case errors.Is(err, ErrSchemaMismatch):
		return Rejection{Kind: KindSchemaMismatch, Info: info}
	case errors.Is(err, ErrContentDeficiency):
		return Rejection{Kind: KindContentDeficiency, Info: info}
	case errors.Is(err, ErrModelUnavailable):
		return Rejection{Kind: KindModelUnavailable, Info: info}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return Rejection{Kind: KindTransient, Info: info, HTTPCode: code}
		}
		return Rejection{Kind: KindPermanentFetch, Info: info, HTTPCode: code}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Rejection{Kind: KindTransient, Info: info}
	}

	return Rejection{Kind: KindTransient, Info: info}
}

// Result is the tagged outcome of extracting one reference.
type Result struct {
	Reference Document
	Document  *Document
	Rejection *Rejection
}

// Extracted wraps a populated document.
func Extracted(ref, doc Document) Result {
	doc.ID = ref.ID
	doc.CorpusID = ref.CorpusID
	if doc.URL == "" {
		doc.URL = ref.URL
	}
	if doc.ExternalID == "" {
		doc.ExternalID = ref.ExternalID
	}
	return Result{Reference: ref, Document: &doc}
}

// Rejected wraps a failure for ref.
func Rejected(ref Document, rej Rejection) Result {
	return Result{Reference: ref, Rejection: &rej}
}

// RejectedErr classifies err and wraps it for ref.
func RejectedErr(ref Document, err error) Result {
	return Rejected(ref, RejectionFromError(err))
}

// OK reports whether the result carries a document.
func (r Result) OK() bool {
	return r.Document != nil && r.Rejection == nil
}

// SplitResults separates populated documents from error references.
func SplitResults(results []Result) ([]Document, []Result) {
	var (
		docs   []Document
		failed []Result
	)
	for _, r := range results {
		if r.OK() {
			docs = append(docs, *r.Document)
			continue
		}
		failed = append(failed, r)
	}
	return docs, failed
}
