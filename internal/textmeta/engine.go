// Package textmeta derives language, readability and reading time from document text.
package textmeta

import (
	"log/slog"

	"EduPipeline/internal/domain"
)

// Engine annotates extracted documents.
type Engine struct {
	detector *Detector
	logger   *slog.Logger
}

// NewEngine wires a detector and a logger.
func NewEngine(detector *Detector, logger *slog.Logger) *Engine {
	if detector == nil {
		detector = NewDetector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{detector: detector, logger: logger}
}

// Detector exposes the underlying language detector.
func (e *Engine) Detector() *Detector {
	return e.detector
}

// Annotate sets the document language when the source did not provide one and
// records readability, duration and the description/content language comparison.
func (e *Engine) Annotate(doc *domain.Document) {
	if doc.Details == nil {
		doc.Details = domain.Details{}
	}

	cmp := e.detector.Compare(doc.Description, doc.FullContent)
	doc.Details[domain.DetailContentAndDescriptionLn] = cmp.Map()
	if cmp.AreDifferent {
		e.logger.Warn("description and content languages differ",
			"document_id", doc.ID,
			"description", cmp.Description.Language,
			"content", cmp.Content.Language)
	}

	if doc.Lang == "" {
		doc.Lang = cmp.Content.Language
		if doc.Lang == "" {
			doc.Lang = cmp.Description.Language
		}
	}

	if doc.FullContent == "" {
		return
	}
	doc.Details[domain.DetailReadability] = PredictReadability(doc.FullContent, doc.Lang)
	doc.Details[domain.DetailDuration] = PredictDuration(doc.FullContent, doc.Lang)
}
