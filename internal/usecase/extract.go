package usecase

import (
	"context"
	"log/slog"
	"time"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/textclean"
	"EduPipeline/internal/textmeta"
)

// ExtractStage turns url_retrieved references into populated documents.
type ExtractStage struct {
	registry *extractor.Registry
	engine   *textmeta.Engine
	logger   *slog.Logger
	now      func() time.Time
}

var _ Stage = (*ExtractStage)(nil)

func NewExtractStage(registry *extractor.Registry, engine *textmeta.Engine, logger *slog.Logger) *ExtractStage {
	if engine == nil {
		engine = textmeta.NewEngine(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{registry: registry, engine: engine, logger: logger, now: time.Now}
}

func (s *ExtractStage) Name() domain.Stage { return domain.StageExtract }

// Process runs the extractor of each corpus over its documents.
func (s *ExtractStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	groups := map[string][]domain.Document{}
	var order []string
	for _, d := range batch.Documents {
		name := batch.Corpora[d.CorpusID].SourceName
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], d)
	}

	var outcomes []Outcome
	now := s.now().UTC()
	for _, corpus := range order {
		refs := groups[corpus]
		ext, err := s.registry.Select(corpus)
		if err != nil {
			s.logger.Error("no extractor for corpus", "corpus", corpus, "documents", len(refs), "err", err)
			rej := domain.Rejection{Kind: domain.KindSchemaMismatch, Info: err.Error()}
			for _, ref := range refs {
				outcomes = append(outcomes, failure(ref.ID, rej, batch.Latest[ref.ID].Title, now))
			}
			continue
		}

		s.logger.Debug("extracting", "corpus", corpus, "variant", ext.Variant(), "documents", len(refs))
		for _, res := range ext.Run(ctx, refs) {
			outcomes = append(outcomes, s.outcome(res, batch.Latest[res.Reference.ID].Title, now))
		}
	}
	return outcomes, nil
}

func (s *ExtractStage) outcome(res domain.Result, current domain.Step, now time.Time) Outcome {
	ref := res.Reference
	if !res.OK() {
		rej := domain.Rejection{Kind: domain.KindSchemaMismatch, Info: "extractor returned no result"}
		if res.Rejection != nil {
			rej = *res.Rejection
		}
		s.logger.Warn("extraction rejected",
			"document_id", ref.ID, "url", ref.URL, "kind", rej.Kind, "http_code", rej.HTTPCode, "info", rej.Info)
		return failure(ref.ID, rej, current, now)
	}

	doc := s.Finalize(ref, *res.Document)
	if err := doc.Validate(); err != nil {
		rej := domain.RejectionFromError(err)
		s.logger.Warn("extracted document invalid", "document_id", ref.ID, "url", ref.URL, "err", err)
		return failure(ref.ID, rej, current, now)
	}

	out := Outcome{DocumentID: ref.ID, Document: &doc, State: stepPtr(domain.StepScraped)}
	if ref.Trace != 0 && ref.Trace == doc.Trace {
		s.logger.Info("content unchanged since last extraction", "document_id", ref.ID, "trace", doc.Trace)
		out.State = stepPtr(domain.StepKeptForTrace)
	}
	return out
}

// Finalize cleans the extracted text, annotates language and readability, and
// fingerprints the content. Identity fields always come from the reference.
func (s *ExtractStage) Finalize(ref, doc domain.Document) domain.Document {
	doc.ID = ref.ID
	doc.URL = ref.URL
	doc.CorpusID = ref.CorpusID
	doc.CreatedAt = ref.CreatedAt
	if doc.ExternalID == "" {
		doc.ExternalID = ref.ExternalID
	}
	if doc.Details == nil {
		doc.Details = domain.Details{}
	}
	if _, ok := doc.Details[domain.DetailContentFromPDF]; !ok {
		doc.Details[domain.DetailContentFromPDF] = false
	}

	doc.Title = textclean.Line(doc.Title)
	doc.Description = textclean.Clean(doc.Description)
	doc.FullContent = textclean.Clean(doc.FullContent)
	s.engine.Annotate(&doc)
	doc.Trace = domain.ContentTrace(doc.FullContent)
	return doc
}
