package usecase

import (
	"context"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/keywords"
)

// KeywordsStage tags classified documents with keyphrases of their description.
type KeywordsStage struct {
	deps      EmbeddingDeps
	extractor *keywords.Extractor
}

var _ Stage = (*KeywordsStage)(nil)

func NewKeywordsStage(deps EmbeddingDeps, extractor *keywords.Extractor) *KeywordsStage {
	if extractor == nil {
		extractor = keywords.New()
	}
	return &KeywordsStage{deps: deps.withDefaults(), extractor: extractor}
}

func (s *KeywordsStage) Name() domain.Stage { return domain.StageKeywords }

func (s *KeywordsStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	now := s.deps.Now().UTC()
	out := make([]Outcome, 0, len(batch.Documents))
	for _, doc := range batch.Documents {
		current := batch.Latest[doc.ID].Title
		emb, name, err := s.deps.embedderFor(ctx, doc.Lang)
		if err != nil {
			s.deps.Logger.Warn("keywords not extracted", "document_id", doc.ID, "lang", doc.Lang, "err", err)
			out = append(out, failure(doc.ID, domain.RejectionFromError(err), current, now))
			continue
		}

		var tags []string
		if text := strings.TrimSpace(doc.Description); text != "" {
			tags, err = s.extractor.Extract(ctx, text, doc.Lang, emb)
			if err != nil {
				s.deps.Logger.Warn("keyword extraction failed", "document_id", doc.ID, "model", name, "err", err)
				out = append(out, failure(doc.ID, domain.RejectionFromError(err), current, now))
				continue
			}
		}

		out = append(out, Outcome{
			DocumentID:      doc.ID,
			ReplaceKeywords: true,
			Keywords:        tags,
			State:           stepPtr(domain.StepWithKeywords),
		})
	}
	return out, nil
}
