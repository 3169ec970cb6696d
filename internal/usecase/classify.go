package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/sdg"
)

// ClassifyDeps wires the goal classifier stage.
type ClassifyDeps struct {
	Repository ports.Repository
	Models     ports.ModelLoader
	Logger     *slog.Logger
	Now        func() time.Time
}

// ClassifyStage labels the slices of vectorized documents with goals.
type ClassifyStage struct {
	repo   ports.Repository
	models ports.ModelLoader
	logger *slog.Logger
	now    func() time.Time
}

var _ Stage = (*ClassifyStage)(nil)

func NewClassifyStage(deps ClassifyDeps) *ClassifyStage {
	s := &ClassifyStage{repo: deps.Repository, models: deps.Models, logger: deps.Logger, now: deps.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *ClassifyStage) Name() domain.Stage { return domain.StageClassify }

func (s *ClassifyStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	ids := docIDs(batch.Documents)
	slices, err := s.repo.GetSlicesByDocumentIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load slices: %w", err)
	}
	biModels, err := s.repo.GetModelsForCorpus(ctx, ids, domain.ModelBi)
	if err != nil {
		return nil, fmt.Errorf("load binary models: %w", err)
	}
	nModels, err := s.repo.GetModelsForCorpus(ctx, ids, domain.ModelN)
	if err != nil {
		return nil, fmt.Errorf("load sdg models: %w", err)
	}

	grouped := slicesByDocument(slices)
	now := s.now().UTC()
	out := make([]Outcome, 0, len(batch.Documents))
	for _, doc := range batch.Documents {
		o, err := s.classify(ctx, doc, batch.Corpora[doc.CorpusID], grouped[doc.ID], biModels[doc.ID], nModels[doc.ID])
		if err != nil {
			s.logger.Warn("classification failed", "document_id", doc.ID, "err", err)
			out = append(out, failure(doc.ID, domain.RejectionFromError(err), batch.Latest[doc.ID].Title, now))
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *ClassifyStage) classify(ctx context.Context, doc domain.Document, corpus domain.Corpus, slices []domain.Slice, bis, ns []domain.Model) (Outcome, error) {
	sliceIDs := make([]int64, len(slices))
	for i, sl := range slices {
		sliceIDs[i] = sl.ID
	}
	negative := Outcome{DocumentID: doc.ID, SdgSliceIDs: sliceIDs, State: stepPtr(domain.StepClassifiedNonSDG)}
	if len(slices) == 0 {
		return negative, nil
	}

	if len(bis) == 0 {
		return Outcome{}, fmt.Errorf("%w: no binary classifier for corpus %d in %q", domain.ErrModelUnavailable, doc.CorpusID, doc.Lang)
	}
	biModel := bis[0]
	bi, err := s.models.LoadClassifier(ctx, biModel.Title)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: load %s: %v", domain.ErrModelUnavailable, biModel.Title, err)
	}
	positive, err := sdg.IsPositive(ctx, bi, slices, corpus.Threshold())
	if err != nil {
		return Outcome{}, err
	}
	if !positive {
		s.logger.Debug("document is not about any goal", "document_id", doc.ID)
		return negative, nil
	}

	var rows []domain.Sdg
	if declared := doc.Details.Ints(domain.DetailExternalSDG); len(declared) > 0 {
		rows = sdg.FromExternal(declared, slices, biModel.ID)
	} else {
		if len(ns) == 0 {
			return Outcome{}, fmt.Errorf("%w: no sdg classifier for corpus %d in %q", domain.ErrModelUnavailable, doc.CorpusID, doc.Lang)
		}
		nModel := ns[0]
		n, err := s.models.LoadClassifier(ctx, nModel.Title)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: load %s: %v", domain.ErrModelUnavailable, nModel.Title, err)
		}
		rows, err = sdg.Specific(ctx, n, slices, doc.Details.Ints(domain.DetailForcedSDG), biModel.ID, nModel.ID)
		if err != nil {
			return Outcome{}, err
		}
	}

	s.logger.Debug("document classified", "document_id", doc.ID, "rows", len(rows), "goals", sdg.Dominant(rows, 2))
	return Outcome{
		DocumentID:  doc.ID,
		SdgSliceIDs: sliceIDs,
		Sdgs:        rows,
		State:       stepPtr(domain.StepClassifiedSDG),
	}, nil
}
