package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/vectorsync"
)

// IndexStage mirrors labelled slices into the vector backend.
type IndexStage struct {
	repo   ports.Repository
	syncer *vectorsync.Syncer
	logger *slog.Logger
}

var _ Stage = (*IndexStage)(nil)

func NewIndexStage(repo ports.Repository, syncer *vectorsync.Syncer, logger *slog.Logger) *IndexStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexStage{repo: repo, syncer: syncer, logger: logger}
}

func (s *IndexStage) Name() domain.Stage { return domain.StageIndex }

func (s *IndexStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	slices, err := s.repo.GetSlicesByDocumentIDs(ctx, docIDs(batch.Documents))
	if err != nil {
		return nil, fmt.Errorf("load slices: %w", err)
	}
	sliceIDs := make([]int64, len(slices))
	for i, sl := range slices {
		sliceIDs[i] = sl.ID
	}
	sdgs, err := s.repo.GetSdgsBySliceIDs(ctx, sliceIDs)
	if err != nil {
		return nil, fmt.Errorf("load sdgs: %w", err)
	}

	res := s.syncer.Sync(ctx, vectorsync.Input{
		Documents: batch.Documents,
		Latest:    batch.Latest,
		Corpora:   batch.Corpora,
		Slices:    slices,
		Sdgs:      sdgs,
	})
	s.logger.Info("vector sync done",
		"indexed", len(res.Indexed),
		"retired", len(res.Retired),
		"unresolved", len(res.Unresolved),
		"skipped", len(res.Skipped),
		"points", res.Points)

	out := make([]Outcome, 0, len(res.Indexed)+len(res.Retired)+len(res.Unresolved))
	for _, id := range res.Indexed {
		out = append(out, advance(id, domain.StepInQdrant))
	}
	for _, id := range res.Retired {
		out = append(out, advance(id, domain.StepKeptForTrace))
	}
	for _, id := range res.Unresolved {
		out = append(out, advance(id, domain.StepKeptForTrace))
	}
	return out, nil
}
