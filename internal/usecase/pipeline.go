package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"EduPipeline/internal/domain"
)

// Pipeline runs several stages one after another over the same id list, so a
// document can move from url_retrieved to document_in_qdrant in one job.
type Pipeline struct {
	coordinator *Coordinator
	stages      []Stage
	logger      *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(coordinator *Coordinator, logger *slog.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{coordinator: coordinator, stages: stages, logger: logger}
}

// Run reads the batch ids once and hands them to every stage in order.
func (p *Pipeline) Run(ctx context.Context) ([]domain.StageReport, error) {
	ids, err := p.coordinator.ReadIDs(ctx)
	if err != nil {
		return nil, err
	}
	return p.RunIDs(ctx, ids)
}

// RunIDs stops at the first stage failing as a whole.
func (p *Pipeline) RunIDs(ctx context.Context, ids []int64) ([]domain.StageReport, error) {
	reports := make([]domain.StageReport, 0, len(p.stages))
	for _, stage := range p.stages {
		report, err := p.coordinator.RunIDs(ctx, stage, ids)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		p.logger.Info("pipeline stage done", "stage", stage.Name(), "accepted", report.Accepted, "rejected", report.Rejected)
	}
	return reports, nil
}
