package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/ports"
)

// URLCollector discovers new references of a corpus and registers them.
type URLCollector struct {
	registry *extractor.Registry
	repo     ports.Repository
	logger   *slog.Logger
}

func NewURLCollector(registry *extractor.Registry, repo ports.Repository, logger *slog.Logger) *URLCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &URLCollector{registry: registry, repo: repo, logger: logger}
}

// Collect runs every collector of corpus and inserts the unseen urls with an
// url_retrieved state. It returns how many documents were created.
func (c *URLCollector) Collect(ctx context.Context, corpus string) (int, error) {
	collectors, err := c.registry.Collectors(corpus)
	if err != nil {
		return 0, err
	}
	target, err := c.repo.GetCorpusByName(ctx, corpus)
	if err != nil {
		return 0, fmt.Errorf("load corpus %s: %w", corpus, err)
	}

	seen := map[string]struct{}{}
	var refs []domain.Document
	for _, col := range collectors {
		found, err := col.Collect(ctx)
		if err != nil {
			c.logger.Warn("collector failed", "corpus", corpus, "err", err)
			continue
		}
		for _, ref := range found {
			if ref.URL == "" {
				continue
			}
			if _, ok := seen[ref.URL]; ok {
				continue
			}
			seen[ref.URL] = struct{}{}
			ref.CorpusID = target.ID
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		c.logger.Info("no references collected", "corpus", corpus)
		return 0, nil
	}

	var created int
	err = c.repo.InTx(ctx, func(tx ports.Tx) error {
		inserted, err := tx.InsertDocuments(ctx, refs)
		if err != nil {
			return err
		}
		states := make([]domain.ProcessState, len(inserted))
		for i, d := range inserted {
			states[i] = domain.ProcessState{DocumentID: d.ID, Title: domain.StepURLRetrieved}
		}
		created = len(inserted)
		return tx.InsertStates(ctx, states)
	})
	if err != nil {
		return 0, fmt.Errorf("register %s references: %w", corpus, err)
	}

	c.logger.Info("references collected", "corpus", corpus, "found", len(refs), "created", created)
	return created, nil
}
