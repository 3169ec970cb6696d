package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// BatchGeneratorDeps wires the batch splitting job.
type BatchGeneratorDeps struct {
	Repository ports.Repository
	Artifacts  ports.ArtifactStore
	Logger     *slog.Logger
	// OutputDir receives batch_urls/.
	OutputDir string
	// Threshold is the number of documents one worker takes per run.
	Threshold int
	Now       func() time.Time
}

// BatchGenerator picks eligible documents and splits them into one id file per worker.
type BatchGenerator struct {
	repo      ports.Repository
	artifacts ports.ArtifactStore
	logger    *slog.Logger
	outputDir string
	threshold int
	now       func() time.Time
}

func NewBatchGenerator(deps BatchGeneratorDeps) *BatchGenerator {
	g := &BatchGenerator{
		repo:      deps.Repository,
		artifacts: deps.Artifacts,
		logger:    deps.Logger,
		outputDir: deps.OutputDir,
		threshold: deps.Threshold,
		now:       deps.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.outputDir == "" {
		g.outputDir = "output"
	}
	if g.threshold <= 0 {
		g.threshold = 100
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Generate writes batch_urls/{i}_batch_urls.csv for i in 1..n and quantity.txt
// holding n. It returns n.
func (g *BatchGenerator) Generate(ctx context.Context, stage domain.Stage, corpus string, workers int) (int, error) {
	workers = max(workers, 1)
	q := ports.StateQuery{
		Steps:      stage.EligibleSteps(),
		CorpusName: corpus,
		Limit:      workers * g.threshold,
	}
	if stage == domain.StageSanitary {
		q.OlderThan = g.now().UTC().Add(-domain.SanitaryMinAge)
	}
	ids, err := g.repo.GetRandomDocumentsWithState(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("pick %s documents: %w", stage, err)
	}

	batches := Split(ids, workers)
	dir := path.Join(g.outputDir, "batch_urls")
	for i, batch := range batches {
		name := path.Join(dir, fmt.Sprintf("%d_batch_urls.csv", i+1))
		if err := g.artifacts.Write(ctx, name, FormatIDs(batch)); err != nil {
			return 0, fmt.Errorf("write %s: %w", name, err)
		}
	}
	quantity := path.Join(dir, "quantity.txt")
	if err := g.artifacts.Write(ctx, quantity, []byte(strconv.Itoa(len(batches)))); err != nil {
		return 0, fmt.Errorf("write %s: %w", quantity, err)
	}

	g.logger.Info("batches generated", "stage", stage, "corpus", corpus, "documents", len(ids), "batches", len(batches))
	return len(batches), nil
}

// Split deals ids into at most n contiguous, non-empty parts whose sizes differ by
// at most one.
func Split(ids []int64, n int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	n = min(max(n, 1), len(ids))
	out := make([][]int64, 0, n)
	size, rest := len(ids)/n, len(ids)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rest {
			end++
		}
		out = append(out, ids[start:end])
		start = end
	}
	return out
}
