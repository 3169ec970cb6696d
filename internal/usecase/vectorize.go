package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/slicer"
)

// ModelResolver maps a document language to its embedding model name.
type ModelResolver func(lang string) (string, bool)

// EmbeddingDeps is shared by the stages that encode text.
type EmbeddingDeps struct {
	Repository ports.Repository
	Models     ports.ModelLoader
	Resolve    ModelResolver
	Logger     *slog.Logger
	Now        func() time.Time
}

func (d EmbeddingDeps) withDefaults() EmbeddingDeps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// embedderFor loads the embedding model of lang. A language without a configured
// model yields a model_unavailable rejection.
func (d EmbeddingDeps) embedderFor(ctx context.Context, lang string) (ports.Embedder, string, error) {
	name, ok := d.Resolve(lang)
	if !ok {
		return nil, "", domain.Rejection{Kind: domain.KindModelUnavailable, Info: fmt.Sprintf("no embedding model for language %q", lang)}
	}
	emb, err := d.Models.LoadEmbedder(ctx, name)
	if err != nil {
		return nil, name, fmt.Errorf("%w: load %s: %v", domain.ErrModelUnavailable, name, err)
	}
	return emb, name, nil
}

// VectorizeStage slices scraped documents and embeds every slice.
type VectorizeStage struct {
	deps   EmbeddingDeps
	slicer *slicer.Slicer
}

var _ Stage = (*VectorizeStage)(nil)

func NewVectorizeStage(deps EmbeddingDeps, s *slicer.Slicer) *VectorizeStage {
	if s == nil {
		s = slicer.New(nil)
	}
	return &VectorizeStage{deps: deps.withDefaults(), slicer: s}
}

func (s *VectorizeStage) Name() domain.Stage { return domain.StageVectorize }

func (s *VectorizeStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	models, err := s.deps.Repository.GetModelsForCorpus(ctx, docIDs(batch.Documents), domain.ModelEmbedding)
	if err != nil {
		return nil, fmt.Errorf("load embedding models: %w", err)
	}

	now := s.deps.Now().UTC()
	out := make([]Outcome, 0, len(batch.Documents))
	for _, doc := range batch.Documents {
		current := batch.Latest[doc.ID].Title
		emb, name, err := s.deps.embedderFor(ctx, doc.Lang)
		if err != nil {
			s.deps.Logger.Warn("document not vectorized", "document_id", doc.ID, "lang", doc.Lang, "err", err)
			out = append(out, failure(doc.ID, domain.RejectionFromError(err), current, now))
			continue
		}

		var modelID int64
		if m, ok := modelTitled(models[doc.ID], name); ok {
			modelID = m.ID
		}
		slices, err := s.slicer.Slice(ctx, doc, emb, modelID)
		if err != nil {
			s.deps.Logger.Warn("slicing failed", "document_id", doc.ID, "model", name, "err", err)
			out = append(out, failure(doc.ID, domain.RejectionFromError(err), current, now))
			continue
		}

		s.deps.Logger.Debug("document vectorized", "document_id", doc.ID, "model", name, "slices", len(slices))
		out = append(out, Outcome{
			DocumentID:    doc.ID,
			ReplaceSlices: true,
			Slices:        slices,
			State:         stepPtr(domain.StepVectorized),
		})
	}
	return out, nil
}
