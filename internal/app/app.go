package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"EduPipeline/internal/config"
	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/infrastructure/artifacts"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/infrastructure/ml"
	"EduPipeline/internal/infrastructure/parser"
	"EduPipeline/internal/infrastructure/pdf"
	"EduPipeline/internal/infrastructure/pgvector"
	"EduPipeline/internal/infrastructure/qdrant"
	"EduPipeline/internal/infrastructure/scheduler"
	"EduPipeline/internal/infrastructure/storage"
	"EduPipeline/internal/infrastructure/tika"
	"EduPipeline/internal/keywords"
	"EduPipeline/internal/logging"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/slicer"
	"EduPipeline/internal/textmeta"
	"EduPipeline/internal/usecase"
	"EduPipeline/internal/vectorsync"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	registry    *extractor.Registry
	coordinator *usecase.Coordinator
	stages      map[domain.Stage]usecase.Stage
	batches     *usecase.BatchGenerator
	collector   *usecase.URLCollector
	sanitary    *usecase.SanitaryStage
	repo        ports.Repository

	closers []func() error
}

// New connects the stores and builds every stage. Callers must Close the result.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	client := httpclient.New(httpclient.Options{
		Timeout:     cfg.Scraping.Timeout,
		RetryMax:    cfg.Scraping.RetryMax,
		RatePerHost: cfg.Scraping.RatePerHost,
		Burst:       cfg.Scraping.Burst,
		UserAgent:   httpclient.UserAgent(cfg.Scraping.TeamEmail),
		Logger:      logging.Component(baseLogger, "http"),
	})

	store, err := artifacts.Open(ctx, cfg.Artifacts.Root)
	if err != nil {
		return nil, fmt.Errorf("open artifacts: %w", err)
	}

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, dialect, cfg.Database.DataSource())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Database.Bootstrap {
		if err := storage.Bootstrap(ctx, db, dialect); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	repo := storage.NewRepository(db, dialect)
	a.repo = repo

	backend, err := a.vectorBackend(ctx, db, dialect)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	converter, meta, pdfClient := pdfTools(cfg, baseLogger)
	fetcher := pdf.NewFetcher(pdfClient, converter,
		pdf.WithFileLimit(cfg.PDF.FileLimit),
		pdf.WithPageLimit(cfg.PDF.PageLimit),
		pdf.WithLogger(logging.Component(baseLogger, "pdf")),
	)

	detector := textmeta.NewDetector()
	a.registry = parser.NewRegistry(parser.Deps{
		HTTP:      client,
		PDF:       fetcher,
		Meta:      meta,
		Detector:  detector,
		Artifacts: store,
		Logger:    logging.Component(baseLogger, "extractor"),
		Workers:   cfg.Parallelism.URLMax,
		TeamEmail: cfg.Scraping.TeamEmail,
	}, cfg.Sources)

	models := ml.NewClient(cfg.Models.InferenceURL, cfg.Models.APIKey, cfg.Models.PathRoot, client)
	embedding := usecase.EmbeddingDeps{
		Repository: repo,
		Models:     models,
		Resolve:    cfg.Models.EmbeddingModel,
		Logger:     logging.Component(baseLogger, "embedding"),
	}

	a.coordinator = usecase.NewCoordinator(usecase.CoordinatorDeps{
		Repository: repo,
		Artifacts:  store,
		Logger:     logging.Component(baseLogger, "coordinator"),
		IDsPath:    cfg.Artifacts.BatchIDsPath(),
		OutputDir:  cfg.Artifacts.OutputFolder,
		Workers:    1,
		Threshold:  cfg.Parallelism.Threshold,
	})

	a.sanitary = usecase.NewSanitaryStage(usecase.SanitaryDeps{
		HTTP:   client,
		Logger: logging.Component(baseLogger, "sanitary"),
		MinAge: cfg.Sanitary.MinAge,
	})

	a.stages = map[domain.Stage]usecase.Stage{}
	for _, s := range []usecase.Stage{
		usecase.NewExtractStage(a.registry, textmeta.NewEngine(detector, logging.Component(baseLogger, "textmeta")), logging.Component(baseLogger, "extract")),
		usecase.NewVectorizeStage(embedding, slicer.New(slicer.NewSegmenter())),
		usecase.NewClassifyStage(usecase.ClassifyDeps{
			Repository: repo,
			Models:     models,
			Logger:     logging.Component(baseLogger, "classify"),
		}),
		usecase.NewKeywordsStage(embedding, keywords.New()),
		usecase.NewIndexStage(repo, vectorsync.New(backend, cfg.Vector.ChunkSize, logging.Component(baseLogger, "vectorsync")),
			logging.Component(baseLogger, "index")),
		a.sanitary,
	} {
		a.stages[s.Name()] = s
	}

	a.batches = usecase.NewBatchGenerator(usecase.BatchGeneratorDeps{
		Repository: repo,
		Artifacts:  store,
		Logger:     logging.Component(baseLogger, "batches"),
		OutputDir:  cfg.Artifacts.OutputFolder,
		Threshold:  cfg.Parallelism.Threshold,
	})
	a.collector = usecase.NewURLCollector(a.registry, repo, logging.Component(baseLogger, "collect"))
	return a, nil
}

// pdfTools builds the client used for PDF downloads and conversion, with the longer
// PDF timeout, and the Tika converter when a server is configured.
func pdfTools(cfg config.Config, logger *slog.Logger) (ports.PDFConverter, ports.MetaExtractor, *http.Client) {
	client := httpclient.New(httpclient.Options{
		Timeout:     cfg.PDF.Timeout,
		RetryMax:    cfg.Scraping.RetryMax,
		RatePerHost: cfg.Scraping.RatePerHost,
		Burst:       cfg.Scraping.Burst,
		UserAgent:   httpclient.UserAgent(cfg.Scraping.TeamEmail),
		Logger:      logging.Component(logger, "pdf"),
	})
	if cfg.Tika.Address == "" {
		return pdf.LocalConverter{}, nil, client
	}
	t := tika.NewClient(cfg.Tika.Address, client)
	return t, t, client
}

// vectorBackend picks Qdrant or the SQL tables next to the relational store.
func (a *Application) vectorBackend(ctx context.Context, db *sql.DB, dialect storage.Dialect) (ports.VectorBackend, error) {
	switch strings.ToLower(a.cfg.Vector.Backend) {
	case "", "qdrant":
		b, err := qdrant.Dial(qdrant.Config{
			Host:    a.cfg.Vector.QdrantHost(),
			Port:    a.cfg.Vector.GRPCPort,
			APIKey:  a.cfg.Vector.APIKey,
			UseTLS:  a.cfg.Vector.QdrantTLS(),
			Timeout: a.cfg.Vector.Timeout,
			Wait:    a.cfg.Vector.Wait,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	case "pgvector", "sql":
		if a.cfg.Database.Bootstrap {
			if err := pgvector.Bootstrap(ctx, db, dialect); err != nil {
				return nil, err
			}
		}
		return pgvector.New(db, dialect), nil
	}
	return nil, fmt.Errorf("unsupported vector backend %q", a.cfg.Vector.Backend)
}

// Stage returns the stage registered under name.
func (a *Application) Stage(name domain.Stage) (usecase.Stage, error) {
	s, ok := a.stages[name]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// RunStage runs one stage over the configured id file.
func (a *Application) RunStage(ctx context.Context, name domain.Stage) (domain.StageReport, error) {
	s, err := a.Stage(name)
	if err != nil {
		return domain.StageReport{}, err
	}
	report, err := a.coordinator.Run(ctx, s)
	if err != nil {
		return report, err
	}
	a.logger.Info("stage finished", "stage", name, "run_id", report.RunID, "states", report.States)
	return report, nil
}

// RunPipeline chains every processing stage over the same id file.
func (a *Application) RunPipeline(ctx context.Context) ([]domain.StageReport, error) {
	order := []domain.Stage{
		domain.StageExtract, domain.StageVectorize, domain.StageClassify, domain.StageKeywords, domain.StageIndex,
	}
	stages := make([]usecase.Stage, 0, len(order))
	for _, name := range order {
		s, err := a.Stage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return usecase.NewPipeline(a.coordinator, logging.Component(a.logger, "pipeline"), stages...).Run(ctx)
}

// GenerateBatches writes the per-worker id files for stage.
func (a *Application) GenerateBatches(ctx context.Context, stage domain.Stage, corpus string, workers int) (int, error) {
	return a.batches.Generate(ctx, stage, corpus, workers)
}

// Collect discovers and registers new document urls for corpus.
func (a *Application) Collect(ctx context.Context, corpus string) (int, error) {
	return a.collector.Collect(ctx, corpus)
}

// Corpora lists the corpora with a registered extractor.
func (a *Application) Corpora() []string {
	return a.registry.Corpora()
}

// Sanitize probes a random sample once, or keeps probing every interval until ctx
// is cancelled when every is positive.
func (a *Application) Sanitize(ctx context.Context, corpus string, every time.Duration) error {
	limit := a.cfg.Sanitary.Limit
	sanitizer := usecase.NewSanitizer(a.repo, a.coordinator, a.sanitary, corpus, limit, logging.Component(a.logger, "sanitizer"))
	if every <= 0 {
		_, err := sanitizer.Run(ctx)
		return err
	}

	sched := usecase.NewScheduler(scheduler.NewTickerScheduler(every), sanitizer, logging.Component(a.logger, "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start sanitary schedule: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases the connections opened by New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// BootstrapSchema creates the relational tables and, for the SQL vector backend,
// the vector tables.
func BootstrapSchema(ctx context.Context, cfg config.Config) error {
	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, dialect, cfg.Database.DataSource())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Bootstrap(ctx, db, dialect); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Vector.Backend) {
	case "pgvector", "sql":
		return pgvector.Bootstrap(ctx, db, dialect)
	}
	return nil
}
