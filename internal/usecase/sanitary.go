package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/ports"
)

// DefaultProbeWorkers bounds concurrent liveness probes.
const DefaultProbeWorkers = 8

// SanitaryDeps wires the URL sanitary crawler.
type SanitaryDeps struct {
	HTTP    httpclient.Doer
	Logger  *slog.Logger
	Workers int
	// MinAge is how long a document must sit in document_in_qdrant before it is probed.
	MinAge time.Duration
	Now    func() time.Time
}

// SanitaryStage probes indexed documents and reacts to vanished or resized sources.
type SanitaryStage struct {
	http    httpclient.Doer
	logger  *slog.Logger
	workers int
	minAge  time.Duration
	now     func() time.Time
}

var _ Stage = (*SanitaryStage)(nil)

func NewSanitaryStage(deps SanitaryDeps) *SanitaryStage {
	s := &SanitaryStage{
		http:    deps.HTTP,
		logger:  deps.Logger,
		workers: deps.Workers,
		minAge:  deps.MinAge,
		now:     deps.Now,
	}
	if s.http == nil {
		s.http = http.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.workers <= 0 {
		s.workers = DefaultProbeWorkers
	}
	if s.minAge <= 0 {
		s.minAge = domain.SanitaryMinAge
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *SanitaryStage) Name() domain.Stage { return domain.StageSanitary }

func (s *SanitaryStage) Process(ctx context.Context, batch Batch) ([]Outcome, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.minAge)

	var (
		mu  sync.Mutex
		out []Outcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, doc := range batch.Documents {
		st := batch.Latest[doc.ID]
		if st.CreatedAt.After(cutoff) {
			s.logger.Debug("indexed too recently, not probed", "document_id", doc.ID, "indexed_at", st.CreatedAt)
			continue
		}
		g.Go(func() error {
			o, ok := s.inspect(gctx, doc, st.Title, now)
			if ok {
				mu.Lock()
				out = append(out, o)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *SanitaryStage) inspect(ctx context.Context, doc domain.Document, current domain.Step, now time.Time) (Outcome, bool) {
	length, err := s.Probe(ctx, doc.URL)
	if err != nil {
		rej := domain.RejectionFromError(err)
		s.logger.Warn("probe failed", "document_id", doc.ID, "url", doc.URL, "http_code", rej.HTTPCode, "err", err)
		return failure(doc.ID, rej, current, now), true
	}
	if length < 0 {
		return Outcome{}, false
	}

	stored, known := doc.Details.Int64(domain.DetailContentLength)
	if known && stored == length {
		return Outcome{}, false
	}

	updated := doc.Clone()
	if updated.Details == nil {
		updated.Details = domain.Details{}
	}
	updated.Details[domain.DetailContentLength] = length
	if !known {
		return Outcome{DocumentID: doc.ID, Document: &updated}, true
	}

	s.logger.Info("source size changed, document requeued",
		"document_id", doc.ID, "url", doc.URL, "stored", stored, "current", length)
	return Outcome{DocumentID: doc.ID, Document: &updated, State: stepPtr(domain.StepURLRetrieved)}, true
}

// Probe returns the Content-Length the source announces for url, or -1 when it
// announces none. A HEAD refused with 405 is retried as GET.
func (s *SanitaryStage) Probe(ctx context.Context, url string) (int64, error) {
	length, err := s.probe(ctx, http.MethodHead, url)
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusMethodNotAllowed {
		return s.probe(ctx, http.MethodGet, url)
	}
	return length, err
}

func (s *SanitaryStage) probe(ctx context.Context, method, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if err := httpclient.CheckResponse(resp); err != nil {
		return 0, err
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return -1, nil
}

// Sanitizer picks random indexed documents and runs the sanitary stage over them.
type Sanitizer struct {
	repo        ports.Repository
	coordinator *Coordinator
	stage       *SanitaryStage
	corpus      string
	limit       int
	logger      *slog.Logger
}

// NewSanitizer wires a sanitary run; corpus may be empty to probe every corpus.
func NewSanitizer(repo ports.Repository, coordinator *Coordinator, stage *SanitaryStage, corpus string, limit int, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{repo: repo, coordinator: coordinator, stage: stage, corpus: corpus, limit: limit, logger: logger}
}

// Run probes one random sample of documents.
func (s *Sanitizer) Run(ctx context.Context) (domain.StageReport, error) {
	ids, err := s.repo.GetRandomDocumentsWithState(ctx, ports.StateQuery{
		Steps:      domain.StageSanitary.EligibleSteps(),
		CorpusName: s.corpus,
		Limit:      s.limit,
		OlderThan:  s.stage.now().UTC().Add(-s.stage.minAge),
	})
	if err != nil {
		return domain.StageReport{}, fmt.Errorf("pick documents to probe: %w", err)
	}
	s.logger.Info("sanitary sample picked", "documents", len(ids), "corpus", s.corpus)
	return s.coordinator.RunIDs(ctx, s.stage, ids)
}
