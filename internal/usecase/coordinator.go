package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// DefaultChunkSize bounds how many documents share one load and one transaction.
const DefaultChunkSize = 1000

// CoordinatorDeps wires the coordinator to its adapters and limits.
type CoordinatorDeps struct {
	Repository ports.Repository
	Artifacts  ports.ArtifactStore
	Logger     *slog.Logger
	// IDsPath is the artifact holding the batch ids, one per row.
	IDsPath string
	// OutputDir receives <stage>_report.yaml.
	OutputDir string
	Workers   int
	Threshold int
	ChunkSize int
	Now       func() time.Time
}

// Coordinator loads a batch, runs one stage over it and persists the outcomes.
type Coordinator struct {
	repo      ports.Repository
	artifacts ports.ArtifactStore
	logger    *slog.Logger
	idsPath   string
	outputDir string
	workers   int
	threshold int
	chunkSize int
	now       func() time.Time
}

// NewCoordinator constructs the orchestration component.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		repo:      deps.Repository,
		artifacts: deps.Artifacts,
		logger:    deps.Logger,
		idsPath:   deps.IDsPath,
		outputDir: deps.OutputDir,
		workers:   max(deps.Workers, 1),
		threshold: deps.Threshold,
		chunkSize: deps.ChunkSize,
		now:       deps.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.idsPath == "" {
		c.idsPath = "input/batch_ids.csv"
	}
	if c.outputDir == "" {
		c.outputDir = "output"
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Run reads the batch id list and processes it with stage.
func (c *Coordinator) Run(ctx context.Context, stage Stage) (domain.StageReport, error) {
	ids, err := c.ReadIDs(ctx)
	if err != nil {
		return domain.StageReport{}, err
	}
	return c.RunIDs(ctx, stage, ids)
}

// ReadIDs loads the batch id list artifact.
func (c *Coordinator) ReadIDs(ctx context.Context) ([]int64, error) {
	raw, err := c.artifacts.Read(ctx, c.idsPath)
	if err != nil {
		return nil, fmt.Errorf("read batch ids %s: %w", c.idsPath, err)
	}
	ids, err := ParseIDs(raw)
	if err != nil {
		return nil, fmt.Errorf("parse batch ids %s: %w", c.idsPath, err)
	}
	return ids, nil
}

// RunIDs processes ids with stage. Ids beyond workers × threshold are dropped and
// logged; they keep their state for a later run.
func (c *Coordinator) RunIDs(ctx context.Context, stage Stage, ids []int64) (domain.StageReport, error) {
	report := domain.StageReport{
		RunID:     uuid.NewString(),
		Stage:     stage.Name(),
		StartedAt: c.now(),
		States:    map[domain.Step]int{},
	}
	logger := c.logger.With("stage", stage.Name(), "run_id", report.RunID)

	ids = dedupe(ids)
	report.Requested = len(ids)
	if limit := c.workers * c.threshold; c.threshold > 0 && len(ids) > limit {
		report.Dropped = append([]int64(nil), ids[limit:]...)
		ids = ids[:limit]
		logger.Warn("batch over capacity, ids dropped", "limit", limit, "dropped", len(report.Dropped), "ids", report.Dropped)
	}

	for start := 0; start < len(ids); start += c.chunkSize {
		chunk := ids[start:min(start+c.chunkSize, len(ids))]
		if err := c.runChunk(ctx, stage, chunk, &report, logger); err != nil {
			return report, err
		}
	}

	report.Finished = c.now()
	logger.Info("stage finished",
		"loaded", report.Loaded,
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"skipped", report.Skipped,
		"dropped", len(report.Dropped))

	if err := c.writeReport(ctx, report); err != nil {
		logger.Warn("report not written", "err", err)
	}
	return report, nil
}

func (c *Coordinator) runChunk(ctx context.Context, stage Stage, ids []int64, report *domain.StageReport, logger *slog.Logger) error {
	batch, loaded, err := c.load(ctx, stage.Name(), ids)
	if err != nil {
		return err
	}
	report.Loaded += loaded
	report.Skipped += loaded - len(batch.Documents)
	if skipped := loaded - len(batch.Documents); skipped > 0 {
		logger.Debug("ineligible documents skipped", "count", skipped)
	}
	if len(batch.Documents) == 0 {
		return nil
	}

	outcomes, err := stage.Process(ctx, batch)
	if err != nil {
		return fmt.Errorf("process %s chunk: %w", stage.Name(), err)
	}
	outcomes = onePerDocument(outcomes)
	if err := c.apply(ctx, outcomes); err != nil {
		return fmt.Errorf("persist %s chunk: %w", stage.Name(), err)
	}

	seen := map[int64]struct{}{}
	for _, o := range outcomes {
		seen[o.DocumentID] = struct{}{}
		if o.State != nil {
			report.Accepted++
			report.States[*o.State]++
		}
		if len(o.Errors) > 0 {
			report.Rejected++
		}
	}
	report.Skipped += len(batch.Documents) - len(seen)
	return nil
}

// load reads documents and their current states concurrently, then their corpora,
// and keeps the documents the stage accepts.
func (c *Coordinator) load(ctx context.Context, stage domain.Stage, ids []int64) (Batch, int, error) {
	var (
		docs   []domain.Document
		latest map[int64]domain.ProcessState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = c.repo.GetDocumentsByIDs(gctx, ids)
		if err != nil {
			return fmt.Errorf("load documents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		latest, err = c.repo.GetLatestStateByDocumentIDs(gctx, ids)
		if err != nil {
			return fmt.Errorf("load states: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Batch{}, 0, err
	}

	corpusIDs := make([]int64, 0, len(docs))
	seen := map[int64]struct{}{}
	for _, d := range docs {
		if _, ok := seen[d.CorpusID]; !ok {
			seen[d.CorpusID] = struct{}{}
			corpusIDs = append(corpusIDs, d.CorpusID)
		}
	}
	corpora, err := c.repo.GetCorporaByIDs(ctx, corpusIDs)
	if err != nil {
		return Batch{}, 0, fmt.Errorf("load corpora: %w", err)
	}

	eligible := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if st, ok := latest[d.ID]; ok && stage.Accepts(st.Title) {
			eligible = append(eligible, d)
		}
	}
	return Batch{Documents: eligible, Latest: latest, Corpora: corpora}, len(docs), nil
}

// apply writes every outcome of a chunk in one transaction, in dependency order.
func (c *Coordinator) apply(ctx context.Context, outcomes []Outcome) error {
	var (
		docs          []domain.Document
		replaceSlices []int64
		slices        []domain.Slice
		sdgSlices     []int64
		sdgs          []domain.Sdg
		errs          []domain.ErrorRetrieval
		states        []domain.ProcessState
	)
	now := c.now()
	for _, o := range outcomes {
		if o.Document != nil {
			docs = append(docs, *o.Document)
		}
		if o.ReplaceSlices {
			replaceSlices = append(replaceSlices, o.DocumentID)
			slices = append(slices, o.Slices...)
		}
		sdgSlices = append(sdgSlices, o.SdgSliceIDs...)
		sdgs = append(sdgs, o.Sdgs...)
		errs = append(errs, o.Errors...)
		if o.State != nil {
			states = append(states, domain.ProcessState{DocumentID: o.DocumentID, Title: *o.State, CreatedAt: now})
		}
	}

	return c.repo.InTx(ctx, func(tx ports.Tx) error {
		if err := tx.UpdateDocuments(ctx, docs); err != nil {
			return err
		}
		if err := tx.DeleteSlicesByDocumentIDs(ctx, replaceSlices); err != nil {
			return err
		}
		if len(slices) > 0 {
			if _, err := tx.InsertSlices(ctx, slices); err != nil {
				return err
			}
		}
		if err := tx.DeleteSdgsBySliceIDs(ctx, sdgSlices); err != nil {
			return err
		}
		if err := tx.InsertSdgs(ctx, sdgs); err != nil {
			return err
		}
		for _, o := range outcomes {
			if !o.ReplaceKeywords {
				continue
			}
			if err := tx.ReplaceDocumentKeywords(ctx, o.DocumentID, o.Keywords); err != nil {
				return err
			}
		}
		if err := tx.InsertErrors(ctx, errs); err != nil {
			return err
		}
		return tx.InsertStates(ctx, states)
	})
}

func (c *Coordinator) writeReport(ctx context.Context, report domain.StageReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	name := path.Join(c.outputDir, string(report.Stage)+"_report.yaml")
	if err := c.artifacts.Write(ctx, name, data); err != nil {
		return fmt.Errorf("write report %s: %w", name, err)
	}
	return nil
}

// onePerDocument merges outcomes sharing a document id; the last state wins.
func onePerDocument(outcomes []Outcome) []Outcome {
	index := map[int64]int{}
	out := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		i, ok := index[o.DocumentID]
		if !ok {
			index[o.DocumentID] = len(out)
			out = append(out, o)
			continue
		}
		cur := &out[i]
		if o.Document != nil {
			cur.Document = o.Document
		}
		if o.ReplaceSlices {
			cur.ReplaceSlices, cur.Slices = true, o.Slices
		}
		cur.SdgSliceIDs = append(cur.SdgSliceIDs, o.SdgSliceIDs...)
		cur.Sdgs = append(cur.Sdgs, o.Sdgs...)
		if o.ReplaceKeywords {
			cur.ReplaceKeywords, cur.Keywords = true, o.Keywords
		}
		cur.Errors = append(cur.Errors, o.Errors...)
		if o.State != nil {
			cur.State = o.State
		}
	}
	return out
}

// ParseIDs reads one document id per CSV row; a non-numeric first row is a header.
func ParseIDs(data []byte) ([]int64, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var ids []int64
	for row := 0; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			if row == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %q is not an id", row+1, record[0])
		}
		ids = append(ids, id)
	}
}

// FormatIDs renders ids as a one-column CSV.
func FormatIDs(ids []int64) []byte {
	var b bytes.Buffer
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
