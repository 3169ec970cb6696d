// Package vectorsync replaces the points of a batch of documents in the vector index.
package vectorsync

import (
	"context"
	"log/slog"
	"sort"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/sdg"
)

// DefaultChunkSize is the number of points sent per upsert.
const DefaultChunkSize = 1000

// dominantGoals is how many goals make up document_sdg.
const dominantGoals = 2

// Input is everything the syncer needs about one batch.
type Input struct {
	Documents []domain.Document
	Latest    map[int64]domain.ProcessState
	Corpora   map[int64]domain.Corpus
	Slices    []domain.Slice
	Sdgs      []domain.Sdg
}

// Result partitions the batch by what happened to each document.
type Result struct {
	// Indexed documents had every point acknowledged.
	Indexed []int64
	// Retired documents were removed from the index and have nothing further to insert.
	Retired []int64
	// Unresolved documents have no collection for their language and model.
	Unresolved []int64
	// Skipped documents hit a backend failure and keep their state.
	Skipped []int64
	Points  int
}

// Syncer drives a VectorBackend.
type Syncer struct {
	backend   ports.VectorBackend
	chunkSize int
	logger    *slog.Logger
}

// New wires the backend; chunkSize <= 0 uses DefaultChunkSize.
func New(backend ports.VectorBackend, chunkSize int, logger *slog.Logger) *Syncer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{backend: backend, chunkSize: chunkSize, logger: logger}
}

type docPoints struct {
	id     int64
	points []domain.Point
}

// Sync deletes the batch's points collection by collection, then inserts the points of
// documents whose current state is document_with_keywords.
func (s *Syncer) Sync(ctx context.Context, in Input) Result {
	var res Result

	collections, err := s.backend.ListCollections(ctx)
	if err != nil {
		s.logger.Warn("list collections failed, batch skipped", "err", err)
		for _, d := range in.Documents {
			res.Skipped = append(res.Skipped, d.ID)
		}
		return res
	}
	registry := make(map[string]domain.Collection, len(collections))
	for _, c := range collections {
		registry[c.Name] = c
	}

	slicesByDoc := map[int64][]domain.Slice{}
	for _, sl := range in.Slices {
		slicesByDoc[sl.DocumentID] = append(slicesByDoc[sl.DocumentID], sl)
	}
	for id := range slicesByDoc {
		ss := slicesByDoc[id]
		sort.Slice(ss, func(i, j int) bool { return ss[i].OrderSequence < ss[j].OrderSequence })
	}
	sdgsBySlice := map[int64][]domain.Sdg{}
	for _, row := range in.Sdgs {
		sdgsBySlice[row.SliceID] = append(sdgsBySlice[row.SliceID], row)
	}

	byCollection := map[string][]domain.Document{}
	var order []string
	for _, d := range in.Documents {
		name, ok := resolve(registry, d, slicesByDoc[d.ID])
		if !ok {
			s.logger.Warn("no vector collection for document", "document_id", d.ID, "lang", d.Lang)
			res.Unresolved = append(res.Unresolved, d.ID)
			continue
		}
		if _, seen := byCollection[name]; !seen {
			order = append(order, name)
		}
		byCollection[name] = append(byCollection[name], d)
	}

	for _, name := range order {
		docs := byCollection[name]
		ids := make([]int64, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}

		if err := s.backend.DeletePointsByDocumentIDs(ctx, name, ids); err != nil {
			s.logger.Warn("delete points failed, collection skipped", "collection", name, "err", err)
			res.Skipped = append(res.Skipped, ids...)
			continue
		}

		var pending []docPoints
		for _, d := range docs {
			if st := in.Latest[d.ID]; st.Title != domain.StepWithKeywords {
				res.Retired = append(res.Retired, d.ID)
				continue
			}
			pts := BuildPoints(d, in.Corpora[d.CorpusID], slicesByDoc[d.ID], sdgsBySlice)
			if len(pts) == 0 {
				res.Retired = append(res.Retired, d.ID)
				continue
			}
			pending = append(pending, docPoints{id: d.ID, points: pts})
		}

		indexed, failed, n := s.upsert(ctx, name, pending)
		res.Indexed = append(res.Indexed, indexed...)
		res.Skipped = append(res.Skipped, failed...)
		res.Points += n
	}
	return res
}

// upsert sends the points in chunks; a document is indexed only when every chunk
// holding one of its points was acknowledged.
func (s *Syncer) upsert(ctx context.Context, collection string, pending []docPoints) (indexed, failed []int64, sent int) {
	var (
		all   []domain.Point
		owner []int64
	)
	for _, dp := range pending {
		for _, p := range dp.points {
			all = append(all, p)
			owner = append(owner, dp.id)
		}
	}

	broken := map[int64]bool{}
	for start := 0; start < len(all); start += s.chunkSize {
		end := min(start+s.chunkSize, len(all))
		if err := s.backend.UpsertPoints(ctx, collection, all[start:end]); err != nil {
			s.logger.Warn("upsert points failed", "collection", collection, "points", end-start, "err", err)
			for _, id := range owner[start:end] {
				broken[id] = true
			}
			continue
		}
		sent += end - start
	}

	for _, dp := range pending {
		if broken[dp.id] {
			failed = append(failed, dp.id)
			continue
		}
		indexed = append(indexed, dp.id)
	}
	return indexed, failed, sent
}

func resolve(registry map[string]domain.Collection, d domain.Document, slices []domain.Slice) (string, bool) {
	if len(slices) == 0 || d.Lang == "" {
		return "", false
	}
	model := slices[0].EmbeddingModelName
	name := domain.CollectionName(d.Lang, model)
	if _, ok := registry[name]; ok {
		return name, true
	}
	for _, c := range registry {
		if c.Lang == d.Lang && c.EmbeddingModelName == model {
			return c.Name, true
		}
	}
	return "", false
}

// BuildPoints projects the labelled slices of a document into points keyed by slice id.
func BuildPoints(d domain.Document, corpus domain.Corpus, slices []domain.Slice, sdgsBySlice map[int64][]domain.Sdg) []domain.Point {
	var docSdgs []domain.Sdg
	for _, sl := range slices {
		docSdgs = append(docSdgs, sdgsBySlice[sl.ID]...)
	}
	documentSdg := toAny(sdg.Dominant(docSdgs, dominantGoals))

	var out []domain.Point
	for _, sl := range slices {
		rows := sdgsBySlice[sl.ID]
		if len(rows) == 0 {
			continue
		}
		goals := make([]int, len(rows))
		for i, r := range rows {
			goals[i] = r.SdgNumber
		}

		payload := map[string]any{
			"document_id":    d.ID,
			"document_sdg":   documentSdg,
			"slice_sdg":      toAny(goals),
			"lang":           d.Lang,
			"url":            d.URL,
			"title":          d.Title,
			"corpus":         corpus.SourceName,
			"order_sequence": int64(sl.OrderSequence),
		}
		for _, key := range []string{domain.DetailReadability, domain.DetailDuration} {
			if d.Details.Has(key) {
				payload[key] = d.Details.String(key)
			}
		}
		out = append(out, domain.Point{ID: uint64(sl.ID), Vector: sl.Embedding, Payload: payload})
	}
	return out
}

func toAny(goals []int) []any {
	out := make([]any, len(goals))
	for i, g := range goals {
		out[i] = int64(g)
	}
	return out
}
