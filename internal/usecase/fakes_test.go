package usecase

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// memRepo is an in-memory ports.Repository. Writes made inside InTx are applied
// immediately and logged in calls.
type memRepo struct {
	mu       sync.Mutex
	docs     map[int64]domain.Document
	corpora  map[int64]domain.Corpus
	states   []domain.ProcessState
	errors   []domain.ErrorRetrieval
	slices   map[int64]domain.Slice
	sdgs     []domain.Sdg
	keywords map[int64][]string
	models   map[domain.ModelKind][]domain.Model
	random   []int64
	query    ports.StateQuery
	calls    []string
	nextID   int64
	order    int64
	failTx   error
}

var _ ports.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		docs:     map[int64]domain.Document{},
		corpora:  map[int64]domain.Corpus{},
		slices:   map[int64]domain.Slice{},
		keywords: map[int64][]string{},
		models:   map[domain.ModelKind][]domain.Model{},
		nextID:   100,
	}
}

func (r *memRepo) addCorpus(c domain.Corpus) {
	r.corpora[c.ID] = c
}

func (r *memRepo) addDocument(d domain.Document, step domain.Step, at time.Time) {
	r.docs[d.ID] = d
	r.order++
	r.states = append(r.states, domain.ProcessState{DocumentID: d.ID, Title: step, CreatedAt: at, OperationOrder: r.order})
}

func (r *memRepo) latest(id int64) domain.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.LatestStates(r.states)[id].Title
}

func (r *memRepo) statesOf(id int64) []domain.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Step
	for _, st := range r.states {
		if st.DocumentID == id {
			out = append(out, st.Title)
		}
	}
	return out
}

func (r *memRepo) slicesOf(id int64) []domain.Slice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Slice
	for _, s := range r.slices {
		if s.DocumentID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderSequence < out[j].OrderSequence })
	return out
}

func (r *memRepo) GetDocumentsByIDs(_ context.Context, ids []int64) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Document
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) GetCorporaByIDs(_ context.Context, ids []int64) (map[int64]domain.Corpus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]domain.Corpus{}
	for _, id := range ids {
		if c, ok := r.corpora[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (r *memRepo) GetCorpusByName(_ context.Context, name string) (domain.Corpus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.corpora {
		if c.SourceName == name {
			return c, nil
		}
	}
	return domain.Corpus{}, fmt.Errorf("corpus %s not found", name)
}

func (r *memRepo) GetSlicesByDocumentIDs(_ context.Context, ids []int64) ([]domain.Slice, error) {
	var out []domain.Slice
	for _, id := range ids {
		out = append(out, r.slicesOf(id)...)
	}
	return out, nil
}

func (r *memRepo) GetSdgsBySliceIDs(_ context.Context, ids []int64) ([]domain.Sdg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Sdg
	for _, s := range r.sdgs {
		if want[s.SliceID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetModelsForCorpus(_ context.Context, docIDs []int64, kind domain.ModelKind) (map[int64][]domain.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64][]domain.Model{}
	for _, id := range docIDs {
		d, ok := r.docs[id]
		if !ok {
			continue
		}
		for _, m := range r.models[kind] {
			if m.Lang == d.Lang {
				out[id] = append(out[id], m)
			}
		}
	}
	return out, nil
}

func (r *memRepo) GetLatestStateByDocumentIDs(_ context.Context, ids []int64) (map[int64]domain.ProcessState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := domain.LatestStates(r.states)
	out := map[int64]domain.ProcessState{}
	for _, id := range ids {
		if st, ok := all[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (r *memRepo) GetRandomDocumentsWithState(_ context.Context, q ports.StateQuery) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = q
	if q.Limit > 0 && len(r.random) > q.Limit {
		return append([]int64(nil), r.random[:q.Limit]...), nil
	}
	return append([]int64(nil), r.random...), nil
}

func (r *memRepo) InTx(_ context.Context, fn func(tx ports.Tx) error) error {
	if r.failTx != nil {
		return r.failTx
	}
	return fn(&memTx{r: r})
}

type memTx struct {
	r *memRepo
}

var _ ports.Tx = (*memTx)(nil)

func (t *memTx) log(format string, args ...any) {
	t.r.calls = append(t.r.calls, fmt.Sprintf(format, args...))
}

func (t *memTx) InsertDocuments(_ context.Context, docs []domain.Document) ([]domain.Document, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("InsertDocuments %d", len(docs))
	var out []domain.Document
	for _, d := range docs {
		dup := false
		for _, known := range t.r.docs {
			if known.URL == d.URL {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		t.r.nextID++
		d.ID = t.r.nextID
		t.r.docs[d.ID] = d
		out = append(out, d)
	}
	return out, nil
}

func (t *memTx) UpdateDocuments(_ context.Context, docs []domain.Document) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("UpdateDocuments %d", len(docs))
	for _, d := range docs {
		t.r.docs[d.ID] = d
	}
	return nil
}

func (t *memTx) InsertStates(_ context.Context, states []domain.ProcessState) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("InsertStates %d", len(states))
	for _, st := range states {
		t.r.order++
		st.OperationOrder = t.r.order
		t.r.states = append(t.r.states, st)
	}
	return nil
}

func (t *memTx) InsertErrors(_ context.Context, records []domain.ErrorRetrieval) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("InsertErrors %d", len(records))
	t.r.errors = append(t.r.errors, records...)
	return nil
}

func (t *memTx) DeleteSlicesByDocumentIDs(_ context.Context, ids []int64) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("DeleteSlicesByDocumentIDs %d", len(ids))
	for _, id := range ids {
		for sid, s := range t.r.slices {
			if s.DocumentID == id {
				delete(t.r.slices, sid)
			}
		}
	}
	return nil
}

func (t *memTx) InsertSlices(_ context.Context, slices []domain.Slice) ([]domain.Slice, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("InsertSlices %d", len(slices))
	out := make([]domain.Slice, len(slices))
	for i, s := range slices {
		t.r.nextID++
		s.ID = t.r.nextID
		t.r.slices[s.ID] = s
		out[i] = s
	}
	return out, nil
}

func (t *memTx) DeleteSdgsBySliceIDs(_ context.Context, ids []int64) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("DeleteSdgsBySliceIDs %d", len(ids))
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := t.r.sdgs[:0]
	for _, s := range t.r.sdgs {
		if !drop[s.SliceID] {
			kept = append(kept, s)
		}
	}
	t.r.sdgs = kept
	return nil
}

func (t *memTx) InsertSdgs(_ context.Context, sdgs []domain.Sdg) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("InsertSdgs %d", len(sdgs))
	t.r.sdgs = append(t.r.sdgs, sdgs...)
	return nil
}

func (t *memTx) ReplaceDocumentKeywords(_ context.Context, documentID int64, titles []string) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.log("ReplaceDocumentKeywords %d", documentID)
	t.r.keywords[documentID] = append([]string(nil), titles...)
	return nil
}

// memArtifacts is an in-memory ports.ArtifactStore.
type memArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{files: map[string][]byte{}}
}

func (a *memArtifacts) Read(_ context.Context, name string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return data, nil
}

func (a *memArtifacts) Write(_ context.Context, name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[path.Clean(name)] = append([]byte(nil), data...)
	return nil
}

// stubEmbedder returns a fixed two-dimensional vector per text.
type stubEmbedder struct {
	name   string
	maxSeq int
}

func (e stubEmbedder) Name() string      { return e.name }
func (e stubEmbedder) MaxSeqLength() int { return e.maxSeq }

func (e stubEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

// stubClassifier answers every row with the same probabilities.
type stubClassifier struct {
	row []float64
}

func (c stubClassifier) PredictProba(_ context.Context, embeddings [][]float32) ([][]float64, error) {
	out := make([][]float64, len(embeddings))
	for i := range out {
		out[i] = c.row
	}
	return out, nil
}

type stubLoader struct {
	embedders   map[string]ports.Embedder
	classifiers map[string]ports.Classifier
}

func (l stubLoader) LoadEmbedder(_ context.Context, name string) (ports.Embedder, error) {
	if e, ok := l.embedders[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("model %s not found", name)
}

func (l stubLoader) LoadClassifier(_ context.Context, title string) (ports.Classifier, error) {
	if c, ok := l.classifiers[title]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("model %s not found", title)
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
