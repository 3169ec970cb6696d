package vectorsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
)

type memoryBackend struct {
	collections []domain.Collection
	points      map[string]map[uint64]domain.Point
	failDelete  bool
	failUpsert  bool
}

func newMemoryBackend(names ...string) *memoryBackend {
	b := &memoryBackend{points: map[string]map[uint64]domain.Point{}}
	for _, n := range names {
		lang, model, _ := domain.ParseCollectionName(n)
		b.collections = append(b.collections, domain.Collection{Name: n, Lang: lang, EmbeddingModelName: model, VectorSize: 2})
		b.points[n] = map[uint64]domain.Point{}
	}
	return b
}

func (b *memoryBackend) ListCollections(context.Context) ([]domain.Collection, error) {
	return b.collections, nil
}

func (b *memoryBackend) DeletePointsByDocumentIDs(_ context.Context, collection string, ids []int64) error {
	if b.failDelete {
		return errors.New("backend down")
	}
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	for pid, p := range b.points[collection] {
		if drop[p.Payload["document_id"].(int64)] {
			delete(b.points[collection], pid)
		}
	}
	return nil
}

func (b *memoryBackend) UpsertPoints(_ context.Context, collection string, points []domain.Point) error {
	if b.failUpsert {
		return errors.New("upsert rejected")
	}
	for _, p := range points {
		b.points[collection][p.ID] = p
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func batch() Input {
	doc := domain.Document{
		ID: 1, URL: "https://example.org/a", Title: "A", Lang: "en", CorpusID: 9,
		Details: domain.Details{domain.DetailReadability: "49.66"},
	}
	return Input{
		Documents: []domain.Document{doc},
		Latest:    map[int64]domain.ProcessState{1: {DocumentID: 1, Title: domain.StepWithKeywords}},
		Corpora:   map[int64]domain.Corpus{9: {ID: 9, SourceName: "plos"}},
		Slices: []domain.Slice{
			{ID: 100, DocumentID: 1, OrderSequence: 0, Embedding: []float32{1, 0}, EmbeddingModelName: "minilm"},
			{ID: 101, DocumentID: 1, OrderSequence: 1, Embedding: []float32{0, 1}, EmbeddingModelName: "minilm"},
		},
		Sdgs: []domain.Sdg{{SliceID: 100, SdgNumber: 1}, {SliceID: 101, SdgNumber: 2}},
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend("collection_en_minilm")
	s := New(backend, 1, quietLogger())

	for range 2 {
		res := s.Sync(context.Background(), batch())
		assert.Equal(t, []int64{1}, res.Indexed)
		assert.Equal(t, 2, res.Points)

		pts := backend.points["collection_en_minilm"]
		require.Len(t, pts, 2)
		assert.Equal(t, []any{int64(1), int64(2)}, pts[100].Payload["document_sdg"])
		assert.Equal(t, []any{int64(1)}, pts[100].Payload["slice_sdg"])
		assert.Equal(t, []any{int64(2)}, pts[101].Payload["slice_sdg"])
		assert.Equal(t, "plos", pts[101].Payload["corpus"])
		assert.Equal(t, "49.66", pts[101].Payload["readability"])
		assert.NotContains(t, pts[101].Payload, "duration")
	}
}

func TestSyncRetiresDocumentsNotReady(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend("collection_en_minilm")
	backend.points["collection_en_minilm"][100] = domain.Point{ID: 100, Payload: map[string]any{"document_id": int64(1)}}

	in := batch()
	in.Latest[1] = domain.ProcessState{DocumentID: 1, Title: domain.StepInQdrant}

	res := New(backend, 0, quietLogger()).Sync(context.Background(), in)
	assert.Equal(t, []int64{1}, res.Retired)
	assert.Empty(t, res.Indexed)
	assert.Empty(t, backend.points["collection_en_minilm"])
}

func TestSyncUnresolvedCollection(t *testing.T) {
	t.Parallel()

	res := New(newMemoryBackend("collection_fr_minilm"), 0, quietLogger()).Sync(context.Background(), batch())
	assert.Equal(t, []int64{1}, res.Unresolved)
}

func TestSyncBackendFailuresKeepState(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend("collection_en_minilm")
	backend.failDelete = true
	res := New(backend, 0, quietLogger()).Sync(context.Background(), batch())
	assert.Equal(t, []int64{1}, res.Skipped)

	backend.failDelete = false
	backend.failUpsert = true
	res = New(backend, 0, quietLogger()).Sync(context.Background(), batch())
	assert.Equal(t, []int64{1}, res.Skipped)
	assert.Empty(t, res.Indexed)
}
