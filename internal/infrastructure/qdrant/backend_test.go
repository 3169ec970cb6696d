package qdrant

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
)

type fakeAPI struct {
	deleted  *qdrant.DeletePoints
	upserted *qdrant.UpsertPoints
}

func (f *fakeAPI) ListCollections(context.Context) ([]string, error) {
	return []string{"collection_en_minilm", "scratch"}, nil
}

func (f *fakeAPI) GetCollectionInfo(_ context.Context, name string) (*qdrant.CollectionInfo, error) {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 384, Distance: qdrant.Distance_Cosine}),
			},
		},
	}, nil
}

func (f *fakeAPI) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deleted = req
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeAPI) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserted = req
	return &qdrant.UpdateResult{}, nil
}

func TestListCollections(t *testing.T) {
	t.Parallel()

	b := newBackend(&fakeAPI{}, Config{})
	cols, err := b.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, domain.Collection{Name: "collection_en_minilm", VectorSize: 384, Lang: "en", EmbeddingModelName: "minilm"}, cols[0])
	assert.Empty(t, cols[1].Lang)
}

func TestDeleteAndUpsert(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	b := newBackend(api, Config{Wait: true})
	ctx := context.Background()

	require.NoError(t, b.DeletePointsByDocumentIDs(ctx, "collection_en_minilm", []int64{1, 2}))
	require.NotNil(t, api.deleted)
	assert.Equal(t, "collection_en_minilm", api.deleted.GetCollectionName())
	assert.True(t, api.deleted.GetWait())

	require.NoError(t, b.UpsertPoints(ctx, "collection_en_minilm", []domain.Point{{
		ID:      100,
		Vector:  []float32{0.1, 0.2},
		Payload: map[string]any{"document_id": int64(1), "slice_sdg": []any{int64(3)}, "lang": "en"},
	}}))
	require.Len(t, api.upserted.GetPoints(), 1)
	p := api.upserted.GetPoints()[0]
	assert.Equal(t, uint64(100), p.GetId().GetNum())
	assert.Equal(t, int64(1), p.GetPayload()["document_id"].GetIntegerValue())
	assert.Equal(t, "en", p.GetPayload()["lang"].GetStringValue())
}

func TestEmptyCallsAreNoops(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	b := newBackend(api, Config{})
	require.NoError(t, b.DeletePointsByDocumentIDs(context.Background(), "c", nil))
	require.NoError(t, b.UpsertPoints(context.Background(), "c", nil))
	assert.Nil(t, api.deleted)
	assert.Nil(t, api.upserted)
}
