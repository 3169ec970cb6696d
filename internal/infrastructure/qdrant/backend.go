// Package qdrant implements the vector backend on a Qdrant cluster over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// pointsAPI is the subset of *qdrant.Client the backend uses.
type pointsAPI interface {
	ListCollections(ctx context.Context) ([]string, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// Config addresses the cluster.
type Config struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
	Wait    bool
}

// Backend is a ports.VectorBackend on Qdrant.
type Backend struct {
	api     pointsAPI
	closer  func() error
	timeout time.Duration
	wait    bool
}

var _ ports.VectorBackend = (*Backend)(nil)

// Dial opens the gRPC connection.
func Dial(cfg Config) (*Backend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	b := newBackend(client, cfg)
	b.closer = client.Close
	return b, nil
}

func newBackend(api pointsAPI, cfg Config) *Backend {
	return &Backend{api: api, timeout: cfg.Timeout, wait: cfg.Wait, closer: func() error { return nil }}
}

// Close releases the connection.
func (b *Backend) Close() error {
	return b.closer()
}

func (b *Backend) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// ListCollections returns every collection with its vector size; the language and
// model come from the conventional name.
func (b *Backend) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	names, err := b.api.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]domain.Collection, 0, len(names))
	for _, name := range names {
		info, err := b.api.GetCollectionInfo(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collection info %s: %w", name, err)
		}
		c := domain.Collection{
			Name:       name,
			VectorSize: int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		}
		if lang, model, ok := domain.ParseCollectionName(name); ok {
			c.Lang, c.EmbeddingModelName = lang, model
		}
		out = append(out, c)
	}
	return out, nil
}

// DeletePointsByDocumentIDs removes every point whose payload document_id is in ids.
func (b *Backend) DeletePointsByDocumentIDs(ctx context.Context, collection string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	wait := b.wait
	_, err := b.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInts("document_id", ids...)},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete points in %s: %w", collection, err)
	}
	return nil
}

// UpsertPoints writes points keyed by slice id.
func (b *Backend) UpsertPoints(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("payload of point %d: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	wait := b.wait
	if _, err := b.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("upsert points in %s: %w", collection, err)
	}
	return nil
}
