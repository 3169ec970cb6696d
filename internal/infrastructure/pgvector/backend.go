// Package pgvector keeps vector points in relational tables through pgvector.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/storage"
	"EduPipeline/internal/ports"
)

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS vector_collections (
    name TEXT PRIMARY KEY,
    vector_size INTEGER NOT NULL DEFAULT 0,
    embedding_model_name TEXT NOT NULL,
    lang TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS vector_points (
    collection TEXT NOT NULL REFERENCES vector_collections (name),
    id BIGINT NOT NULL,
    document_id BIGINT NOT NULL,
    embedding vector NOT NULL,
    payload JSONB NOT NULL,
    PRIMARY KEY (collection, id)
)`,
	`CREATE INDEX IF NOT EXISTS vector_points_document_idx ON vector_points (collection, document_id)`,
}

// sqliteSchema stores the vector's text form; it serves local runs.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS vector_collections (
    name TEXT PRIMARY KEY,
    vector_size INTEGER NOT NULL DEFAULT 0,
    embedding_model_name TEXT NOT NULL,
    lang TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS vector_points (
    collection TEXT NOT NULL REFERENCES vector_collections (name),
    id INTEGER NOT NULL,
    document_id INTEGER NOT NULL,
    embedding TEXT NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (collection, id)
)`,
	`CREATE INDEX IF NOT EXISTS vector_points_document_idx ON vector_points (collection, document_id)`,
}

// Backend is a ports.VectorBackend over SQL tables.
type Backend struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.VectorBackend = (*Backend)(nil)

// New wires db opened with dialect.
func New(db *sql.DB, dialect storage.Dialect) *Backend {
	return &Backend{db: db, sb: sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder())}
}

// Bootstrap creates the vector tables.
func Bootstrap(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	stmts := postgresSchema
	if dialect == storage.DialectSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply vector schema: %w", err)
		}
	}
	return nil
}

// EnsureCollection registers a collection under its conventional name.
func (b *Backend) EnsureCollection(ctx context.Context, c domain.Collection) error {
	if c.Name == "" {
		c.Name = domain.CollectionName(c.Lang, c.EmbeddingModelName)
	}
	query, args, err := b.sb.Insert("vector_collections").
		Columns("name", "vector_size", "embedding_model_name", "lang").
		Values(c.Name, c.VectorSize, c.EmbeddingModelName, strings.ToLower(c.Lang)).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build collection insert: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert collection %s: %w", c.Name, err)
	}
	return nil
}

// ListCollections returns the registered collections.
func (b *Backend) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	query, args, err := b.sb.Select("name", "vector_size", "embedding_model_name", "lang").
		From("vector_collections").
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build collections query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []domain.Collection
	for rows.Next() {
		var c domain.Collection
		if err := rows.Scan(&c.Name, &c.VectorSize, &c.EmbeddingModelName, &c.Lang); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// DeletePointsByDocumentIDs removes the points of the documents.
func (b *Backend) DeletePointsByDocumentIDs(ctx context.Context, collection string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := b.sb.Delete("vector_points").
		Where(sq.Eq{"collection": collection, "document_id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build point delete: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete points in %s: %w", collection, err)
	}
	return nil
}

// UpsertPoints writes the points in one statement.
func (b *Backend) UpsertPoints(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	ins := b.sb.Insert("vector_points").Columns("collection", "id", "document_id", "embedding", "payload")
	for _, p := range points {
		docID, ok := p.Payload["document_id"].(int64)
		if !ok {
			return fmt.Errorf("point %d has no document_id", p.ID)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of point %d: %w", p.ID, err)
		}
		ins = ins.Values(collection, int64(p.ID), docID, pgvector.NewVector(p.Vector), string(payload))
	}
	query, args, err := ins.Suffix(`ON CONFLICT (collection, id) DO UPDATE SET
    document_id = EXCLUDED.document_id,
    embedding = EXCLUDED.embedding,
    payload = EXCLUDED.payload`).ToSql()
	if err != nil {
		return fmt.Errorf("build point upsert: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert points in %s: %w", collection, err)
	}
	return nil
}

// Points returns the stored points of a collection ordered by id.
func (b *Backend) Points(ctx context.Context, collection string) ([]domain.Point, error) {
	query, args, err := b.sb.Select("id", "embedding", "payload").
		From("vector_points").
		Where(sq.Eq{"collection": collection}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build points query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []domain.Point
	for rows.Next() {
		var (
			id      int64
			vec     pgvector.Vector
			payload string
		)
		if err := rows.Scan(&id, &vec, &payload); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p := domain.Point{ID: uint64(id), Vector: vec.Slice()}
		if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of point %d: %w", id, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
