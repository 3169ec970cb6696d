package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// Repository reads pipeline state and opens write transactions.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository wires a sql.DB opened with dialect.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder()),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var documentColumns = []string{
	"id", "external_id", "url", "title", "lang", "description", "full_content",
	"details", "trace", "corpus_id", "created_at", "updated_at",
}

var corpusColumns = []string{"id", "source_name", "is_fix", "is_active", "binary_threshold", "category_id"}

// GetDocumentsByIDs loads documents in id order.
func (r *Repository) GetDocumentsByIDs(ctx context.Context, ids []int64) ([]domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := r.sb.Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build documents query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanDocument(rows *sql.Rows) (domain.Document, error) {
	var (
		d       domain.Document
		ext     sql.NullString
		details sql.NullString
		trace   sql.NullInt64
	)
	if err := rows.Scan(&d.ID, &ext, &d.URL, &d.Title, &d.Lang, &d.Description, &d.FullContent,
		&details, &trace, &d.CorpusID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	d.ExternalID = ext.String
	d.Trace = uint32(trace.Int64)
	d.Details = domain.Details{}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &d.Details); err != nil {
			return domain.Document{}, fmt.Errorf("decode details of document %d: %w", d.ID, err)
		}
	}
	return d, nil
}

// GetCorporaByIDs returns the corpora keyed by id.
func (r *Repository) GetCorporaByIDs(ctx context.Context, ids []int64) (map[int64]domain.Corpus, error) {
	out := map[int64]domain.Corpus{}
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := r.sb.Select(corpusColumns...).From("corpus").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build corpus query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorpus(row rowScanner) (domain.Corpus, error) {
	var (
		c        domain.Corpus
		category sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.SourceName, &c.IsFix, &c.IsActive, &c.BinaryThreshold, &category); err != nil {
		return domain.Corpus{}, err
	}
	c.CategoryID = category.Int64
	return c, nil
}

// GetCorpusByName resolves a corpus by its source name.
func (r *Repository) GetCorpusByName(ctx context.Context, name string) (domain.Corpus, error) {
	query, args, err := r.sb.Select(corpusColumns...).From("corpus").Where(sq.Eq{"source_name": name}).ToSql()
	if err != nil {
		return domain.Corpus{}, fmt.Errorf("build corpus query: %w", err)
	}
	c, err := scanCorpus(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Corpus{}, fmt.Errorf("corpus %q not found: %w", name, err)
	}
	if err != nil {
		return domain.Corpus{}, fmt.Errorf("scan corpus: %w", err)
	}
	return c, nil
}

// EnsureCorpus registers a corpus by name when it is missing.
func (r *Repository) EnsureCorpus(ctx context.Context, name string) (domain.Corpus, error) {
	query, args, err := r.sb.Insert("corpus").
		Columns("source_name").
		Values(name).
		Suffix("ON CONFLICT (source_name) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.Corpus{}, fmt.Errorf("build corpus insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return domain.Corpus{}, fmt.Errorf("insert corpus: %w", err)
	}
	return r.GetCorpusByName(ctx, name)
}

// GetSlicesByDocumentIDs loads the slices of the documents ordered by position.
func (r *Repository) GetSlicesByDocumentIDs(ctx context.Context, ids []int64) ([]domain.Slice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := r.sb.Select("id", "document_id", "body", "order_sequence", "embedding", "embedding_model_name", "embedding_model_id").
		From("document_slices").
		Where(sq.Eq{"document_id": ids}).
		OrderBy("document_id", "order_sequence").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build slices query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query slices: %w", err)
	}
	defer rows.Close()

	var out []domain.Slice
	for rows.Next() {
		var (
			s       domain.Slice
			raw     []byte
			modelID sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Body, &s.OrderSequence, &raw, &s.EmbeddingModelName, &modelID); err != nil {
			return nil, fmt.Errorf("scan slice: %w", err)
		}
		if s.Embedding, err = domain.DecodeEmbedding(raw); err != nil {
			return nil, fmt.Errorf("slice %d: %w", s.ID, err)
		}
		s.EmbeddingModelID = modelID.Int64
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// GetSdgsBySliceIDs loads the goal rows of the slices.
func (r *Repository) GetSdgsBySliceIDs(ctx context.Context, ids []int64) ([]domain.Sdg, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := r.sb.Select("id", "slice_id", "sdg_number", "bi_classifier_model_id", "n_classifier_model_id").
		From("sdgs").
		Where(sq.Eq{"slice_id": ids}).
		OrderBy("slice_id", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sdgs query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sdgs: %w", err)
	}
	defer rows.Close()

	var out []domain.Sdg
	for rows.Next() {
		var (
			s      domain.Sdg
			bi, nc sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.SliceID, &s.SdgNumber, &bi, &nc); err != nil {
			return nil, fmt.Errorf("scan sdg: %w", err)
		}
		s.BiClassifierModelID = bi.Int64
		if nc.Valid {
			id := nc.Int64
			s.NClassifierModelID = &id
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func modelTables(kind domain.ModelKind) (table, join string, err error) {
	switch kind {
	case domain.ModelEmbedding:
		return "embedding_models", "corpus_embedding_models", nil
	case domain.ModelBi:
		return "bi_classifier_models", "corpus_bi_classifier_models", nil
	case domain.ModelN:
		return "n_classifier_models", "corpus_n_classifier_models", nil
	}
	return "", "", fmt.Errorf("unknown model kind %q", kind)
}

// GetModelsForCorpus returns, per document, the models of kind its corpus declares for
// the document language.
func (r *Repository) GetModelsForCorpus(ctx context.Context, docIDs []int64, kind domain.ModelKind) (map[int64][]domain.Model, error) {
	out := map[int64][]domain.Model{}
	if len(docIDs) == 0 {
		return out, nil
	}
	table, join, err := modelTables(kind)
	if err != nil {
		return nil, err
	}
	query, args, err := r.sb.Select("d.id", "m.id", "m.title", "m.lang").
		From("documents d").
		Join(join+" cm ON cm.corpus_id = d.corpus_id").
		Join(table+" m ON m.id = cm.model_id AND m.lang = d.lang").
		Where(sq.Eq{"d.id": docIDs}).
		OrderBy("d.id", "m.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build models query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			docID int64
			m     domain.Model
		)
		if err := rows.Scan(&docID, &m.ID, &m.Title, &m.Lang); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		m.Kind = kind
		out[docID] = append(out[docID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// latestOrders is the subquery selecting the current state row of each document.
func latestOrders(docIDs []int64) (string, []any, error) {
	sub := sq.Select("MAX(operation_order)").From("process_states").GroupBy("document_id")
	if docIDs != nil {
		sub = sub.Where(sq.Eq{"document_id": docIDs})
	}
	return sub.ToSql()
}

// GetLatestStateByDocumentIDs returns the max-ordered state row of every document.
func (r *Repository) GetLatestStateByDocumentIDs(ctx context.Context, ids []int64) (map[int64]domain.ProcessState, error) {
	out := map[int64]domain.ProcessState{}
	if len(ids) == 0 {
		return out, nil
	}
	subSQL, subArgs, err := latestOrders(ids)
	if err != nil {
		return nil, fmt.Errorf("build latest state subquery: %w", err)
	}
	query, args, err := r.sb.Select("id", "document_id", "title", "created_at", "operation_order").
		From("process_states").
		Where("operation_order IN ("+subSQL+")", subArgs...).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest state query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st    domain.ProcessState
			title string
		)
		if err := rows.Scan(&st.ID, &st.DocumentID, &title, &st.CreatedAt, &st.OperationOrder); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		st.Title = domain.Step(title)
		out[st.DocumentID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// GetRandomDocumentsWithState picks documents whose current state is one of q.Steps.
func (r *Repository) GetRandomDocumentsWithState(ctx context.Context, q ports.StateQuery) ([]int64, error) {
	if len(q.Steps) == 0 {
		return nil, nil
	}
	subSQL, subArgs, err := latestOrders(nil)
	if err != nil {
		return nil, fmt.Errorf("build latest state subquery: %w", err)
	}
	steps := make([]string, len(q.Steps))
	for i, s := range q.Steps {
		steps[i] = string(s)
	}

	b := r.sb.Select("ps.document_id").
		From("process_states ps").
		Where("ps.operation_order IN ("+subSQL+")", subArgs...).
		Where(sq.Eq{"ps.title": steps}).
		OrderBy("RANDOM()")
	if q.CorpusName != "" {
		b = b.Join("documents d ON d.id = ps.document_id").
			Join("corpus c ON c.id = d.corpus_id").
			Where(sq.Eq{"c.source_name": q.CorpusName})
	}
	if !q.OlderThan.IsZero() {
		b = b.Where(sq.Lt{"ps.created_at": q.OlderThan.UTC()})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build random documents query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query random documents: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// InTx runs fn inside one transaction, committing when it returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txRepo{q: sqlTx, sb: r.sb, now: r.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
