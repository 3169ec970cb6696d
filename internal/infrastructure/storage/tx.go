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

// txRepo is the write side bound to one sql.Tx.
type txRepo struct {
	q   queryer
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ ports.Tx = (*txRepo)(nil)

func encodeDetails(d domain.Details) (string, error) {
	if d == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(raw), nil
}

func nullable(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// InsertDocuments inserts new references; rows whose url already exists are skipped.
// The returned documents carry their new ids.
func (t *txRepo) InsertDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	now := t.now()
	var out []domain.Document
	for _, d := range docs {
		details, err := encodeDetails(d.Details)
		if err != nil {
			return nil, err
		}
		var ext any
		if d.ExternalID != "" {
			ext = d.ExternalID
		}
		query, args, err := t.sb.Insert("documents").
			Columns("external_id", "url", "title", "lang", "description", "full_content", "details", "corpus_id", "created_at", "updated_at").
			Values(ext, d.URL, d.Title, d.Lang, d.Description, d.FullContent, details, d.CorpusID, now, now).
			Suffix("ON CONFLICT (url) DO NOTHING RETURNING id").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build document insert: %w", err)
		}
		err = t.q.QueryRowContext(ctx, query, args...).Scan(&d.ID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert document %s: %w", d.URL, err)
		}
		d.CreatedAt, d.UpdatedAt = now, now
		out = append(out, d)
	}
	return out, nil
}

// UpdateDocuments writes the extracted fields of existing documents.
func (t *txRepo) UpdateDocuments(ctx context.Context, docs []domain.Document) error {
	now := t.now()
	for _, d := range docs {
		details, err := encodeDetails(d.Details)
		if err != nil {
			return err
		}
		b := t.sb.Update("documents").
			Set("title", d.Title).
			Set("lang", d.Lang).
			Set("description", d.Description).
			Set("full_content", d.FullContent).
			Set("details", details).
			Set("trace", int64(d.Trace)).
			Set("updated_at", now).
			Where(sq.Eq{"id": d.ID})
		if d.ExternalID != "" {
			b = b.Set("external_id", d.ExternalID)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build document update: %w", err)
		}
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update document %d: %w", d.ID, err)
		}
	}
	return nil
}

// InsertStates appends state rows; the database assigns operation_order.
func (t *txRepo) InsertStates(ctx context.Context, states []domain.ProcessState) error {
	if len(states) == 0 {
		return nil
	}
	now := t.now()
	b := t.sb.Insert("process_states").Columns("document_id", "title", "created_at")
	for _, st := range states {
		created := st.CreatedAt
		if created.IsZero() {
			created = now
		}
		b = b.Values(st.DocumentID, string(st.Title), created.UTC())
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build state insert: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert states: %w", err)
	}
	return nil
}

// InsertErrors appends error rows.
func (t *txRepo) InsertErrors(ctx context.Context, records []domain.ErrorRetrieval) error {
	if len(records) == 0 {
		return nil
	}
	now := t.now()
	b := t.sb.Insert("error_retrievals").Columns("document_id", "http_error_code", "error_info", "created_at", "updated_at")
	for _, rec := range records {
		var code any
		if rec.HTTPErrorCode != nil {
			code = *rec.HTTPErrorCode
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		b = b.Values(rec.DocumentID, code, rec.ErrorInfo, created.UTC(), now)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build error insert: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert errors: %w", err)
	}
	return nil
}

// DeleteSlicesByDocumentIDs removes every slice of the documents and their goal rows.
func (t *txRepo) DeleteSlicesByDocumentIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	sub, subArgs, err := sq.Select("id").From("document_slices").Where(sq.Eq{"document_id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build slice subquery: %w", err)
	}
	query, args, err := t.sb.Delete("sdgs").Where("slice_id IN ("+sub+")", subArgs...).ToSql()
	if err != nil {
		return fmt.Errorf("build sdg delete: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete sdgs of slices: %w", err)
	}

	query, args, err = t.sb.Delete("document_slices").Where(sq.Eq{"document_id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build slice delete: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete slices: %w", err)
	}
	return nil
}

// InsertSlices inserts slices and returns them with their ids.
func (t *txRepo) InsertSlices(ctx context.Context, slices []domain.Slice) ([]domain.Slice, error) {
	out := make([]domain.Slice, 0, len(slices))
	for _, s := range slices {
		query, args, err := t.sb.Insert("document_slices").
			Columns("document_id", "body", "order_sequence", "embedding", "embedding_model_name", "embedding_model_id").
			Values(s.DocumentID, s.Body, s.OrderSequence, domain.EncodeEmbedding(s.Embedding), s.EmbeddingModelName, nullable(s.EmbeddingModelID)).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build slice insert: %w", err)
		}
		if err := t.q.QueryRowContext(ctx, query, args...).Scan(&s.ID); err != nil {
			return nil, fmt.Errorf("insert slice %d of document %d: %w", s.OrderSequence, s.DocumentID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// DeleteSdgsBySliceIDs removes the goal rows of the slices.
func (t *txRepo) DeleteSdgsBySliceIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := t.sb.Delete("sdgs").Where(sq.Eq{"slice_id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build sdg delete: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete sdgs: %w", err)
	}
	return nil
}

// InsertSdgs inserts goal rows.
func (t *txRepo) InsertSdgs(ctx context.Context, sdgs []domain.Sdg) error {
	if len(sdgs) == 0 {
		return nil
	}
	b := t.sb.Insert("sdgs").Columns("slice_id", "sdg_number", "bi_classifier_model_id", "n_classifier_model_id")
	for _, s := range sdgs {
		if !domain.ValidSdgNumber(s.SdgNumber) {
			return fmt.Errorf("sdg number %d out of range for slice %d", s.SdgNumber, s.SliceID)
		}
		var nc any
		if s.NClassifierModelID != nil {
			nc = nullable(*s.NClassifierModelID)
		}
		b = b.Values(s.SliceID, s.SdgNumber, nullable(s.BiClassifierModelID), nc)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build sdg insert: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert sdgs: %w", err)
	}
	return nil
}

// ReplaceDocumentKeywords makes titles the exact keyword set of the document.
func (t *txRepo) ReplaceDocumentKeywords(ctx context.Context, documentID int64, titles []string) error {
	query, args, err := t.sb.Delete("document_keywords").Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return fmt.Errorf("build keyword unlink: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("unlink keywords: %w", err)
	}

	for _, title := range titles {
		query, args, err := t.sb.Insert("keywords").Columns("title").Values(title).
			Suffix("ON CONFLICT (title) DO NOTHING").ToSql()
		if err != nil {
			return fmt.Errorf("build keyword insert: %w", err)
		}
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert keyword %q: %w", title, err)
		}

		var keywordID int64
		query, args, err = t.sb.Select("id").From("keywords").Where(sq.Eq{"title": title}).ToSql()
		if err != nil {
			return fmt.Errorf("build keyword lookup: %w", err)
		}
		if err := t.q.QueryRowContext(ctx, query, args...).Scan(&keywordID); err != nil {
			return fmt.Errorf("lookup keyword %q: %w", title, err)
		}

		query, args, err = t.sb.Insert("document_keywords").Columns("document_id", "keyword_id").
			Values(documentID, keywordID).
			Suffix("ON CONFLICT DO NOTHING").ToSql()
		if err != nil {
			return fmt.Errorf("build keyword link: %w", err)
		}
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("link keyword %q: %w", title, err)
		}
	}
	return nil
}
