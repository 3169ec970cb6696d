package ports

import (
	"context"
	"time"

	"EduPipeline/internal/domain"
)

// StateQuery selects documents by their current state.
type StateQuery struct {
	Steps      []domain.Step
	CorpusName string
	Limit      int
	// OlderThan keeps documents whose current state was written before the instant.
	OlderThan time.Time
}

// Repository is the read side of the relational store plus its transaction boundary.
type Repository interface {
	GetDocumentsByIDs(ctx context.Context, ids []int64) ([]domain.Document, error)
	GetCorporaByIDs(ctx context.Context, ids []int64) (map[int64]domain.Corpus, error)
	GetCorpusByName(ctx context.Context, name string) (domain.Corpus, error)
	GetSlicesByDocumentIDs(ctx context.Context, ids []int64) ([]domain.Slice, error)
	GetSdgsBySliceIDs(ctx context.Context, ids []int64) ([]domain.Sdg, error)
	// GetModelsForCorpus returns, per document id, the models of kind declared for the
	// document's corpus in the document's language.
	GetModelsForCorpus(ctx context.Context, docIDs []int64, kind domain.ModelKind) (map[int64][]domain.Model, error)
	GetLatestStateByDocumentIDs(ctx context.Context, ids []int64) (map[int64]domain.ProcessState, error)
	GetRandomDocumentsWithState(ctx context.Context, q StateQuery) ([]int64, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side; every method runs inside the surrounding transaction.
type Tx interface {
	InsertDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error)
	UpdateDocuments(ctx context.Context, docs []domain.Document) error
	InsertStates(ctx context.Context, states []domain.ProcessState) error
	InsertErrors(ctx context.Context, records []domain.ErrorRetrieval) error
	DeleteSlicesByDocumentIDs(ctx context.Context, ids []int64) error
	InsertSlices(ctx context.Context, slices []domain.Slice) ([]domain.Slice, error)
	DeleteSdgsBySliceIDs(ctx context.Context, ids []int64) error
	InsertSdgs(ctx context.Context, sdgs []domain.Sdg) error
	ReplaceDocumentKeywords(ctx context.Context, documentID int64, titles []string) error
}

// VectorBackend is the similarity index receiving slice points.
type VectorBackend interface {
	ListCollections(ctx context.Context) ([]domain.Collection, error)
	DeletePointsByDocumentIDs(ctx context.Context, collection string, ids []int64) error
	UpsertPoints(ctx context.Context, collection string, points []domain.Point) error
}

// PDFConverter turns PDF bytes into per-page raw text.
type PDFConverter interface {
	ConvertPDF(ctx context.Context, data []byte) ([]string, error)
}

// MetaExtractor returns the flat metadata map of an HTML or PDF payload.
type MetaExtractor interface {
	Meta(ctx context.Context, data []byte, contentType string) (map[string]string, error)
}

// PDFFetcher downloads a PDF and returns its cleaned text.
type PDFFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Embedder encodes texts with a sentence encoder.
type Embedder interface {
	Name() string
	MaxSeqLength() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier returns class probabilities for every embedding row.
type Classifier interface {
	PredictProba(ctx context.Context, embeddings [][]float32) ([][]float64, error)
}

// ModelLoader resolves model artifacts, loading each path at most once per process.
type ModelLoader interface {
	LoadEmbedder(ctx context.Context, name string) (Embedder, error)
	LoadClassifier(ctx context.Context, title string) (Classifier, error)
}

// ArtifactStore reads batch inputs and writes job outputs.
type ArtifactStore interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
