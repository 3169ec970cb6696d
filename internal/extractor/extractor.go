package extractor

import (
	"context"
	"fmt"
	"sort"

	"EduPipeline/internal/domain"
)

// Variant tells the coordinator how an extractor consumes its references.
type Variant string

const (
	// VariantFile reads a local CSV/JSON dump.
	VariantFile Variant = "file"
	// VariantREST queries an HTTP API for a whole batch.
	VariantREST Variant = "rest"
	// VariantScraper fetches and parses one page per document.
	VariantScraper Variant = "scraper"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantFile, VariantREST, VariantScraper:
		return true
	}
	return false
}

// Extractor turns references of one corpus into populated documents.
type Extractor interface {
	RelatedCorpus() string
	Variant() Variant
	// Run returns one result per reference; failures are carried as rejections.
	Run(ctx context.Context, refs []domain.Document) []domain.Result
}

// Collector discovers new references for a corpus.
type Collector interface {
	RelatedCorpus() string
	Collect(ctx context.Context) ([]domain.Document, error)
}

// Registry keeps extractors and collectors indexed by corpus tag.
type Registry struct {
	extractors map[string]Extractor
	collectors map[string][]Collector
}

// NewRegistry builds a registry holding the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{
		extractors: map[string]Extractor{},
		collectors: map[string][]Collector{},
	}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the extractor for its corpus.
func (r *Registry) Register(e Extractor) {
	if r.extractors == nil {
		r.extractors = map[string]Extractor{}
	}
	r.extractors[e.RelatedCorpus()] = e
}

// RegisterCollector appends a collector for its corpus.
func (r *Registry) RegisterCollector(c Collector) {
	if r.collectors == nil {
		r.collectors = map[string][]Collector{}
	}
	r.collectors[c.RelatedCorpus()] = append(r.collectors[c.RelatedCorpus()], c)
}

// Select returns the extractor registered for corpus.
func (r *Registry) Select(corpus string) (Extractor, error) {
	e, ok := r.extractors[corpus]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPluginNotFound, corpus)
	}
	if !e.Variant().Valid() {
		return nil, fmt.Errorf("%w: %s declares %q", domain.ErrInvalidPluginType, corpus, e.Variant())
	}
	return e, nil
}

// SelectVariant is Select restricted to one contract variant.
func (r *Registry) SelectVariant(corpus string, want Variant) (Extractor, error) {
	e, err := r.Select(corpus)
	if err != nil {
		return nil, err
	}
	if e.Variant() != want {
		return nil, fmt.Errorf("%w: %s is %s, want %s", domain.ErrInvalidPluginType, corpus, e.Variant(), want)
	}
	return e, nil
}

// Collectors returns the collectors registered for corpus.
func (r *Registry) Collectors(corpus string) ([]Collector, error) {
	cs := r.collectors[corpus]
	if len(cs) == 0 {
		return nil, fmt.Errorf("%w: no collector for %s", domain.ErrPluginNotFound, corpus)
	}
	return cs, nil
}

// Corpora lists the corpus tags with an extractor, sorted.
func (r *Registry) Corpora() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
