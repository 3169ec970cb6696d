package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
	"EduPipeline/internal/ports"
	"EduPipeline/internal/vectorsync"
)

const oceanText = "The ocean covers most of the planet. Fish live in deep water. " +
	"Coral reefs protect many coastal towns. Warm seas bleach the coral. " +
	"Scientists count the fish every year. Fishing boats return each evening."

// fakeExtractor answers every reference from a fixed table.
type fakeExtractor struct {
	docs map[int64]domain.Document
	rejs map[int64]domain.Rejection
}

func (fakeExtractor) RelatedCorpus() string      { return "fake" }
func (fakeExtractor) Variant() extractor.Variant { return extractor.VariantScraper }

func (f fakeExtractor) Run(_ context.Context, refs []domain.Document) []domain.Result {
	out := make([]domain.Result, 0, len(refs))
	for _, ref := range refs {
		if rej, ok := f.rejs[ref.ID]; ok {
			out = append(out, domain.Rejected(ref, rej))
			continue
		}
		out = append(out, domain.Extracted(ref, f.docs[ref.ID]))
	}
	return out
}

func embeddingDeps(repo *memRepo) EmbeddingDeps {
	return EmbeddingDeps{
		Repository: repo,
		Models: stubLoader{
			embedders: map[string]ports.Embedder{"mini": stubEmbedder{name: "mini", maxSeq: 10}},
		},
		Resolve: func(lang string) (string, bool) {
			if lang == "en" {
				return "mini", true
			}
			return "", false
		},
		Now: fixedNow(testNow),
	}
}

func TestExtractStageOutcomes(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addCorpus(domain.Corpus{ID: 2, SourceName: "unknown"})
	for id := int64(1); id <= 4; id++ {
		repo.addDocument(domain.Document{ID: id, URL: fmt.Sprintf("https://example.org/%d", id), CorpusID: 1}, domain.StepURLRetrieved, testNow)
	}
	repo.addDocument(domain.Document{ID: 5, URL: "https://example.org/5", CorpusID: 2}, domain.StepURLRetrieved, testNow)

	unchanged := domain.Document{Title: "Same", Description: "Same text.", FullContent: oceanText, Lang: "en"}
	stored := repo.docs[4]
	stored.Trace = domain.ContentTrace(oceanText)
	repo.docs[4] = stored

	ext := fakeExtractor{
		docs: map[int64]domain.Document{
			1: {Title: "  The  Ocean ", Description: "About the sea.", FullContent: oceanText, URL: "https://landing.example.org/1"},
			3: {Title: "Short", Description: "Tiny.", FullContent: "Too short.", Lang: "en"},
			4: unchanged,
		},
		rejs: map[int64]domain.Rejection{
			2: {Kind: domain.KindLegal, Info: "license not allowed"},
		},
	}
	stage := NewExtractStage(extractor.NewRegistry(ext), nil, nil)
	stage.now = fixedNow(testNow)

	report, err := newCoordinator(repo, newMemArtifacts(), 1, 10).RunIDs(context.Background(), stage, []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)

	doc := repo.docs[1]
	assert.Equal(t, domain.StepScraped, repo.latest(1))
	assert.Equal(t, "The Ocean", doc.Title)
	assert.Equal(t, "https://example.org/1", doc.URL)
	assert.Equal(t, "en", doc.Lang)
	assert.Equal(t, domain.ContentTrace(oceanText), doc.Trace)
	assert.Equal(t, false, doc.Details[domain.DetailContentFromPDF])
	assert.True(t, doc.Details.Has(domain.DetailReadability))

	assert.Equal(t, domain.StepURLRetrieved, repo.latest(2))
	assert.Equal(t, domain.StepInvalid, repo.latest(3))
	assert.Equal(t, domain.StepKeptForTrace, repo.latest(4))
	assert.Equal(t, domain.StepURLRetrieved, repo.latest(5))

	var failed []int64
	for _, e := range repo.errors {
		failed = append(failed, e.DocumentID)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	assert.Equal(t, []int64{2, 3, 5}, failed)
	assert.Equal(t, 3, report.Rejected)
}

func TestExtractStageTraceEquality(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addDocument(domain.Document{ID: 1, URL: "https://example.org/1", CorpusID: 1}, domain.StepURLRetrieved, testNow)

	ext := fakeExtractor{docs: map[int64]domain.Document{
		1: {Title: "Ocean", Description: "About the sea.", FullContent: oceanText, Lang: "en"},
	}}
	stage := NewExtractStage(extractor.NewRegistry(ext), nil, nil)
	stage.now = fixedNow(testNow)
	coord := newCoordinator(repo, newMemArtifacts(), 1, 10)
	run := func() {
		t.Helper()
		_, err := coord.RunIDs(context.Background(), stage, []int64{1})
		require.NoError(t, err)
	}

	run()
	assert.Equal(t, domain.StepScraped, repo.latest(1))
	doc := repo.docs[1]
	assert.Equal(t, uint32(3327805702), doc.Trace)
	assert.Equal(t, "96.58", doc.Details[domain.DetailReadability])
	assert.Equal(t, "8", doc.Details[domain.DetailDuration])

	repo.addDocument(repo.docs[1], domain.StepURLRetrieved, testNow)
	run()
	assert.Equal(t, domain.StepKeptForTrace, repo.latest(1))
	assert.Equal(t, uint32(3327805702), repo.docs[1].Trace)

	changed := ext.docs[1]
	changed.FullContent = oceanText + " Storms grow stronger every decade."
	ext.docs[1] = changed
	repo.addDocument(repo.docs[1], domain.StepURLRetrieved, testNow)
	run()
	assert.Equal(t, domain.StepScraped, repo.latest(1))
	assert.Equal(t, uint32(2931316240), repo.docs[1].Trace)
	assert.Equal(t, "97.06", repo.docs[1].Details[domain.DetailReadability])
	assert.Equal(t, "10", repo.docs[1].Details[domain.DetailDuration])

	assert.Equal(t, []domain.Step{
		domain.StepURLRetrieved, domain.StepScraped,
		domain.StepURLRetrieved, domain.StepKeptForTrace,
		domain.StepURLRetrieved, domain.StepScraped,
	}, repo.statesOf(1))
}

func TestVectorizeStageReplacesSlices(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addDocument(domain.Document{ID: 1, CorpusID: 1, Lang: "en", FullContent: oceanText}, domain.StepScraped, testNow)
	repo.addDocument(domain.Document{ID: 2, CorpusID: 1, Lang: "xx", FullContent: oceanText}, domain.StepScraped, testNow)
	repo.models[domain.ModelEmbedding] = []domain.Model{{ID: 3, Title: "mini", Lang: "en", Kind: domain.ModelEmbedding}}

	stage := NewVectorizeStage(embeddingDeps(repo), nil)
	coord := newCoordinator(repo, newMemArtifacts(), 1, 10)

	_, err := coord.RunIDs(context.Background(), stage, []int64{1, 2})
	require.NoError(t, err)

	first := repo.slicesOf(1)
	require.NotEmpty(t, first)
	var bodies []string
	for i, s := range first {
		assert.Equal(t, i, s.OrderSequence)
		assert.LessOrEqual(t, len(strings.Fields(s.Body)), 10)
		assert.Equal(t, int64(3), s.EmbeddingModelID)
		assert.Equal(t, "mini", s.EmbeddingModelName)
		bodies = append(bodies, s.Body)
	}
	assert.Equal(t, domain.StepVectorized, repo.latest(1))
	assert.Equal(t, domain.StepKeptForTrace, repo.latest(2))
	assert.Empty(t, repo.slicesOf(2))

	repo.addDocument(repo.docs[1], domain.StepScraped, testNow)
	_, err = coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	second := repo.slicesOf(1)
	require.Len(t, second, len(first))
	for i, s := range second {
		assert.Equal(t, bodies[i], s.Body)
	}
}

func classifyFixture(t *testing.T, details domain.Details, bi []float64) (*memRepo, *Coordinator, *ClassifyStage) {
	t.Helper()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addDocument(domain.Document{ID: 1, CorpusID: 1, Lang: "en", Details: details}, domain.StepVectorized, testNow)
	repo.slices[11] = domain.Slice{ID: 11, DocumentID: 1, OrderSequence: 0, Embedding: []float32{1, 0}}
	repo.slices[12] = domain.Slice{ID: 12, DocumentID: 1, OrderSequence: 1, Embedding: []float32{0, 1}}
	repo.sdgs = []domain.Sdg{{SliceID: 11, SdgNumber: 9, BiClassifierModelID: 7}}
	repo.models[domain.ModelBi] = []domain.Model{{ID: 7, Title: "bi_en", Lang: "en", Kind: domain.ModelBi}}
	repo.models[domain.ModelN] = []domain.Model{{ID: 8, Title: "n_en", Lang: "en", Kind: domain.ModelN}}

	nRow := make([]float64, domain.SdgCount)
	nRow[2] = 0.8
	nRow[13] = 0.6
	loader := stubLoader{classifiers: map[string]ports.Classifier{
		"bi_en": stubClassifier{row: bi},
		"n_en":  stubClassifier{row: nRow},
	}}
	stage := NewClassifyStage(ClassifyDeps{Repository: repo, Models: loader, Now: fixedNow(testNow)})
	return repo, newCoordinator(repo, newMemArtifacts(), 1, 10), stage
}

func TestClassifyStageExternalGoals(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, domain.Details{domain.DetailExternalSDG: []any{14.0, 15.0}}, []float64{0.1, 0.9})

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	require.Len(t, repo.sdgs, 4)
	perSlice := map[int64][]int{}
	for _, s := range repo.sdgs {
		assert.Nil(t, s.NClassifierModelID)
		assert.Equal(t, int64(7), s.BiClassifierModelID)
		perSlice[s.SliceID] = append(perSlice[s.SliceID], s.SdgNumber)
	}
	assert.ElementsMatch(t, []int{14, 15}, perSlice[11])
	assert.ElementsMatch(t, []int{14, 15}, perSlice[12])
	assert.Equal(t, domain.StepClassifiedSDG, repo.latest(1))
}

func TestClassifyStageSpecificGoals(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, nil, []float64{0.2, 0.8})

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	require.Len(t, repo.sdgs, 2)
	for _, s := range repo.sdgs {
		assert.Equal(t, 3, s.SdgNumber)
		require.NotNil(t, s.NClassifierModelID)
		assert.Equal(t, int64(8), *s.NClassifierModelID)
	}
	assert.Equal(t, domain.StepClassifiedSDG, repo.latest(1))
}

func TestClassifyStageForcedGoals(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, domain.Details{domain.DetailForcedSDG: []any{14.0}}, []float64{0.2, 0.8})

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	require.Len(t, repo.sdgs, 2)
	for _, s := range repo.sdgs {
		assert.Equal(t, 14, s.SdgNumber)
	}
}

func TestClassifyStageNegativeClearsGoals(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, nil, []float64{0.9, 0.1})

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	assert.Empty(t, repo.sdgs)
	assert.Equal(t, domain.StepClassifiedNonSDG, repo.latest(1))
}

func TestClassifyStageWithoutModelKeepsForTrace(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, nil, []float64{0.1, 0.9})
	repo.models[domain.ModelBi] = nil

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	assert.Equal(t, domain.StepKeptForTrace, repo.latest(1))
	require.Len(t, repo.errors, 1)
	assert.Contains(t, repo.errors[0].ErrorInfo, string(domain.KindModelUnavailable))
}

func TestClassifyStageEmptyReplyKeepsForTrace(t *testing.T) {
	t.Parallel()

	repo, coord, stage := classifyFixture(t, nil, []float64{})

	_, err := coord.RunIDs(context.Background(), stage, []int64{1})
	require.NoError(t, err)

	require.Len(t, repo.sdgs, 1)
	assert.Equal(t, 9, repo.sdgs[0].SdgNumber)
	assert.Equal(t, domain.StepKeptForTrace, repo.latest(1))
	require.Len(t, repo.errors, 1)
	assert.Contains(t, repo.errors[0].ErrorInfo, string(domain.KindModelUnavailable))
}

func TestKeywordsStage(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addDocument(domain.Document{ID: 1, CorpusID: 1, Lang: "en", Description: "Coral reefs protect coastal towns from ocean storms."}, domain.StepClassifiedSDG, testNow)
	repo.addDocument(domain.Document{ID: 2, CorpusID: 1, Lang: "en"}, domain.StepClassifiedNonSDG, testNow)
	repo.keywords[2] = []string{"stale"}

	stage := NewKeywordsStage(embeddingDeps(repo), nil)
	_, err := newCoordinator(repo, newMemArtifacts(), 1, 10).RunIDs(context.Background(), stage, []int64{1, 2})
	require.NoError(t, err)

	assert.NotEmpty(t, repo.keywords[1])
	assert.Empty(t, repo.keywords[2])
	assert.Equal(t, domain.StepWithKeywords, repo.latest(1))
	assert.Equal(t, domain.StepWithKeywords, repo.latest(2))
}

// memBackend is an in-memory ports.VectorBackend.
type memBackend struct {
	collections []domain.Collection
	points      map[string]map[uint64]domain.Point
}

func newMemBackend(collections ...domain.Collection) *memBackend {
	b := &memBackend{collections: collections, points: map[string]map[uint64]domain.Point{}}
	for _, c := range collections {
		b.points[c.Name] = map[uint64]domain.Point{}
	}
	return b
}

func (b *memBackend) ListCollections(context.Context) ([]domain.Collection, error) {
	return b.collections, nil
}

func (b *memBackend) DeletePointsByDocumentIDs(_ context.Context, collection string, ids []int64) error {
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

func (b *memBackend) UpsertPoints(_ context.Context, collection string, points []domain.Point) error {
	for _, p := range points {
		b.points[collection][p.ID] = p
	}
	return nil
}

func TestIndexStageResyncIsIdempotent(t *testing.T) {
	t.Parallel()

	name := domain.CollectionName("en", "mini")
	backend := newMemBackend(domain.Collection{Name: name, Lang: "en", EmbeddingModelName: "mini", VectorSize: 2})

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 1, SourceName: "fake"})
	repo.addDocument(domain.Document{ID: 1, CorpusID: 1, Lang: "en", URL: "https://example.org/1"}, domain.StepWithKeywords, testNow)
	repo.addDocument(domain.Document{ID: 2, CorpusID: 1, Lang: "en", URL: "https://example.org/2"}, domain.StepWithKeywords, testNow)
	repo.slices[11] = domain.Slice{ID: 11, DocumentID: 1, OrderSequence: 0, Embedding: []float32{1, 0}, EmbeddingModelName: "mini"}
	repo.slices[12] = domain.Slice{ID: 12, DocumentID: 1, OrderSequence: 1, Embedding: []float32{0, 1}, EmbeddingModelName: "mini"}
	repo.slices[21] = domain.Slice{ID: 21, DocumentID: 2, OrderSequence: 0, Embedding: []float32{1, 1}, EmbeddingModelName: "mini"}
	repo.sdgs = []domain.Sdg{
		{SliceID: 11, SdgNumber: 1},
		{SliceID: 11, SdgNumber: 2},
		{SliceID: 12, SdgNumber: 1},
	}

	stage := NewIndexStage(repo, vectorsync.New(backend, 0, nil), nil)
	batch := Batch{
		Documents: []domain.Document{repo.docs[1], repo.docs[2]},
		Latest: map[int64]domain.ProcessState{
			1: {DocumentID: 1, Title: domain.StepWithKeywords},
			2: {DocumentID: 2, Title: domain.StepWithKeywords},
		},
		Corpora: repo.corpora,
	}

	for run := 0; run < 2; run++ {
		outcomes, err := stage.Process(context.Background(), batch)
		require.NoError(t, err)

		states := map[int64]domain.Step{}
		for _, o := range outcomes {
			states[o.DocumentID] = *o.State
		}
		assert.Equal(t, domain.StepInQdrant, states[1])
		assert.Equal(t, domain.StepKeptForTrace, states[2])

		require.Len(t, backend.points[name], 2)
		p := backend.points[name][11]
		assert.Equal(t, []any{int64(1), int64(2)}, p.Payload["document_sdg"])
		assert.Equal(t, []any{int64(1), int64(2)}, p.Payload["slice_sdg"])
	}
}

func TestBatchGeneratorSplitsIDs(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.random = []int64{1, 2, 3, 4, 5, 6, 7}
	store := newMemArtifacts()
	gen := NewBatchGenerator(BatchGeneratorDeps{Repository: repo, Artifacts: store, Threshold: 3, Now: fixedNow(testNow)})

	n, err := gen.Generate(context.Background(), domain.StageSanitary, "hal", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 6, repo.query.Limit)
	assert.Equal(t, "hal", repo.query.CorpusName)
	assert.Equal(t, []domain.Step{domain.StepInQdrant}, repo.query.Steps)
	assert.Equal(t, testNow.Add(-2*time.Hour), repo.query.OlderThan)

	first, err := store.Read(context.Background(), "output/batch_urls/1_batch_urls.csv")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", string(first))
	second, err := store.Read(context.Background(), "output/batch_urls/2_batch_urls.csv")
	require.NoError(t, err)
	assert.Equal(t, "4\n5\n6\n", string(second))
	quantity, err := store.Read(context.Background(), "output/batch_urls/quantity.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", string(quantity))
}

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Split(nil, 3))
	assert.Equal(t, [][]int64{{1, 2}, {3}}, Split([]int64{1, 2, 3}, 2))
	assert.Equal(t, [][]int64{{1}, {2}}, Split([]int64{1, 2}, 5))
}

// staticCollector returns a fixed list of references.
type staticCollector struct {
	refs []domain.Document
	err  error
}

func (staticCollector) RelatedCorpus() string { return "news" }

func (c staticCollector) Collect(context.Context) ([]domain.Document, error) {
	return c.refs, c.err
}

func TestURLCollectorRegistersNewReferences(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addCorpus(domain.Corpus{ID: 4, SourceName: "news"})
	repo.addDocument(domain.Document{ID: 1, URL: "https://news.example.org/known", CorpusID: 4}, domain.StepInQdrant, testNow)

	registry := extractor.NewRegistry()
	registry.RegisterCollector(staticCollector{refs: []domain.Document{
		{URL: "https://news.example.org/known"},
		{URL: "https://news.example.org/fresh"},
		{URL: "https://news.example.org/fresh"},
	}})
	registry.RegisterCollector(staticCollector{err: fmt.Errorf("feed down")})

	created, err := NewURLCollector(registry, repo, nil).Collect(context.Background(), "news")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	var fresh domain.Document
	for _, d := range repo.docs {
		if d.URL == "https://news.example.org/fresh" {
			fresh = d
		}
	}
	require.NotZero(t, fresh.ID)
	assert.Equal(t, int64(4), fresh.CorpusID)
	assert.Equal(t, []domain.Step{domain.StepURLRetrieved}, repo.statesOf(fresh.ID))

	_, err = NewURLCollector(registry, repo, nil).Collect(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}

func TestPipelineAdvancesThroughStages(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	seedRetrieved(repo, 1)
	coord := newCoordinator(repo, newMemArtifacts(), 1, 10)
	p := NewPipeline(coord, nil,
		&recordingStage{name: domain.StageExtract, next: domain.StepScraped},
		&recordingStage{name: domain.StageVectorize, next: domain.StepVectorized},
	)

	reports, err := p.RunIDs(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, []domain.Step{domain.StepURLRetrieved, domain.StepScraped, domain.StepVectorized}, repo.statesOf(1))
}
