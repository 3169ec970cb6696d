package textmeta

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EduPipeline/internal/domain"
)

const englishSample = "The committee published a detailed report about water management in rural areas. " +
	"It explains how communities can share wells, protect rivers and reduce pollution over the next decade. " +
	"Teachers and students are encouraged to read the findings and discuss them together in class."

const frenchSample = "Le comité a publié un rapport détaillé sur la gestion de l'eau dans les zones rurales. " +
	"Il explique comment les communautés peuvent partager les puits, protéger les rivières et réduire la pollution. " +
	"Les enseignants et les élèves sont invités à lire ces conclusions et à en discuter ensemble en classe."

func TestWordsKeepsContractions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"don't", "stop", "it's", "42"}, Words("don't stop, it's 42!"))
}

func TestSentencesDropsShortFragments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"This is a full sentence."}, Sentences("Hi. This is a full sentence. Ok!"))
	assert.Equal(t, 1, SentenceCount("Hi."))
}

func TestSyllables(t *testing.T) {
	t.Parallel()

	cases := []struct {
		word, lang string
		want       int
	}{
		{"cat", "en", 1},
		{"table", "en", 2},
		{"make", "en", 1},
		{"free", "en", 1},
		{"beautiful", "en", 3},
		{"Hyphenation", "en", 4},
		{"communication", "en", 5},
		{"don't", "en", 1},
		{"université", "fr", 3},
		{"apprentissage", "fr", 4},
		{"eau", "fr", 1},
		{"habari", "sw", 3},
		{"42", "sw", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Syllables(tc.word, tc.lang), tc.word)
	}
}

func TestEmbeddedHyphenationPatterns(t *testing.T) {
	t.Parallel()

	for lang := range patternFileByLang {
		_, ok := hyphenator(lang)
		assert.True(t, ok, lang)
	}
	_, ok := hyphenator("sw")
	assert.False(t, ok)
}

func TestPredictReadabilityAndDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Stats{Words: 43, Sentences: 3, Syllables: 68}, Analyze(englishSample, "en"))
	assert.Equal(t, "58.50", PredictReadability(englishSample, "en"))
	assert.Equal(t, "11", PredictDuration(englishSample, "en"))

	assert.Equal(t, Stats{Words: 51, Sentences: 3, Syllables: 78}, Analyze(frenchSample, "fr"))
	assert.Equal(t, "77.18", PredictReadability(frenchSample, "fr"))
	assert.Equal(t, "15", PredictDuration(frenchSample, "fr"))
}

func TestReadingEaseIsClamped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100.0, ReadingEase(Stats{Words: 1, Sentences: 1, Syllables: 1}, "en"))
	assert.Equal(t, 0.0, ReadingEase(Stats{Words: 100, Sentences: 1, Syllables: 300}, "en"))
	assert.Equal(t, 0.0, ReadingEase(Stats{}, "fr"))
	assert.Equal(t, "100.00", FormatReadability(100))
}

func TestReadingSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 60, ReadingSeconds(228, "en"))
	assert.Equal(t, 60, ReadingSeconds(195, "fr"))
	assert.Equal(t, 60, ReadingSeconds(184, "sw"))
}

func TestDetect(t *testing.T) {
	t.Parallel()

	d := NewDetector()

	en, ok := d.Detect(englishSample)
	require.True(t, ok)
	assert.Equal(t, "en", en.Language)

	fr, ok := d.Detect(frenchSample)
	require.True(t, ok)
	assert.Equal(t, "fr", fr.Language)

	cmp := d.Compare(englishSample, frenchSample)
	assert.True(t, cmp.AreDifferent)
}

func TestStopwords(t *testing.T) {
	t.Parallel()

	assert.True(t, IsStopword("The", "en"))
	assert.True(t, IsStopword("les", "fr"))
	assert.False(t, IsStopword("école", "fr"))
	assert.True(t, IsStopword("the", "sw"))
}

func TestEngineAnnotate(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	doc := &domain.Document{Description: englishSample, FullContent: englishSample}
	e.Annotate(doc)
	assert.Equal(t, "en", doc.Lang)
	assert.True(t, doc.Details.Has(domain.DetailReadability))
	assert.True(t, doc.Details.Has(domain.DetailDuration))
	assert.True(t, doc.Details.Has(domain.DetailContentAndDescriptionLn))

	preset := &domain.Document{Lang: "fr", Description: englishSample, FullContent: englishSample}
	e.Annotate(preset)
	assert.Equal(t, "fr", preset.Lang)
}
