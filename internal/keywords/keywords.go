// Package keywords selects keyphrases of a description with Maximal Marginal Relevance
// over sentence-encoder embeddings.
package keywords

import (
	"context"
	"fmt"
	"math"
	"strings"

	"EduPipeline/internal/ports"
	"EduPipeline/internal/textmeta"
)

// Defaults used by the keyword stage.
const (
	DefaultTopN      = 5
	DefaultDiversity = 0.7
	DefaultMinScore  = 0.5
	DefaultMaxNGram  = 2
)

// Extractor ranks candidate phrases against the whole text.
type Extractor struct {
	TopN      int
	Diversity float64
	MinScore  float64
	MaxNGram  int
}

// New returns an extractor with the default parameters.
func New() *Extractor {
	return &Extractor{TopN: DefaultTopN, Diversity: DefaultDiversity, MinScore: DefaultMinScore, MaxNGram: DefaultMaxNGram}
}

// Candidates lists the distinct 1..maxN-grams of text once stop words are removed.
func Candidates(text, lang string, maxN int) []string {
	var tokens []string
	for _, w := range textmeta.Words(strings.ToLower(text)) {
		if len([]rune(w)) < 2 || textmeta.IsStopword(w, lang) {
			continue
		}
		tokens = append(tokens, w)
	}

	seen := map[string]struct{}{}
	var out []string
	for n := 1; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			phrase := strings.Join(tokens[i:i+n], " ")
			if _, ok := seen[phrase]; ok {
				continue
			}
			seen[phrase] = struct{}{}
			out = append(out, phrase)
		}
	}
	return out
}

// Extract returns up to TopN keyphrases whose similarity to text is at least MinScore.
func (e *Extractor) Extract(ctx context.Context, text, lang string, embedder ports.Embedder) ([]string, error) {
	candidates := Candidates(text, lang, e.MaxNGram)
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors, err := embedder.Encode(ctx, append([]string{text}, candidates...))
	if err != nil {
		return nil, fmt.Errorf("embed keyword candidates: %w", err)
	}
	if len(vectors) != len(candidates)+1 {
		return nil, fmt.Errorf("embed keyword candidates: %d vectors for %d texts", len(vectors), len(candidates)+1)
	}
	docVec, candVecs := vectors[0], vectors[1:]

	docSim := make([]float64, len(candidates))
	for i, v := range candVecs {
		docSim[i] = Cosine(docVec, v)
	}

	picked := MMR(docSim, candVecs, e.TopN, e.Diversity)
	out := make([]string, 0, len(picked))
	for _, idx := range picked {
		if docSim[idx] < e.MinScore {
			continue
		}
		out = append(out, candidates[idx])
	}
	return out, nil
}

// MMR picks up to topN candidate indexes, trading relevance for diversity. The first
// pick is the most relevant candidate.
func MMR(docSim []float64, vectors [][]float32, topN int, diversity float64) []int {
	if len(docSim) == 0 || topN <= 0 {
		return nil
	}
	topN = min(topN, len(docSim))

	best := 0
	for i, s := range docSim {
		if s > docSim[best] {
			best = i
		}
	}
	selected := []int{best}
	remaining := map[int]struct{}{}
	for i := range docSim {
		if i != best {
			remaining[i] = struct{}{}
		}
	}

	for len(selected) < topN {
		next, nextScore := -1, math.Inf(-1)
		for i := range docSim {
			if _, ok := remaining[i]; !ok {
				continue
			}
			redundancy := math.Inf(-1)
			for _, j := range selected {
				redundancy = math.Max(redundancy, Cosine(vectors[i], vectors[j]))
			}
			score := (1-diversity)*docSim[i] - diversity*redundancy
			if score > nextScore {
				next, nextScore = i, score
			}
		}
		if next < 0 {
			break
		}
		selected = append(selected, next)
		delete(remaining, next)
	}
	return selected
}

// Cosine is the cosine similarity of a and b; zero vectors score 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
