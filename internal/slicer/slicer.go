// Package slicer cuts document content into sentence-aligned slices bounded by the
// embedding model's sequence length and embeds them.
package slicer

import (
	"context"
	"fmt"
	"strings"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// MaxChunkRunes is the largest piece handed to the sentence tokenizer at once.
const MaxChunkRunes = 1_000_000

const ellipsis = "…"

// Slicer builds embedded slices for documents.
type Slicer struct {
	segmenter *Segmenter
}

// New wires a segmenter; nil creates a fresh one.
func New(segmenter *Segmenter) *Slicer {
	if segmenter == nil {
		segmenter = NewSegmenter()
	}
	return &Slicer{segmenter: segmenter}
}

// Slice segments doc.FullContent, packs the sentences and embeds every slice.
// Order sequences run 0..n-1 in emission order.
func (s *Slicer) Slice(ctx context.Context, doc domain.Document, embedder ports.Embedder, modelID int64) ([]domain.Slice, error) {
	if strings.TrimSpace(doc.FullContent) == "" {
		return nil, fmt.Errorf("%w: document %d has no content", domain.ErrContentDeficiency, doc.ID)
	}
	maxWords := embedder.MaxSeqLength()
	if maxWords <= 0 {
		return nil, fmt.Errorf("%w: %s declares no sequence length", domain.ErrModelUnavailable, embedder.Name())
	}

	bodies, err := s.Bodies(doc.FullContent, doc.Lang, maxWords)
	if err != nil {
		return nil, err
	}
	if len(bodies) == 0 {
		return nil, fmt.Errorf("%w: document %d produced no slices", domain.ErrContentDeficiency, doc.ID)
	}

	vectors, err := embedder.Encode(ctx, bodies)
	if err != nil {
		return nil, fmt.Errorf("embed document %d: %w", doc.ID, err)
	}
	if len(vectors) != len(bodies) {
		return nil, fmt.Errorf("%w: %d vectors for %d slices", domain.ErrSchemaMismatch, len(vectors), len(bodies))
	}

	out := make([]domain.Slice, len(bodies))
	for i, body := range bodies {
		out[i] = domain.Slice{
			DocumentID:         doc.ID,
			Body:               body,
			OrderSequence:      i,
			Embedding:          vectors[i],
			EmbeddingModelName: embedder.Name(),
			EmbeddingModelID:   modelID,
		}
	}
	return out, nil
}

// Bodies returns the slice texts of content without embedding them.
func (s *Slicer) Bodies(content, lang string, maxWords int) ([]string, error) {
	var sents []string
	for _, chunk := range SplitEqual(content, MaxChunkRunes) {
		part, err := s.segmenter.Split(chunk, lang)
		if err != nil {
			return nil, err
		}
		sents = append(sents, part...)
	}
	return Pack(sents, maxWords), nil
}

// SplitEqual cuts text into the fewest equal rune-length parts no longer than limit.
func SplitEqual(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	parts := (len(runes) + limit - 1) / limit
	size := (len(runes) + parts - 1) / parts

	out := make([]string, 0, parts)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Pack greedily groups sentences into bodies of at most maxWords words. A sentence
// longer than maxWords is cut to maxWords-1 words followed by an ellipsis.
func Pack(sentences []string, maxWords int) []string {
	var (
		out   []string
		cur   []string
		count int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
		}
		cur, count = nil, 0
	}

	for _, sent := range sentences {
		words := strings.Fields(sent)
		if len(words) == 0 {
			continue
		}
		if len(words) > maxWords {
			words = truncate(words, maxWords)
		}
		if count+len(words) > maxWords {
			flush()
		}
		cur = append(cur, strings.Join(words, " "))
		count += len(words)
	}
	flush()
	return out
}

func truncate(words []string, maxWords int) []string {
	keep := max(maxWords-1, 1)
	out := append([]string(nil), words[:keep]...)
	out[keep-1] += ellipsis
	return out
}
