package slicer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/data"
)

// punktModels maps ISO-639-1 codes onto the bundled punkt training sets.
var punktModels = map[string]string{
	"cs": "czech",
	"da": "danish",
	"de": "german",
	"el": "greek",
	"en": "english",
	"es": "spanish",
	"et": "estonian",
	"fi": "finnish",
	"fr": "french",
	"it": "italian",
	"nl": "dutch",
	"no": "norwegian",
	"pl": "polish",
	"pt": "portuguese",
	"sl": "slovene",
	"sv": "swedish",
	"tr": "turkish",
}

const fallbackModel = "english"

// Segmenter splits text into sentences with a per-language punkt tokenizer.
type Segmenter struct {
	mu         sync.Mutex
	tokenizers map[string]*sentences.DefaultSentenceTokenizer
}

// NewSegmenter returns an empty segmenter; tokenizers load on first use.
func NewSegmenter() *Segmenter {
	return &Segmenter{tokenizers: map[string]*sentences.DefaultSentenceTokenizer{}}
}

// Split returns the trimmed, non-empty sentences of text.
func (s *Segmenter) Split(text, lang string) ([]string, error) {
	tok, err := s.tokenizer(lang)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, sent := range tok.Tokenize(text) {
		if t := strings.TrimSpace(sent.Text); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Segmenter) tokenizer(lang string) (*sentences.DefaultSentenceTokenizer, error) {
	name, ok := punktModels[strings.ToLower(lang)]
	if !ok {
		name = fallbackModel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokenizers[name]; ok {
		return tok, nil
	}

	raw, err := data.Asset("data/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load punkt model %s: %w", name, err)
	}
	training, err := sentences.LoadTraining(raw)
	if err != nil {
		return nil, fmt.Errorf("parse punkt model %s: %w", name, err)
	}
	tok := sentences.NewSentenceTokenizer(training)
	s.tokenizers[name] = tok
	return tok, nil
}
