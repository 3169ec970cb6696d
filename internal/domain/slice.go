package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// SdgCount is the number of Sustainable Development Goals.
const SdgCount = 17

// Slice is a bounded text fragment of a document with its embedding.
type Slice struct {
	ID                 int64
	DocumentID         int64
	Body               string
	OrderSequence      int
	Embedding          []float32
	EmbeddingModelName string
	EmbeddingModelID   int64
}

// WordCount counts whitespace separated words of the body.
func (s Slice) WordCount() int {
	return len(strings.Fields(s.Body))
}

// EncodeEmbedding stores a vector as a little-endian float32 buffer.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding buffer length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Sdg labels a slice with one goal.
type Sdg struct {
	ID                  int64
	SliceID             int64
	SdgNumber           int
	BiClassifierModelID int64
	NClassifierModelID  *int64
}

// ValidSdgNumber reports whether n is in 1..17.
func ValidSdgNumber(n int) bool {
	return n >= 1 && n <= SdgCount
}

// Keyword is a distinct keyphrase shared between documents.
type Keyword struct {
	ID    int64
	Title string
}

// ModelKind distinguishes the three model tables.
type ModelKind string

const (
	ModelEmbedding ModelKind = "embedding"
	ModelBi        ModelKind = "bi"
	ModelN         ModelKind = "n"
)

// Model identifies a model artifact by title and language.
type Model struct {
	ID    int64
	Title string
	Lang  string
	Kind  ModelKind
}

// Collection describes a vector collection registered in the backend.
type Collection struct {
	Name               string
	VectorSize         int
	EmbeddingModelName string
	Lang               string
}

const collectionPrefix = "collection_"

// CollectionName builds the conventional collection name.
func CollectionName(lang, model string) string {
	return collectionPrefix + strings.ToLower(lang) + "_" + model
}

// ParseCollectionName splits a conventional name into language and model.
func ParseCollectionName(name string) (lang, model string, ok bool) {
	rest, found := strings.CutPrefix(name, collectionPrefix)
	if !found {
		return "", "", false
	}
	lang, model, found = strings.Cut(rest, "_")
	if !found || lang == "" || model == "" {
		return "", "", false
	}
	return lang, model, true
}

// Point is one slice projected into the vector index.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// StageReport summarises one job execution.
type StageReport struct {
	RunID     string       `yaml:"run_id"`
	Stage     Stage        `yaml:"stage"`
	StartedAt time.Time    `yaml:"started_at"`
	Finished  time.Time    `yaml:"finished_at"`
	Requested int          `yaml:"requested"`
	Loaded    int          `yaml:"loaded"`
	Accepted  int          `yaml:"accepted"`
	Rejected  int          `yaml:"rejected"`
	Skipped   int          `yaml:"skipped"`
	Dropped   []int64      `yaml:"dropped,omitempty"`
	States    map[Step]int `yaml:"states,omitempty"`
}
