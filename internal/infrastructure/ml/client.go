package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/infrastructure/httpclient"
	"EduPipeline/internal/ports"
)

// encodeBatch bounds how many texts go into one encode request.
const encodeBatch = 64

// Client talks to the model inference service and caches loaded models by path.
type Client struct {
	endpoint   string
	apiKey     string
	modelsRoot string
	http       httpclient.Doer

	mu     sync.Mutex
	loaded map[string]modelInfo
}

var _ ports.ModelLoader = (*Client)(nil)

type modelInfo struct {
	Name         string `json:"name"`
	MaxSeqLength int    `json:"max_seq_length"`
	Dimension    int    `json:"dimension"`
}

// NewClient creates a reusable inference client; model paths resolve under modelsRoot.
func NewClient(endpoint, apiKey, modelsRoot string, client httpclient.Doer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		modelsRoot: modelsRoot,
		http:       client,
		loaded:     map[string]modelInfo{},
	}
}

// LoadEmbedder returns the sentence encoder stored under name.
func (c *Client) LoadEmbedder(ctx context.Context, name string) (ports.Embedder, error) {
	path, info, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if info.Name == "" {
		info.Name = name
	}
	return &Embedder{client: c, path: path, info: info}, nil
}

// LoadClassifier returns the classifier stored under title.
func (c *Client) LoadClassifier(ctx context.Context, title string) (ports.Classifier, error) {
	path, _, err := c.load(ctx, title)
	if err != nil {
		return nil, err
	}
	return &Classifier{client: c, path: path}, nil
}

// Loaded reports how many model paths are cached.
func (c *Client) Loaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loaded)
}

func (c *Client) load(ctx context.Context, name string) (string, modelInfo, error) {
	if strings.TrimSpace(name) == "" {
		return "", modelInfo{}, fmt.Errorf("%w: empty model name", domain.ErrModelUnavailable)
	}
	path := filepath.Join(c.modelsRoot, name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.loaded[path]; ok {
		return path, info, nil
	}

	var info modelInfo
	if err := c.post(ctx, "/models/load", map[string]any{"path": path}, &info); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", modelInfo{}, fmt.Errorf("%w: %s", domain.ErrModelUnavailable, path)
		}
		return "", modelInfo{}, fmt.Errorf("load model %s: %w", path, err)
	}
	c.loaded[path] = info
	return path, info, nil
}

// Embedder is a loaded sentence encoder.
type Embedder struct {
	client *Client
	path   string
	info   modelInfo
}

var _ ports.Embedder = (*Embedder)(nil)

// Name is the model title used in collection names.
func (e *Embedder) Name() string {
	return e.info.Name
}

// MaxSeqLength is the longest input in words the model accepts.
func (e *Embedder) MaxSeqLength() int {
	return e.info.MaxSeqLength
}

// Encode embeds texts, batching requests.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += encodeBatch {
		end := min(start+encodeBatch, len(texts))

		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		payload := map[string]any{"path": e.path, "texts": texts[start:end]}
		if err := e.client.post(ctx, "/models/encode", payload, &resp); err != nil {
			return nil, fmt.Errorf("encode with %s: %w", e.info.Name, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: encode returned %d vectors for %d texts", domain.ErrSchemaMismatch, len(resp.Embeddings), end-start)
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// Classifier is a loaded probabilistic classifier.
type Classifier struct {
	client *Client
	path   string
}

var _ ports.Classifier = (*Classifier)(nil)

// PredictProba returns one probability row per embedding.
func (c *Classifier) PredictProba(ctx context.Context, embeddings [][]float32) ([][]float64, error) {
	if len(embeddings) == 0 {
		return nil, nil
	}
	var resp struct {
		Probabilities [][]float64 `json:"probabilities"`
	}
	payload := map[string]any{"path": c.path, "embeddings": embeddings}
	if err := c.client.post(ctx, "/models/predict_proba", payload, &resp); err != nil {
		return nil, fmt.Errorf("predict with %s: %w", filepath.Base(c.path), err)
	}
	if len(resp.Probabilities) != len(embeddings) {
		return nil, fmt.Errorf("%w: predict returned %d rows for %d embeddings", domain.ErrSchemaMismatch, len(resp.Probabilities), len(embeddings))
	}
	return resp.Probabilities, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	data, err := httpclient.Do(c.http, req)
	if err != nil {
		return err
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
