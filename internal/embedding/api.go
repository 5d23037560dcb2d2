package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// APIProvider embeds through an OpenAI-compatible /embeddings endpoint.
// All texts of a batch go out in one request.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client

	mu         sync.Mutex
	learned    int // dimension observed on the first successful call
	configured int // used before any call succeeds
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: requestTimeout},
		configured: cfg.Dimension,
	}
}

// Embed returns one vector per input text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	in := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey, in, &out); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(out.Data), len(texts))
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	p.observe(vecs)
	return vecs, nil
}

func (p *APIProvider) observe(vecs [][]float32) {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return
	}
	p.mu.Lock()
	if p.learned == 0 {
		p.learned = len(vecs[0])
	}
	p.mu.Unlock()
}

// Dimension returns the vector dimension observed on the first successful
// call, falling back to the configured value before that.
func (p *APIProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.learned > 0 {
		return p.learned
	}
	return p.configured
}
