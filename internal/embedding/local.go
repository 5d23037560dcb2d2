package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// LocalProvider embeds through an Ollama-compatible endpoint, which only
// accepts one prompt per request; batches are sent text by text.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client

	mu         sync.Mutex
	learned    int
	configured int
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		client:     &http.Client{Timeout: requestTimeout},
		configured: cfg.Dimension,
	}
}

// Embed returns one vector per input text, in input order. The first failing
// text aborts the batch.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, 0, len(texts))
	for i, text := range texts {
		in := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: p.model, Prompt: text}
		var out struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "", in, &out); err != nil {
			return nil, fmt.Errorf("embedding: text %d of %d: %w", i+1, len(texts), err)
		}
		vecs = append(vecs, out.Embedding)
	}

	if len(vecs[0]) > 0 {
		p.mu.Lock()
		if p.learned == 0 {
			p.learned = len(vecs[0])
		}
		p.mu.Unlock()
	}
	return vecs, nil
}

// Dimension returns the vector dimension observed on the first successful
// call, falling back to the configured value before that.
func (p *LocalProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.learned > 0 {
		return p.learned
	}
	return p.configured
}
