// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/model"
)

const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// GeminiConfig configures GeminiEmbedder.
type GeminiConfig struct {
	Model     string
	Dimension int
	BatchSize int
	BaseURL   string
}

// GeminiEmbedder embeds through the Gemini API using keys from the shared
// credential pool, so embedding calls fail over like reasoning calls.
type GeminiEmbedder struct {
	cfg  GeminiConfig
	pool *credential.Pool

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGemini(cfg GeminiConfig, pool *credential.Pool) (*GeminiEmbedder, error) {
	if pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &GeminiEmbedder{cfg: cfg, pool: pool, clients: make(map[string]*genai.Client)}, nil
}

// FromConfig builds the embedder for the embedder section.
func FromConfig(c *config.EmbedderConfig, pool *credential.Pool) (Embedder, error) {
	switch c.Provider {
	case "", "gemini":
		return NewGemini(GeminiConfig{Model: c.Model, Dimension: c.Dimension, BatchSize: c.BatchSize}, pool)
	default:
		return nil, fmt.Errorf("unsupported embedder provider %q", c.Provider)
	}
}

func (e *GeminiEmbedder) Dimension() int { return e.cfg.Dimension }
func (e *GeminiEmbedder) Model() string  { return e.cfg.Model }
func (e *GeminiEmbedder) Close() error   { return nil }

func (e *GeminiEmbedder) client(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[key]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if e.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = e.cfg.BaseURL
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	e.clients[key] = c
	return c, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into BatchSize requests.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.embed(ctx, texts[start:end], taskDocument)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dim := int32(e.cfg.Dimension)
	cfg := &genai.EmbedContentConfig{TaskType: task, OutputDimensionality: &dim}

	var vecs [][]float32
	err := e.pool.Do(ctx, 0, model.Classify, func(ctx context.Context, cred *credential.Credential) error {
		client, err := e.client(ctx, cred.Secret())
		if err != nil {
			return err
		}
		resp, err := client.Models.EmbedContent(ctx, e.cfg.Model, contents, cfg)
		if err != nil {
			return translateError(err)
		}
		if len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
		}
		vecs = make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			vecs[i] = emb.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.NewProviderError(apiErr.Code, apiErr.Status, model.WithQuotaIDs(apiErr.Message, apiErr.Details))
	}
	return fmt.Errorf("gemini embedding failed: %w", err)
}

var _ Embedder = (*GeminiEmbedder)(nil)
