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

// Package retrievaltool provides document_search: semantic search over the
// ingested document corpus.
package retrievaltool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/querydesk/pkg/embedder"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/functiontool"
	"github.com/kadirpekel/querydesk/pkg/vector"
)

const (
	ToolName = "document_search"

	DefaultCollection = "documents"
	DefaultResults    = 5
	MaxResults        = 10
)

// Metadata keys written by ingestion and read back here.
const (
	MetaSource  = "source"
	MetaPage    = "page"
	MetaSection = "section"
)

type Config struct {
	Embedder       embedder.Embedder
	Store          vector.Provider
	Collection     string
	DefaultResults int
	Timeout        time.Duration
}

// Searcher embeds queries and searches the vector store.
type Searcher struct {
	cfg Config
}

func New(cfg Config) (*Searcher, error) {
	if cfg.Embedder == nil || cfg.Store == nil {
		return nil, fmt.Errorf("retrievaltool: embedder and vector store are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	cfg.DefaultResults = clamp(cfg.DefaultResults, DefaultResults)
	return &Searcher{cfg: cfg}, nil
}

// SearchArgs are the document_search arguments.
type SearchArgs struct {
	Query      string `json:"query" jsonschema:"required" jsonschema_description:"What to look for in the documents"`
	NumResults int    `json:"num_results,omitempty" jsonschema_description:"Number of passages to return, 1 to 10"`
}

// Capability returns document_search.
func (s *Searcher) Capability() (tool.Capability, error) {
	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        ToolName,
			Description: "Search the document knowledge base (policies, FAQs, manuals) by meaning. Returns the most relevant passages with page and section citations.",
			Timeout:     s.cfg.Timeout,
		},
		func(ctx context.Context, args SearchArgs) (map[string]any, error) {
			return s.Search(ctx, args.Query, args.NumResults)
		},
		func(args SearchArgs) error {
			if strings.TrimSpace(args.Query) == "" {
				return fmt.Errorf("query must not be empty")
			}
			return nil
		},
	)
}

// Passage is one search hit.
type Passage struct {
	Content string  `json:"content"`
	Score   float32 `json:"score"`
	Source  string  `json:"source"`
	Page    string  `json:"page"`
	Section string  `json:"section"`
}

// Citation renders the passage location as "Page N - section".
func (p Passage) Citation() string {
	page := p.Page
	if page == "" {
		page = "Unknown"
	}
	return strings.TrimSpace("Page " + page + " - " + p.Section)
}

// Search returns up to n passages. n is clamped to 1..10; zero uses the
// configured default.
func (s *Searcher) Search(ctx context.Context, query string, n int) (map[string]any, error) {
	n = clamp(n, s.cfg.DefaultResults)

	vec, err := s.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.cfg.Store.Search(ctx, s.cfg.Collection, vec, n, nil)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	passages := make([]Passage, 0, len(hits))
	sources := make([]string, 0, len(hits))
	seen := map[string]bool{}
	for _, h := range hits {
		p := Passage{
			Content: h.Content,
			Score:   h.Score,
			Source:  h.MetadataString(MetaSource),
			Page:    h.MetadataString(MetaPage),
			Section: h.MetadataString(MetaSection),
		}
		passages = append(passages, p)
		if c := p.Citation(); !seen[c] {
			seen[c] = true
			sources = append(sources, c)
		}
	}
	return map[string]any{
		"query":    query,
		"passages": passages,
		"sources":  sources,
	}, nil
}

func clamp(n, def int) int {
	if n == 0 {
		n = def
	}
	return max(1, min(n, MaxResults))
}
