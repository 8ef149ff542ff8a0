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

// Package vector stores document chunks with their embeddings and answers
// nearest-neighbour queries.
//
// Two providers are available: chromem (embedded, optionally persisted to
// disk) and Qdrant (external, over gRPC).
package vector

import (
	"context"
	"fmt"
)

// Document is one chunk to index. Metadata values should be scalars.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Result is one search hit. Score is cosine similarity, higher is closer.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// MetadataString returns a metadata value as a string.
func (r Result) MetadataString(key string) string {
	v, ok := r.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Provider is a vector index.
type Provider interface {
	Name() string

	// Upsert adds or replaces documents by ID.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns up to topK hits, best first. filter matches metadata
	// values exactly; nil means no filter. An empty or missing collection
	// yields no results.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	CreateCollection(ctx context.Context, collection string, dimension int) error
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}
