// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures ChromemProvider.
type ChromemConfig struct {
	// PersistPath is a directory. Empty keeps everything in memory.
	PersistPath string
	Compress    bool
}

// ChromemProvider is an embedded index backed by chromem-go. With a
// persist path every write is flushed to disk by chromem itself.
type ChromemProvider struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector database at %s: %w", cfg.PersistPath, err)
		}
		slog.Info("Opened vector database", "path", cfg.PersistPath, "collections", len(db.ListCollections()))
	} else {
		db = chromem.NewDB()
		slog.Debug("Created in-memory vector database")
	}
	return &ChromemProvider{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

// precomputed is installed as the embedding function; vectors always come
// from the embedder package.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors must be precomputed")
}

func (p *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.collections[name]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	out := make([]chromem.Document, len(docs))
	for i, d := range docs {
		if len(d.Vector) == 0 {
			return fmt.Errorf("document %q has no vector", d.ID)
		}
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		out[i] = chromem.Document{ID: d.ID, Content: d.Content, Metadata: meta, Embedding: d.Vector}
	}
	if err := col.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert into %q: %w", collection, err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the collection size.
	n := min(topK, col.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	hits, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", collection, err)
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			meta[k] = v
		}
		out = append(out, Result{ID: h.ID, Content: h.Content, Score: h.Similarity, Metadata: meta})
	}
	return out, nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	if len(filter) == 0 {
		return errors.New("refusing to delete with an empty filter")
	}
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprint(v)
	}
	return col.Delete(ctx, where, nil)
}

func (p *ChromemProvider) CreateCollection(_ context.Context, collection string, _ int) error {
	_, err := p.collection(collection)
	return err
}

func (p *ChromemProvider) DeleteCollection(_ context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	delete(p.collections, collection)
	return nil
}

func (p *ChromemProvider) Count(_ context.Context, collection string) (int, error) {
	col, err := p.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (p *ChromemProvider) Close() error { return nil }

var _ Provider = (*ChromemProvider)(nil)
