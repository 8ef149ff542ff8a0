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

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/querydesk/pkg/embedder"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/vector"
)

const (
	DefaultBatchSize   = 32
	DefaultConcurrency = 4

	// MetaChunk is the chunk index within its section.
	MetaChunk = "chunk"
)

type Config struct {
	Embedder   embedder.Embedder
	Store      vector.Provider
	Collection string
	Chunker    *Chunker

	// BatchSize is the number of chunks per embedding request.
	BatchSize int
	// Concurrency bounds in-flight embedding requests.
	Concurrency int
}

// Stats summarizes one ingestion run.
type Stats struct {
	Files   int      `json:"files"`
	Chunks  int      `json:"chunks"`
	Skipped []string `json:"skipped,omitempty"`
}

// Ingester indexes documents for document_search.
type Ingester struct {
	cfg Config
}

func New(cfg Config) (*Ingester, error) {
	if cfg.Embedder == nil || cfg.Store == nil {
		return nil, fmt.Errorf("ingest: embedder and vector store are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = retrievaltool.DefaultCollection
	}
	if cfg.Chunker == nil {
		c, err := NewChunker(DefaultChunkTokens, DefaultOverlapTokens, nil)
		if err != nil {
			return nil, err
		}
		cfg.Chunker = c
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Ingester{cfg: cfg}, nil
}

// IngestPath indexes a file, or every supported file under a directory.
// Unsupported files inside a directory are skipped; an unsupported file
// named directly is an error.
func (in *Ingester) IngestPath(ctx context.Context, path string) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := in.cfg.Store.CreateCollection(ctx, in.cfg.Collection, in.cfg.Embedder.Dimension()); err != nil {
		return nil, err
	}

	stats := &Stats{}
	if !info.IsDir() {
		n, err := in.IngestFile(ctx, path)
		if err != nil {
			return nil, err
		}
		stats.Files, stats.Chunks = 1, n
		return stats, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !Supported(p) {
			stats.Skipped = append(stats.Skipped, p)
			return nil
		}
		n, err := in.IngestFile(ctx, p)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// IngestFile replaces every chunk previously indexed from path and returns
// the number of chunks written.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	doc, err := ReadFile(ctx, path)
	if err != nil {
		return 0, err
	}
	source := filepath.Base(path)

	var docs []vector.Document
	for _, sec := range doc.Sections {
		for i, text := range in.cfg.Chunker.Chunk(sec.Text) {
			meta := map[string]any{
				retrievaltool.MetaSource: source,
				MetaChunk:                i,
			}
			if sec.Page > 0 {
				meta[retrievaltool.MetaPage] = strconv.Itoa(sec.Page)
			}
			if sec.Title != "" {
				meta[retrievaltool.MetaSection] = sec.Title
			}
			key := fmt.Sprintf("%s#%d#%s#%d", source, sec.Page, sec.Title, i)
			docs = append(docs, vector.Document{
				ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
				Content:  text,
				Metadata: meta,
			})
		}
	}

	if err := in.embed(ctx, docs); err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}
	if err := in.cfg.Store.DeleteByFilter(ctx, in.cfg.Collection, map[string]any{retrievaltool.MetaSource: source}); err != nil {
		return 0, fmt.Errorf("remove previous chunks of %s: %w", source, err)
	}
	if err := in.cfg.Store.Upsert(ctx, in.cfg.Collection, docs); err != nil {
		return 0, err
	}
	slog.Info("Ingested document", "source", source, "sections", len(doc.Sections), "chunks", len(docs))
	return len(docs), nil
}

// embed fills in vectors batch by batch, with bounded parallelism.
func (in *Ingester) embed(ctx context.Context, docs []vector.Document) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for start := 0; start < len(docs); start += in.cfg.BatchSize {
		batch := docs[start:min(start+in.cfg.BatchSize, len(docs))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Content
			}
			vecs, err := in.cfg.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Vector = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}
