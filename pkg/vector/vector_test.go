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

package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/config"
)

func seed(t *testing.T, p Provider) {
	t.Helper()
	err := p.Upsert(context.Background(), "docs", []Document{
		{ID: "a", Content: "baggage allowance", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"source": "policy.pdf", "page": 1}},
		{ID: "b", Content: "refund rules", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"source": "policy.pdf", "page": 2}},
		{ID: "c", Content: "lounge access", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"source": "perks.docx"}},
	})
	require.NoError(t, err)
}

func TestChromem_SearchOrdersBySimilarity(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	seed(t, p)

	hits, err := p.Search(context.Background(), "docs", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.Equal(t, "baggage allowance", hits[0].Content)
	assert.Equal(t, "1", hits[0].MetadataString("page"))
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromem_TopKLargerThanCollection(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	seed(t, p)

	hits, err := p.Search(context.Background(), "docs", []float32{0, 1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = p.Search(context.Background(), "empty", []float32{0, 1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromem_FilterAndDelete(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	seed(t, p)

	hits, err := p.Search(ctx, "docs", []float32{1, 0, 0}, 3, map[string]any{"source": "perks.docx"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)

	require.NoError(t, p.DeleteByFilter(ctx, "docs", map[string]any{"source": "policy.pdf"}))
	n, err := p.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, p.DeleteByFilter(ctx, "docs", nil))
}

func TestChromem_Persistence(t *testing.T) {
	dir := t.TempDir()
	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	seed(t, p)
	require.NoError(t, p.Close())

	reopened, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	n, err := reopened.Count(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestChromem_UpsertRequiresVector(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	err = p.Upsert(context.Background(), "docs", []Document{{ID: "x", Content: "no vector"}})
	assert.Error(t, err)
}

func TestPointID(t *testing.T) {
	id := "3f2b8c1e-9d4a-4b6e-8f3a-1c2d3e4f5a6b"
	assert.Equal(t, id, pointID(id))
	assert.Equal(t, pointID("policy.pdf#3"), pointID("policy.pdf#3"))
	assert.NotEqual(t, pointID("policy.pdf#3"), pointID("policy.pdf#4"))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&config.VectorStoreConfig{Type: config.VectorChromem})
	require.NoError(t, err)
	assert.Equal(t, "chromem", p.Name())

	_, err = NewProvider(&config.VectorStoreConfig{Type: "milvus"})
	assert.Error(t, err)
}
