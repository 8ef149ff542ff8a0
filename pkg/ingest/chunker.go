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

package ingest

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/querydesk/pkg/utils"
)

const (
	DefaultChunkTokens   = 600
	DefaultOverlapTokens = 200
)

// Chunker splits text into windows of at most Size tokens that share
// Overlap tokens with their predecessor. Windows break between words; a
// single word longer than Size becomes its own chunk.
type Chunker struct {
	size    int
	overlap int
	tokens  *utils.TokenCounter
}

// NewChunker returns a chunker; a nil counter estimates tokens by length.
func NewChunker(size, overlap int, tokens *utils.TokenCounter) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkTokens
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, fmt.Errorf("overlap (%d) must be less than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap, tokens: tokens}, nil
}

func (c *Chunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	costs := make([]int, len(words))
	for i, w := range words {
		costs[i] = max(c.tokens.Count(w), 1)
	}

	var chunks []string
	start := 0
	for {
		end, used := start, 0
		for end < len(words) && (end == start || used+costs[end] <= c.size) {
			used += costs[end]
			end++
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			return chunks
		}

		next, kept := end, 0
		for next > start+1 && kept+costs[next-1] <= c.overlap {
			kept += costs[next-1]
			next--
		}
		start = next
	}
}
