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

// Package utils holds small helpers shared by the engine and the CLI.
package utils

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding approximates token counts for the reasoning service.
const DefaultEncoding = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// TokenCounter estimates token counts. When the BPE ranks cannot be loaded
// it falls back to four characters per token.
type TokenCounter struct {
	encode func(string) int
}

// NewTokenCounter returns a counter backed by cl100k_base, loaded once per
// process.
func NewTokenCounter() *TokenCounter {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			slog.Warn("Token encoding unavailable, estimating by length", "encoding", DefaultEncoding, "error", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return NewEstimator()
	}
	return &TokenCounter{encode: func(s string) int { return len(encoding.Encode(s, nil, nil)) }}
}

// NewEstimator returns the length-based counter.
func NewEstimator() *TokenCounter {
	return &TokenCounter{encode: EstimateTokens}
}

// Count returns the token count of text. A nil counter estimates.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encode == nil {
		return EstimateTokens(text)
	}
	return tc.encode(text)
}

// FitNewest returns how many trailing items fit within budget together
// with reserved tokens. Items are ordered oldest first.
func (tc *TokenCounter) FitNewest(items []string, reserved, budget int) int {
	used := reserved
	n := 0
	for i := len(items) - 1; i >= 0; i-- {
		cost := tc.Count(items[i])
		if used+cost > budget {
			break
		}
		used += cost
		n++
	}
	return n
}

// EstimateTokens is the rough four-characters-per-token rule.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
