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

package session

import (
	"context"
	"slices"
	"sync"

	"github.com/kadirpekel/querydesk/pkg/agent"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	opts options

	mu            sync.RWMutex
	conversations map[string]*conversation
	closed        bool
}

type conversation struct {
	mu    sync.Mutex
	turns []agent.Turn
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:          applyOptions(opts),
		conversations: make(map[string]*conversation),
	}
}

func (s *MemoryStore) get(key string, create bool) (*conversation, error) {
	s.mu.RLock()
	c, ok := s.conversations[key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok || !create {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[key]; !ok {
		c = &conversation{}
		s.conversations[key] = c
	}
	return c, nil
}

func (s *MemoryStore) Append(ctx context.Context, key string, turn agent.Turn) error {
	turn, err := prepare(key, turn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(key, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	if !s.opts.evicts() {
		return nil
	}
	if over := len(c.turns) - s.opts.retention; over > 0 {
		c.turns = slices.Delete(c.turns, 0, over)
	}
	return nil
}

func (s *MemoryStore) snapshot(key string) ([]agent.Turn, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	c, err := s.get(key, false)
	if err != nil || c == nil {
		return []agent.Turn{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.turns), nil
}

func (s *MemoryStore) ContextFor(_ context.Context, key string, n int) ([]agent.Turn, error) {
	turns, err := s.snapshot(key)
	if err != nil {
		return nil, err
	}
	return window(turns, n, s.opts.includeAborted), nil
}

func (s *MemoryStore) History(_ context.Context, key string) ([]agent.Turn, error) {
	return s.snapshot(key)
}

func (s *MemoryStore) Conversations(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
