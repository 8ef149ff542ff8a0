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
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kadirpekel/querydesk/pkg/agent"
)

// RedisStore keeps each conversation in a redis list of JSON turns.
type RedisStore struct {
	client *redis.Client
	opts   options
	owned  bool
}

// DialRedis connects to url (redis://host:port/db) and verifies the
// connection. The returned store closes the client on Close.
func DialRedis(ctx context.Context, url string, opts ...Option) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStore(client, opts...)
	s.owned = true
	return s, nil
}

// NewRedisStore wraps an existing client, which the caller keeps owning.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: applyOptions(opts)}
}

func (s *RedisStore) key(key string) string {
	return s.opts.keyPrefix + key
}

func (s *RedisStore) Append(ctx context.Context, key string, turn agent.Turn) error {
	turn, err := prepare(key, turn)
	if err != nil {
		return err
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	rk := s.key(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, rk, data)
		if s.opts.evicts() {
			pipe.LTrim(ctx, rk, int64(-s.opts.retention), -1)
		}
		if s.opts.ttl > 0 {
			pipe.Expire(ctx, rk, s.opts.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (s *RedisStore) ContextFor(ctx context.Context, key string, n int) ([]agent.Turn, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if n <= 0 {
		return []agent.Turn{}, nil
	}
	start := int64(-n)
	if !s.opts.includeAborted {
		// Aborted turns are filtered client side, so read everything retained.
		start = 0
	}
	turns, err := s.lrange(ctx, key, start)
	if err != nil {
		return nil, err
	}
	return window(turns, n, s.opts.includeAborted), nil
}

func (s *RedisStore) History(ctx context.Context, key string) ([]agent.Turn, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return s.lrange(ctx, key, 0)
}

func (s *RedisStore) lrange(ctx context.Context, key string, start int64) ([]agent.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(key), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	turns := make([]agent.Turn, 0, len(raw))
	for _, r := range raw {
		var t agent.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) Conversations(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.opts.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan conversations: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
