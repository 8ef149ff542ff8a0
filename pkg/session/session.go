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

// Package session stores the ordered turn history of each conversation.
//
// A conversation is addressed by a key built with agent.ConversationKey so
// that history never leaks between users. Turns are appended once they are
// complete and never modified or deleted afterwards. An optional retention
// limit evicts the oldest turns at append time; it is off by default.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
)

// DefaultRetention keeps every turn. A positive retention caps the turns
// kept per conversation.
const DefaultRetention = 0

var (
	ErrEmptyKey = errors.New("conversation key is required")
	ErrClosed   = errors.New("session store is closed")
)

// Store is the conversation state store.
type Store interface {
	// Append records a completed turn. Appends to one key are serialized;
	// different keys are independent.
	Append(ctx context.Context, key string, turn agent.Turn) error

	// ContextFor returns the most recent window turns in chronological
	// order. Aborted turns are skipped when the store excludes them.
	ContextFor(ctx context.Context, key string, window int) ([]agent.Turn, error)

	// History returns every retained turn in chronological order.
	History(ctx context.Context, key string) ([]agent.Turn, error)

	// Conversations counts the conversations holding at least one turn.
	Conversations(ctx context.Context) (int, error)

	Close() error
}

type options struct {
	retention      int
	includeAborted bool
	ttl            time.Duration
	keyPrefix      string
}

func defaultOptions() options {
	return options{retention: DefaultRetention, includeAborted: true, keyPrefix: "querydesk:conv:"}
}

// Option configures a Store.
type Option func(*options)

// WithRetention caps the number of turns kept per conversation. Zero
// keeps every turn.
func WithRetention(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retention = n
		}
	}
}

func (o options) evicts() bool { return o.retention > 0 }

// WithIncludeAborted controls whether ContextFor returns aborted turns.
func WithIncludeAborted(include bool) Option {
	return func(o *options) { o.includeAborted = include }
}

// WithTTL expires idle conversations. Only the redis backend honors it.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithKeyPrefix namespaces redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the store selected by cfg.Conversations. The sql backend
// borrows its handle from dbs, which stays responsible for closing it.
func New(ctx context.Context, cfg *config.Config, dbs *config.DBPool) (Store, error) {
	cc := cfg.Conversations
	opts := []Option{
		WithRetention(cc.Retention),
		WithIncludeAborted(config.BoolValue(cfg.Engine.IncludeAborted, true)),
		WithTTL(cc.TTL),
		WithKeyPrefix(cc.KeyPrefix),
	}

	switch cc.Backend {
	case "", config.BackendMemory:
		return NewMemoryStore(opts...), nil
	case config.BackendSQL:
		dbCfg, err := cfg.Database(cc.Database)
		if err != nil {
			return nil, fmt.Errorf("conversations: %w", err)
		}
		db, err := dbs.Get(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("conversations: %w", err)
		}
		return NewSQLStore(ctx, db, dbCfg.Dialect(), opts...)
	case config.BackendRedis:
		return DialRedis(ctx, cc.RedisURL, opts...)
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cc.Backend)
	}
}

// prepare validates an append and stamps the creation time.
func prepare(key string, turn agent.Turn) (agent.Turn, error) {
	if key == "" {
		return turn, ErrEmptyKey
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	return turn, nil
}

// window selects the last n turns, honoring the aborted filter. turns is
// chronological and is not modified.
func window(turns []agent.Turn, n int, includeAborted bool) []agent.Turn {
	if n <= 0 {
		return []agent.Turn{}
	}
	out := make([]agent.Turn, 0, n)
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if !includeAborted && turns[i].Aborted() {
			continue
		}
		out = append(out, turns[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// keyLocks serializes work per conversation key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
