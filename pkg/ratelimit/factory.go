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

package ratelimit

import (
	"context"
	"fmt"

	"github.com/kadirpekel/querydesk/pkg/config"
)

// NewStore opens the counter store for backend. redisURL is used by the
// redis backend; database names an entry in cfg.Databases for the sql one.
func NewStore(ctx context.Context, backend, redisURL, database string, cfg *config.Config, pool *config.DBPool) (Store, error) {
	switch backend {
	case "", config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, redisURL)
	case config.BackendSQL:
		dbCfg, err := cfg.Database(database)
		if err != nil {
			return nil, err
		}
		db, err := pool.Get(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, db, dbCfg.Dialect())
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

// NewFromConfig builds the per-user request limiter. It returns nil when
// rate limiting is disabled.
func NewFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool) (*Limiter, Store, error) {
	rl := &cfg.RateLimit
	if !rl.IsEnabled() {
		return nil, nil, nil
	}
	store, err := NewStore(ctx, rl.Backend, rl.RedisURL, rl.Database, cfg, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limit store: %w", err)
	}
	return NewLimiter(store, rl.Requests, rl.Window, WithScope("requests")), store, nil
}
