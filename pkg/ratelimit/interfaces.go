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

package ratelimit

import (
	"context"
	"time"
)

// Store persists window counters. Keys already include the window start,
// so a store never needs to reason about window boundaries; windowEnd is
// only used for expiry.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment adds amount to key and returns the new total.
	Increment(ctx context.Context, key string, amount int64, windowEnd time.Time) (int64, error)

	// Get returns the current total, zero if absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes keys with the given prefix.
	Delete(ctx context.Context, prefix string) error

	// DeleteExpired drops counters whose window ended before t.
	DeleteExpired(ctx context.Context, before time.Time) error

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*SQLStore)(nil)
)
