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
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)}
}

// exerciseStore runs the shared limiter behaviour against a store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	clock := newClock()
	l := NewLimiter(store, 2, time.Minute, WithClock(clock.Now), WithScope("test"))

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(1-i), res.Remaining)
	}

	res, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(2), res.Used)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC), res.ResetAt)

	// Other identifiers are independent.
	res, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = l.Check(ctx, "alice")
	assert.True(t, IsRateLimitError(err))
	require.NotNil(t, ResultOf(err))

	require.NoError(t, l.Reset(ctx, "alice"))
	res, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_MemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestLimiter_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestLimiter_SQLStore(t *testing.T) {
	pool := config.NewDBPool()
	defer pool.Close()

	dbCfg := &config.DatabaseConfig{Driver: config.DialectSQLite, Database: filepath.Join(t.TempDir(), "rl.sqlite")}
	dbCfg.SetDefaults()
	db, err := pool.Get(context.Background(), dbCfg)
	require.NoError(t, err)

	store, err := NewSQLStore(context.Background(), db, config.DialectSQLite)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := NewLimiter(NewMemoryStore(), 1, time.Minute, WithClock(clock.Now))

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(time.Minute)
	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_PeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), 1, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := l.Peek(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	res, err := l.Peek(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiter_EmptyIdentifier(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), 1, time.Minute)
	_, err := l.Allow(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestLimiter_ConcurrentAllowNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), 10, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "shared")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	_, _ = s.Increment(ctx, "old", 1, now.Add(-time.Second))
	_, _ = s.Increment(ctx, "new", 1, now.Add(time.Minute))
	require.NoError(t, s.DeleteExpired(ctx, now))
	assert.Equal(t, 1, s.Len())
}

func TestMiddleware(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), 1, time.Minute)
	h := Middleware(MiddlewareConfig{
		Limiter:        l,
		IdentifierFunc: func(r *http.Request) string { return r.Header.Get("X-User") },
		ExcludedPaths:  []string{"/health"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("/api/query", "u1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do("/api/query", "u1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, do("/health", "u1").Code)
	assert.Equal(t, http.StatusOK, do("/api/query", "").Code)
	assert.Equal(t, http.StatusOK, do("/api/query", "u2").Code)
}

type failingStore struct{ MemoryStore }

func (*failingStore) Increment(context.Context, string, int64, time.Time) (int64, error) {
	return 0, fmt.Errorf("store down")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	l := NewLimiter(&failingStore{}, 1, time.Minute)
	h := Middleware(MiddlewareConfig{Limiter: l})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewFromConfig_Disabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	l, s, err := NewFromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.Nil(t, s)
}
