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
	"time"
)

// Result describes the state of one identifier's current window.
type Result struct {
	Allowed   bool          `json:"allowed"`
	Limit     int64         `json:"limit"`
	Used      int64         `json:"used"`
	Remaining int64         `json:"remaining"`
	Window    time.Duration `json:"window"`
	ResetAt   time.Time     `json:"reset_at"`
}

// RetryAfter is the wait until the window resets.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter allows at most limit requests per identifier per window. Windows
// are aligned to the clock so every process sharing a store agrees on them.
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
	scope  string
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithScope namespaces keys so several limiters can share a store.
func WithScope(scope string) Option {
	return func(l *Limiter) { l.scope = scope }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  int64(limit),
		window: window,
		scope:  "default",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) bounds() (start, end time.Time) {
	now := l.now()
	start = now.Truncate(l.window)
	return start, start.Add(l.window)
}

func (l *Limiter) prefix(identifier string) string {
	return l.scope + ":" + identifier + ":"
}

func (l *Limiter) key(identifier string, start time.Time) string {
	return fmt.Sprintf("%s%d", l.prefix(identifier), start.Unix())
}

// Allow consumes one request for identifier if the window has room.
// A denied request is not counted.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*Result, error) {
	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}
	start, end := l.bounds()
	key := l.key(identifier, start)

	used, err := l.store.Increment(ctx, key, 1, end)
	if err != nil {
		return nil, fmt.Errorf("increment %s: %w", identifier, err)
	}
	res := l.result(used, end)
	if used > l.limit {
		// Roll back so the counter reflects admitted requests only.
		if _, err := l.store.Increment(ctx, key, -1, end); err != nil {
			return nil, fmt.Errorf("rollback %s: %w", identifier, err)
		}
		res = l.result(used-1, end)
		res.Allowed = false
	}
	return res, nil
}

// Peek reports the window state without consuming.
func (l *Limiter) Peek(ctx context.Context, identifier string) (*Result, error) {
	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}
	start, end := l.bounds()
	used, err := l.store.Get(ctx, l.key(identifier, start))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", identifier, err)
	}
	res := l.result(used, end)
	res.Allowed = used < l.limit
	return res, nil
}

// Check is Allow returning a *LimitError on denial.
func (l *Limiter) Check(ctx context.Context, identifier string) (*Result, error) {
	res, err := l.Allow(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		return res, &LimitError{Identifier: identifier, Result: res}
	}
	return res, nil
}

// Reset clears every window of identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.store.Delete(ctx, l.prefix(identifier))
}

// Cleanup drops expired counters.
func (l *Limiter) Cleanup(ctx context.Context) error {
	return l.store.DeleteExpired(ctx, l.now())
}

func (l *Limiter) result(used int64, end time.Time) *Result {
	remaining := l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   used <= l.limit,
		Limit:     l.limit,
		Used:      used,
		Remaining: remaining,
		Window:    l.window,
		ResetAt:   end,
	}
}
