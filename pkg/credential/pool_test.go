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

package credential

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, n int, opts ...Option) (*Pool, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Secret: "secret-value-" + string(rune('a'+i))}
	}
	p, err := NewPool(entries, append([]Option{WithClock(clk.Now), WithCooldown(time.Second, 8*time.Second)}, opts...)...)
	require.NoError(t, err)
	return p, clk
}

func acquireID(t *testing.T, p *Pool) string {
	t.Helper()
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	return c.ID()
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool([]Entry{{Secret: ""}})
	assert.Error(t, err)

	_, err = NewPool([]Entry{{ID: "a", Secret: "x"}, {ID: "a", Secret: "y"}})
	assert.Error(t, err)

	_, err = NewPool(nil, WithPolicy("fastest"))
	assert.Error(t, err)

	p, err := NewPool([]Entry{{Secret: "x"}, {ID: "named", Secret: "y"}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	snap := p.Snapshot()
	assert.Equal(t, "key-1", snap[0].ID)
	assert.Equal(t, "named", snap[1].ID)
}

func TestAcquire_RoundRobin(t *testing.T) {
	p, _ := newTestPool(t, 3)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, acquireID(t, p))
	}
	assert.Equal(t, []string{"key-1", "key-2", "key-3", "key-1", "key-2", "key-3"}, got)
}

func TestAcquire_SkipsCoolingDown(t *testing.T) {
	p, _ := newTestPool(t, 3)
	p.ReportOutcome(p.byID["key-2"], OutcomeRateLimited)

	for i := 0; i < 6; i++ {
		assert.NotEqual(t, "key-2", acquireID(t, p))
	}
}

func TestAcquire_FallsBackToEarliestCooldown(t *testing.T) {
	p, _ := newTestPool(t, 2)

	// key-1 cools for 2s (second failure), key-2 for 1s.
	p.ReportOutcome(p.byID["key-1"], OutcomeRateLimited)
	p.ReportOutcome(p.byID["key-1"], OutcomeRateLimited)
	p.ReportOutcome(p.byID["key-2"], OutcomeRateLimited)

	assert.Equal(t, "key-2", acquireID(t, p))
	assert.Equal(t, "key-2", acquireID(t, p))
}

func TestAcquire_NeverReturnsExhausted(t *testing.T) {
	p, _ := newTestPool(t, 3)
	p.ReportOutcome(p.byID["key-1"], OutcomeAuthFailure)
	p.ReportOutcome(p.byID["key-3"], OutcomeAuthFailure)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "key-2", acquireID(t, p))
	}

	p.ReportOutcome(p.byID["key-2"], OutcomeAuthFailure)
	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAcquire_EmptyPool(t *testing.T) {
	p, err := NewPool(nil)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReportOutcome_Backoff(t *testing.T) {
	p, clk := newTestPool(t, 1)
	c := p.byID["key-1"]
	start := clk.Now()

	want := []time.Duration{1, 2, 4, 8, 8}
	for _, w := range want {
		p.ReportOutcome(c, OutcomeRateLimited)
		snap := p.Snapshot()[0]
		require.NotNil(t, snap.CoolingDownUntil)
		assert.Equal(t, start.Add(w*time.Second), *snap.CoolingDownUntil)
	}
	assert.Equal(t, 5, p.Snapshot()[0].ConsecutiveFailures)

	clk.Advance(8 * time.Second)
	assert.Equal(t, StateHealthy, c.State(clk.Now()))

	p.ReportOutcome(c, OutcomeSuccess)
	snap := p.Snapshot()[0]
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, int64(1), snap.TotalSuccesses)
	assert.Equal(t, int64(5), snap.TotalFailures)
}

func TestReportOutcome_SuccessClearsCooldown(t *testing.T) {
	p, clk := newTestPool(t, 1)
	c := p.byID["key-1"]

	p.ReportOutcome(c, OutcomeRateLimited)
	assert.Equal(t, StateCoolingDown, c.State(clk.Now()))

	p.ReportOutcome(c, OutcomeSuccess)
	assert.Equal(t, StateHealthy, c.State(clk.Now()))
}

func TestReportOutcome_TransientKeepsState(t *testing.T) {
	p, clk := newTestPool(t, 1)
	c := p.byID["key-1"]

	p.ReportOutcome(c, OutcomeTransientFailure)
	assert.Equal(t, StateHealthy, c.State(clk.Now()))
	assert.Equal(t, 1, p.Snapshot()[0].ConsecutiveFailures)

	// The failure count feeds the next rate-limit backoff.
	p.ReportOutcome(c, OutcomeRateLimited)
	assert.Equal(t, clk.Now().Add(2*time.Second), *p.Snapshot()[0].CoolingDownUntil)
}

func TestReportOutcome_SpentQuotaExhausts(t *testing.T) {
	p, clk := newTestPool(t, 2)
	c := p.byID["key-1"]

	p.ReportOutcome(c, OutcomeQuotaExhausted)
	assert.Equal(t, StateExhausted, p.Snapshot()[0].State)

	// Unlike a rate limit, the key does not come back on its own.
	clk.Advance(24 * time.Hour)
	assert.Equal(t, StateExhausted, c.State(clk.Now()))
	assert.Equal(t, "key-2", acquireID(t, p))
	assert.Equal(t, "key-2", acquireID(t, p))

	p.ReportOutcome(p.byID["key-2"], OutcomeQuotaExhausted)
	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, p.Reset("key-1"))
	assert.Equal(t, "key-1", acquireID(t, p))
}

func TestReset(t *testing.T) {
	p, _ := newTestPool(t, 1)
	p.ReportOutcome(p.byID["key-1"], OutcomeAuthFailure)
	assert.Equal(t, StateExhausted, p.Snapshot()[0].State)

	require.NoError(t, p.Reset("key-1"))
	assert.Equal(t, "key-1", acquireID(t, p))

	assert.ErrorIs(t, p.Reset("nope"), ErrUnknownCredential)
}

func TestSnapshot_MasksSecrets(t *testing.T) {
	p, err := NewPool([]Entry{{Secret: "AIzaSyD-0123456789abcdef"}, {Secret: "short"}})
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, "AIza...cdef", snap[0].Key)
	assert.Equal(t, "****", snap[1].Key)
	assert.Nil(t, snap[0].LastUsed)
}

func TestAcquire_WeightedRandom(t *testing.T) {
	p, err := NewPool([]Entry{
		{ID: "heavy", Secret: "a", Weight: 9},
		{ID: "light", Secret: "b", Weight: 1},
		{ID: "dead", Secret: "c", Weight: 100},
	}, WithPolicy(config.PolicyWeightedRandom))
	require.NoError(t, err)
	p.ReportOutcome(p.byID["dead"], OutcomeAuthFailure)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		counts[acquireID(t, p)]++
	}
	assert.Zero(t, counts["dead"])
	assert.Greater(t, counts["heavy"], counts["light"])
	assert.Positive(t, counts["light"])
}

func TestAcquire_QuotaGuard(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)}
	quota := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 1, time.Minute,
		ratelimit.WithClock(clk.Now), ratelimit.WithScope("credential"))

	p, err := NewPool([]Entry{{Secret: "a"}, {Secret: "b"}}, WithClock(clk.Now), WithQuota(quota))
	require.NoError(t, err)

	first := acquireID(t, p)
	second := acquireID(t, p)
	assert.NotEqual(t, first, second)

	// Both budgets are spent; the pool still answers with a credential.
	third := acquireID(t, p)
	assert.Contains(t, []string{"key-1", "key-2"}, third)

	// A cooling credential that frees up before the quota window wins.
	p.ReportOutcome(p.byID["key-2"], OutcomeRateLimited)
	assert.Equal(t, "key-2", acquireID(t, p))

	clk.Advance(time.Minute)
	require.NoError(t, p.Reset("key-2"))
	assert.NotEmpty(t, acquireID(t, p))
}

func TestPool_Concurrent(t *testing.T) {
	p, _ := newTestPool(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c, err := p.Acquire(ctx)
				if err != nil {
					continue
				}
				switch (i + j) % 3 {
				case 0:
					p.ReportOutcome(c, OutcomeSuccess)
				case 1:
					p.ReportOutcome(c, OutcomeRateLimited)
				default:
					p.ReportOutcome(c, OutcomeTransientFailure)
				}
				_ = p.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, s := range p.Snapshot() {
		total += s.TotalSuccesses + s.TotalFailures
	}
	assert.Equal(t, int64(32*100), total)
}

func TestStateAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "cooling_down", StateCoolingDown.String())
	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
	assert.Equal(t, "quota_exhausted", OutcomeQuotaExhausted.String())
	b, err := StateExhausted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "exhausted", string(b))
}
