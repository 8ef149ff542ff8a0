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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/ratelimit"
)

const (
	DefaultBaseCooldown = 30 * time.Second
	DefaultMaxCooldown  = 10 * time.Minute
)


// Entry describes one credential to pool.
type Entry struct {
	ID     string
	Secret string
	Weight int
}

// Pool selects credentials for provider calls. It is safe for concurrent
// use and never blocks: Acquire either returns a credential immediately or
// fails with ErrPoolExhausted.
type Pool struct {
	creds  []*Credential
	byID   map[string]*Credential
	cursor atomic.Uint64

	policy       string
	baseCooldown time.Duration
	maxCooldown  time.Duration
	now          func() time.Time
	quota        *ratelimit.Limiter
	metrics      *observability.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithPolicy selects config.PolicyRoundRobin or config.PolicyWeightedRandom.
func WithPolicy(policy string) Option {
	return func(p *Pool) { p.policy = policy }
}

// WithCooldown sets the rate-limit backoff bounds.
func WithCooldown(base, max time.Duration) Option {
	return func(p *Pool) {
		p.baseCooldown = base
		p.maxCooldown = max
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithQuota installs a client-side request budget per credential. A
// credential whose budget is spent is treated like one cooling down.
func WithQuota(l *ratelimit.Limiter) Option {
	return func(p *Pool) { p.quota = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// NewPool builds a pool over entries. IDs default to key-N and must be
// unique; secrets must be non-empty.
func NewPool(entries []Entry, opts ...Option) (*Pool, error) {
	p := &Pool{
		byID:         make(map[string]*Credential, len(entries)),
		policy:       config.PolicyRoundRobin,
		baseCooldown: DefaultBaseCooldown,
		maxCooldown:  DefaultMaxCooldown,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	switch p.policy {
	case config.PolicyRoundRobin, config.PolicyWeightedRandom:
	default:
		return nil, fmt.Errorf("unknown selection policy %q", p.policy)
	}
	if p.baseCooldown <= 0 || p.maxCooldown < p.baseCooldown {
		return nil, fmt.Errorf("invalid cooldown bounds %s..%s", p.baseCooldown, p.maxCooldown)
	}

	for i, e := range entries {
		if e.Secret == "" {
			return nil, fmt.Errorf("credential %d has an empty secret", i+1)
		}
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("key-%d", i+1)
		}
		if _, dup := p.byID[id]; dup {
			return nil, fmt.Errorf("duplicate credential id %q", id)
		}
		c := newCredential(id, e.Secret, e.Weight)
		p.creds = append(p.creds, c)
		p.byID[id] = c
	}
	return p, nil
}

// NewPoolFromConfig pools every key cfg knows about, including those
// discovered in the environment.
func NewPoolFromConfig(cfg *config.Config, opts ...Option) (*Pool, error) {
	keys := cfg.CredentialKeys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{ID: k.ID, Secret: k.Key, Weight: k.Weight})
	}
	base := []Option{
		WithPolicy(cfg.Credentials.Policy),
		WithCooldown(cfg.Credentials.BaseCooldown, cfg.Credentials.MaxCooldown),
	}
	return NewPool(entries, append(base, opts...)...)
}

// Len returns the number of pooled credentials.
func (p *Pool) Len() int { return len(p.creds) }

// Policy returns the selection policy in use.
func (p *Pool) Policy() string { return p.policy }

// Acquire returns a credential to use for one provider call.
//
// Healthy credentials with quota left are preferred, in policy order. When
// there are none, the credential that becomes available first is returned
// even though it is still cooling down; the provider will tell us if it is
// still limited. Only when every credential is exhausted does Acquire fail.
func (p *Pool) Acquire(ctx context.Context) (*Credential, error) {
	n := len(p.creds)
	if n == 0 {
		p.metrics.RecordPoolExhausted(ctx)
		return nil, ErrPoolExhausted
	}
	now := p.now()

	var (
		fallback   *Credential
		fallbackAt time.Time
	)
	consider := func(c *Credential, at time.Time) {
		if fallback == nil || at.Before(fallbackAt) {
			fallback, fallbackAt = c, at
		}
	}

	for _, c := range p.order(now) {
		c.mu.Lock()
		state := c.stateLocked(now)
		until := c.coolingDownUntil
		c.mu.Unlock()

		switch state {
		case StateExhausted:
			continue
		case StateCoolingDown:
			consider(c, until)
			continue
		}

		if resetAt, ok := p.spent(ctx, c); ok {
			consider(c, resetAt)
			continue
		}
		p.markUsed(c, now)
		return c, nil
	}

	if fallback == nil {
		p.metrics.RecordPoolExhausted(ctx)
		return nil, ErrPoolExhausted
	}
	slog.Debug("No healthy credential, using earliest available", "credential", fallback.id, "available_at", fallbackAt)
	p.markUsed(fallback, now)
	return fallback, nil
}

// spent consumes one quota slot for c. It reports true with the reset time
// when the budget is used up. Quota store errors count as available.
func (p *Pool) spent(ctx context.Context, c *Credential) (time.Time, bool) {
	if p.quota == nil {
		return time.Time{}, false
	}
	res, err := p.quota.Allow(ctx, c.id)
	if err != nil {
		slog.Warn("Credential quota check failed", "credential", c.id, "error", err)
		return time.Time{}, false
	}
	if !res.Allowed {
		return res.ResetAt, true
	}
	return time.Time{}, false
}

func (p *Pool) markUsed(c *Credential, now time.Time) {
	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()
}

// order returns the credentials in the order Acquire should try them.
func (p *Pool) order(now time.Time) []*Credential {
	if p.policy == config.PolicyWeightedRandom {
		return p.weightedOrder(now)
	}

	n := len(p.creds)
	out := make([]*Credential, 0, n)
	start := int((p.cursor.Add(1) - 1) % uint64(n))
	for i := 0; i < n; i++ {
		out = append(out, p.creds[(start+i)%n])
	}
	return out
}

// weightedOrder draws healthy credentials by weight without replacement,
// then appends the rest so they remain fallback candidates.
func (p *Pool) weightedOrder(now time.Time) []*Credential {
	var healthy, rest []*Credential
	total := 0
	for _, c := range p.creds {
		if c.State(now) == StateHealthy {
			healthy = append(healthy, c)
			total += c.weight
		} else {
			rest = append(rest, c)
		}
	}

	out := make([]*Credential, 0, len(p.creds))
	for len(healthy) > 0 {
		r := rand.IntN(total)
		for i, c := range healthy {
			if r < c.weight {
				out = append(out, c)
				total -= c.weight
				healthy = append(healthy[:i], healthy[i+1:]...)
				break
			}
			r -= c.weight
		}
	}
	return append(out, rest...)
}

// ReportOutcome updates c after a provider call.
func (p *Pool) ReportOutcome(c *Credential, outcome Outcome) {
	if c == nil {
		return
	}
	now := p.now()

	c.mu.Lock()
	switch outcome {
	case OutcomeSuccess:
		c.failures = 0
		c.coolingDownUntil = time.Time{}
		c.totalSuccesses++
	case OutcomeRateLimited:
		c.coolingDownUntil = now.Add(p.backoff(c.failures))
		c.failures++
		c.totalFailures++
	case OutcomeAuthFailure, OutcomeQuotaExhausted:
		c.exhausted = true
		c.failures++
		c.totalFailures++
	case OutcomeTransientFailure:
		c.failures++
		c.totalFailures++
	}
	until := c.coolingDownUntil
	c.mu.Unlock()

	p.metrics.RecordCredentialOutcome(context.Background(), c.id, outcome.String())
	switch outcome {
	case OutcomeRateLimited:
		slog.Warn("Credential rate limited", "credential", c.id, "cooling_down_until", until.Format(time.RFC3339))
	case OutcomeQuotaExhausted:
		slog.Error("Credential quota exhausted, removing from rotation", "credential", c.id)
	case OutcomeAuthFailure:
		slog.Error("Credential rejected by provider, removing from rotation", "credential", c.id)
	}
}

// backoff is min(base * 2^failures, max).
func (p *Pool) backoff(failures int) time.Duration {
	d := p.baseCooldown
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= p.maxCooldown {
			return p.maxCooldown
		}
	}
	if d > p.maxCooldown {
		return p.maxCooldown
	}
	return d
}

// Reset returns an exhausted or cooling credential to rotation.
func (p *Pool) Reset(id string) error {
	c, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCredential, id)
	}
	c.mu.Lock()
	c.exhausted = false
	c.failures = 0
	c.coolingDownUntil = time.Time{}
	c.mu.Unlock()

	if p.quota != nil {
		if err := p.quota.Reset(context.Background(), id); err != nil {
			slog.Warn("Failed to reset credential quota", "credential", id, "error", err)
		}
	}
	slog.Info("Credential reset", "credential", id)
	return nil
}

// Snapshot returns the status of every credential in pool order.
func (p *Pool) Snapshot() []Status {
	now := p.now()
	out := make([]Status, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, c.status(now))
	}
	return out
}

// Healthy counts credentials usable right now.
func (p *Pool) Healthy() int {
	now := p.now()
	n := 0
	for _, c := range p.creds {
		if c.State(now) == StateHealthy {
			n++
		}
	}
	return n
}
