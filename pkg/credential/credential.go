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

// Package credential pools interchangeable provider API keys.
//
// A Pool hands out credentials round-robin (or by weight), steers around
// keys that are cooling down after a rate limit, and never returns a key
// that failed authentication. Every credential carries its own lock; the
// pool itself holds none while selecting.
package credential

import (
	"sync"
	"time"
)

// State is the health of a credential at a point in time.
type State int

const (
	StateHealthy State = iota
	StateCoolingDown
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateCoolingDown:
		return "cooling_down"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is what happened when a credential was used.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeAuthFailure
	// OutcomeTransientFailure covers network errors and 5xx responses.
	OutcomeTransientFailure
	// OutcomeQuotaExhausted is a spent daily or billing quota.
	OutcomeQuotaExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	default:
		return "unknown"
	}
}

// Credential is one API key and its bookkeeping.
type Credential struct {
	id     string
	secret string
	weight int

	mu               sync.Mutex
	exhausted        bool
	coolingDownUntil time.Time
	lastUsed         time.Time
	failures         int
	totalSuccesses   int64
	totalFailures    int64
}

func newCredential(id, secret string, weight int) *Credential {
	if weight < 1 {
		weight = 1
	}
	return &Credential{id: id, secret: secret, weight: weight}
}

func (c *Credential) ID() string { return c.id }

// Secret is the raw key to send to the provider.
func (c *Credential) Secret() string { return c.secret }

func (c *Credential) Weight() int { return c.weight }

// stateLocked requires c.mu.
func (c *Credential) stateLocked(now time.Time) State {
	switch {
	case c.exhausted:
		return StateExhausted
	case now.Before(c.coolingDownUntil):
		return StateCoolingDown
	default:
		return StateHealthy
	}
}

// State reports the credential's state at now.
func (c *Credential) State(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(now)
}

// Status is a read-only view of a credential with the secret masked.
type Status struct {
	ID                  string     `json:"id"`
	Key                 string     `json:"key"`
	State               State      `json:"state"`
	Weight              int        `json:"weight"`
	CoolingDownUntil    *time.Time `json:"cooling_down_until,omitempty"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalSuccesses      int64      `json:"total_successes"`
	TotalFailures       int64      `json:"total_failures"`
}

func (c *Credential) status(now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		ID:                  c.id,
		Key:                 MaskSecret(c.secret),
		State:               c.stateLocked(now),
		Weight:              c.weight,
		ConsecutiveFailures: c.failures,
		TotalSuccesses:      c.totalSuccesses,
		TotalFailures:       c.totalFailures,
	}
	if st.State == StateCoolingDown {
		until := c.coolingDownUntil
		st.CoolingDownUntil = &until
	}
	if !c.lastUsed.IsZero() {
		used := c.lastUsed
		st.LastUsed = &used
	}
	return st
}

// MaskSecret keeps only the edges of a key.
func MaskSecret(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
