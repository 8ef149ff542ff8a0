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

// Package testutils provides fakes and fixtures shared by package tests.
package testutils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/model"
)

// TestConfig returns a validated config with two static credentials, no
// environment discovery and a SQLite database in a temporary directory.
func TestConfig(t testing.TB) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Credentials: config.CredentialsConfig{
			FromEnv: config.BoolPtr(false),
			Keys: []config.CredentialEntry{
				{ID: "key-a", Key: "test-key-aaaaaaaaaaaa", Weight: 1},
				{ID: "key-b", Key: "test-key-bbbbbbbbbbbb", Weight: 1},
			},
		},
		VectorStore: config.VectorStoreConfig{PersistPath: filepath.Join(t.TempDir(), "vectors")},
		Databases: map[string]*config.DatabaseConfig{
			config.DefaultDatabase: {
				Driver:   config.DialectSQLite,
				Database: filepath.Join(t.TempDir(), "test.sqlite"),
			},
		},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config is invalid: %v", err)
	}
	return cfg
}

// TestContext returns a context cancelled after timeout or at test end.
func TestContext(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestPool builds a round-robin pool with n credentials key-1..key-n.
func NewTestPool(t testing.TB, n int, opts ...credential.Option) *credential.Pool {
	t.Helper()
	entries := make([]credential.Entry, n)
	for i := range entries {
		entries[i] = credential.Entry{
			ID:     fmt.Sprintf("key-%d", i+1),
			Secret: fmt.Sprintf("secret-%d-xxxxxxxxxxxx", i+1),
		}
	}
	pool, err := credential.NewPool(entries, opts...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool
}

// TravelDB opens the shared config.DBPool handle for cfg and seeds a small
// flights table.
func TravelDB(t testing.TB, cfg *config.Config) *sql.DB {
	t.Helper()
	dbCfg, err := cfg.Database(config.DefaultDatabase)
	if err != nil {
		t.Fatalf("database config: %v", err)
	}
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	db, err := pool.Get(context.Background(), dbCfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	stmts := []string{
		`CREATE TABLE flights (
			flight_id INTEGER PRIMARY KEY,
			airline TEXT NOT NULL,
			departure_city TEXT NOT NULL,
			arrival_city TEXT NOT NULL,
			price REAL,
			created_at TEXT
		)`,
		`INSERT INTO flights VALUES
			(1, 'VN Air', 'Hanoi', 'Saigon', 120.5, '2024-01-01'),
			(2, 'VN Air', 'Saigon', 'Danang', 80.0, '2024-01-02'),
			(3, 'Bamboo', 'Hanoi', 'Danang', 95.0, '2024-01-03'),
			(4, 'Vietjet', 'Danang', 'Hanoi', 60.0, '2024-01-04')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed travel db: %v", err)
		}
	}
	return db
}

// Step is one scripted reasoning response.
type Step struct {
	Response *model.Response
	Err      error
}

// Text is a step answering with plain text.
func Text(text string) Step {
	return Step{Response: &model.Response{Text: text, FinishReason: model.FinishReasonStop}}
}

// Call is a step requesting a function call.
func Call(name string, args map[string]any) Step {
	return Step{Response: &model.Response{
		Calls:        []model.FunctionCall{{ID: "call-" + name, Name: name, Args: args}},
		FinishReason: model.FinishReasonStop,
	}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ErrScriptExhausted is returned once every scripted step was consumed.
var ErrScriptExhausted = errors.New("mock reasoner: no scripted response left")

// MockReasoner is a model.Reasoner that replays scripted steps in order,
// or delegates to ReasonFunc when set.
type MockReasoner struct {
	ReasonFunc func(ctx context.Context, apiKey string, req *model.Request) (*model.Response, error)
	Delay      time.Duration

	mu       sync.Mutex
	steps    []Step
	requests []model.Request
	keys     []string
}

func NewMockReasoner(steps ...Step) *MockReasoner {
	return &MockReasoner{steps: steps}
}

func (m *MockReasoner) Name() string { return "mock" }

func (m *MockReasoner) Reason(ctx context.Context, apiKey string, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]model.Message(nil), req.Messages...)
	m.requests = append(m.requests, snapshot)
	m.keys = append(m.keys, apiKey)
	fn := m.ReasonFunc
	var step *Step
	if fn == nil && len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		step = &s
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, apiKey, req)
	}
	if step == nil {
		return nil, ErrScriptExhausted
	}
	return step.Response, step.Err
}

// Calls is the number of Reason invocations so far.
func (m *MockReasoner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns copies of every request received.
func (m *MockReasoner) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

// Keys returns the API key used for each call.
func (m *MockReasoner) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// Remaining is the number of unconsumed steps.
func (m *MockReasoner) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// MockEmbedder hashes words into a fixed number of buckets, so texts that
// share words are close under cosine similarity.
type MockEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
		v[int(h.Sum32()%uint32(m.Dim))]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (m *MockEmbedder) Dimension() int { return m.Dim }
func (m *MockEmbedder) Model() string  { return "mock-embedding" }
func (m *MockEmbedder) Close() error   { return nil }

// Calls is the number of batch calls so far.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
