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

// Package runtime assembles a querydesk process from configuration: the
// database pool, observability, the credential pool, capabilities, the
// conversation store, the decision engine and the orchestrator.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/embedder"
	"github.com/kadirpekel/querydesk/pkg/engine"
	"github.com/kadirpekel/querydesk/pkg/model"
	"github.com/kadirpekel/querydesk/pkg/model/gemini"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
	"github.com/kadirpekel/querydesk/pkg/ratelimit"
	"github.com/kadirpekel/querydesk/pkg/session"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/charttool"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/tool/sqltool"
	"github.com/kadirpekel/querydesk/pkg/vector"
)

// Options override collaborators that would otherwise be built from
// configuration.
type Options struct {
	Reasoner model.Reasoner
	Embedder embedder.Embedder
	Version  string
}

type Runtime struct {
	cfg *config.Config
	dbs *config.DBPool
	obs *observability.Manager

	quotaStore ratelimit.Store
	pool       *credential.Pool
	reasoner   model.Reasoner

	embedder embedder.Embedder
	vectors  vector.Provider
	sql      *sqltool.Toolset
	registry *tool.Registry

	store  session.Store
	engine *engine.Engine
	orch   *orchestrator.Orchestrator

	limiter      *ratelimit.Limiter
	limiterStore ratelimit.Store
}

// New builds every component cfg enables. On failure everything built so
// far is released.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{cfg: cfg, dbs: config.NewDBPool()}
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				slog.Warn("Cleanup after failed start", "error", cerr)
			}
		}
	}()

	if r.obs, err = observability.NewManager(ctx, cfg.Observability, opts.Version); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	if err = r.buildPool(ctx); err != nil {
		return nil, err
	}

	r.reasoner = opts.Reasoner
	if r.reasoner == nil {
		r.reasoner = gemini.FromConfig(&cfg.LLM)
	}

	caps, err := r.buildCapabilities(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.registry, err = tool.NewRegistry(caps,
		tool.WithTracer(r.obs.Tracer()),
		tool.WithMetrics(r.obs.Metrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("capabilities: %w", err)
	}

	if r.store, err = session.New(ctx, cfg, r.dbs); err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	r.engine, err = engine.New(engine.ConfigFrom(cfg), r.reasoner, r.pool, r.registry,
		engine.WithTracer(r.obs.Tracer()),
		engine.WithMetrics(r.obs.Metrics()),
	)
	if err != nil {
		return nil, err
	}

	r.orch, err = orchestrator.New(orchestrator.Config{
		ContextWindow: cfg.Engine.ContextWindow,
		MaxIterations: cfg.Engine.MaxIterations,
		TurnTimeout:   cfg.Engine.TurnTimeout,
		StoreBackend:  cfg.Conversations.Backend,
	}, r.engine, r.registry, r.store, r.pool, orchestrator.WithTracer(r.obs.Tracer()))
	if err != nil {
		return nil, err
	}

	if r.limiter, r.limiterStore, err = ratelimit.NewFromConfig(ctx, cfg, r.dbs); err != nil {
		return nil, err
	}

	slog.Info("Runtime ready",
		"credentials", r.pool.Len(),
		"policy", r.pool.Policy(),
		"capabilities", r.registry.Names(),
		"conversations", cfg.Conversations.Backend,
	)
	return r, nil
}

// buildPool creates the credential pool. A per-credential quota guard is
// attached when requests_per_minute is set; its counters live in the
// rate_limit backend so replicas sharing a store share the quota.
func (r *Runtime) buildPool(ctx context.Context) error {
	cc := r.cfg.Credentials
	opts := []credential.Option{credential.WithMetrics(r.obs.Metrics())}

	if cc.RequestsPerMinute > 0 {
		rl := r.cfg.RateLimit
		store, err := ratelimit.NewStore(ctx, rl.Backend, rl.RedisURL, rl.Database, r.cfg, r.dbs)
		if err != nil {
			return fmt.Errorf("credential quota store: %w", err)
		}
		r.quotaStore = store
		opts = append(opts, credential.WithQuota(
			ratelimit.NewLimiter(store, cc.RequestsPerMinute, time.Minute, ratelimit.WithScope("credential")),
		))
	}

	pool, err := credential.NewPoolFromConfig(r.cfg, opts...)
	if err != nil {
		return fmt.Errorf("credential pool: %w", err)
	}
	r.pool = pool
	return nil
}

func (r *Runtime) buildCapabilities(ctx context.Context, opts Options) ([]tool.Capability, error) {
	cfg := r.cfg
	var caps []tool.Capability

	if cfg.Capabilities.SQL.IsEnabled() {
		dbCfg, err := cfg.Database(cfg.Capabilities.SQL.Database)
		if err != nil {
			return nil, fmt.Errorf("sql capability: %w", err)
		}
		sqlModel := cfg.LLM.SQLModel
		if sqlModel == "" {
			sqlModel = cfg.LLM.Model
		}
		translator := &sqltool.ReasonerTranslator{
			Reasoner:    r.reasoner,
			Pool:        r.pool,
			Model:       sqlModel,
			MaxAttempts: cfg.Engine.MaxProviderAttempts,
		}
		if r.sql, err = sqltool.FromConfig(ctx, &cfg.Capabilities.SQL, dbCfg, r.dbs, translator); err != nil {
			return nil, err
		}
		sqlCaps, err := r.sql.Capabilities()
		if err != nil {
			return nil, err
		}
		caps = append(caps, sqlCaps...)
	}

	if cfg.Capabilities.Retrieval.IsEnabled() {
		if err := r.openRetrieval(opts.Embedder); err != nil {
			return nil, err
		}
		rc := cfg.Capabilities.Retrieval
		searcher, err := retrievaltool.New(retrievaltool.Config{
			Embedder:       r.embedder,
			Store:          r.vectors,
			Collection:     rc.Collection,
			DefaultResults: rc.DefaultResults,
			Timeout:        rc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		c, err := searcher.Capability()
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}

	if cfg.Capabilities.Chart.IsEnabled() {
		chartCaps, err := charttool.New(charttool.FromConfig(&cfg.Capabilities.Chart)).Capabilities()
		if err != nil {
			return nil, err
		}
		caps = append(caps, chartCaps...)
	}

	if len(caps) == 0 {
		return nil, fmt.Errorf("no capabilities enabled")
	}
	return caps, nil
}

// openRetrieval opens the embedder and vector store once.
func (r *Runtime) openRetrieval(emb embedder.Embedder) error {
	if r.embedder == nil {
		if emb == nil {
			var err error
			if emb, err = embedder.FromConfig(&r.cfg.Embedder, r.pool); err != nil {
				return fmt.Errorf("embedder: %w", err)
			}
		}
		r.embedder = emb
	}
	if r.vectors == nil {
		vs, err := vector.NewProvider(&r.cfg.VectorStore)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		r.vectors = vs
	}
	return nil
}

func (r *Runtime) Config() *config.Config { return r.cfg }
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator { return r.orch }
func (r *Runtime) Registry() *tool.Registry { return r.registry }
func (r *Runtime) Pool() *credential.Pool { return r.pool }
func (r *Runtime) Databases() *config.DBPool { return r.dbs }
func (r *Runtime) Tracer() *observability.Tracer { return r.obs.Tracer() }
func (r *Runtime) Metrics() *observability.Metrics { return r.obs.Metrics() }
func (r *Runtime) SQL() *sqltool.Toolset { return r.sql }
func (r *Runtime) RequestLimiter() *ratelimit.Limiter { return r.limiter }

// Retrieval returns the embedder and vector store, opening them when the
// retrieval capability is disabled but ingestion still needs them.
func (r *Runtime) Retrieval() (embedder.Embedder, vector.Provider, error) {
	if err := r.openRetrieval(nil); err != nil {
		return nil, nil, err
	}
	return r.embedder, r.vectors, nil
}

// Reload applies a changed configuration. Credentials present in both
// configurations are reset to Available and the schema cache is dropped;
// structural changes need a restart.
func (r *Runtime) Reload(next *config.Config) {
	for _, k := range next.CredentialKeys() {
		if err := r.pool.Reset(k.ID); err == nil {
			slog.Debug("Credential reset on reload", "credential", k.ID)
		}
	}
	if r.sql != nil {
		r.sql.Introspector().Invalidate()
	}
	slog.Info("Configuration reloaded", "credentials", len(next.CredentialKeys()))
}

// Close releases every component in reverse construction order.
func (r *Runtime) Close() error {
	var errs []error
	closeIf := func(what string, fn func() error) {
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if r.limiterStore != nil {
		closeIf("rate limit store", r.limiterStore.Close)
	}
	if r.store != nil {
		closeIf("conversation store", r.store.Close)
	}
	if r.vectors != nil {
		closeIf("vector store", r.vectors.Close)
	}
	if r.embedder != nil {
		closeIf("embedder", r.embedder.Close)
	}
	if r.quotaStore != nil {
		closeIf("credential quota store", r.quotaStore.Close)
	}
	closeIf("databases", r.dbs.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	closeIf("observability", func() error { return r.obs.Shutdown(ctx) })

	return errors.Join(errs...)
}
