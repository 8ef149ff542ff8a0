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

// Package server exposes the orchestrator over HTTP: a JSON API, an A2A
// JSON-RPC endpoint with its agent card, health and metrics.
//
// Routes:
//
//	POST /api/agents/query
//	GET  /api/agents/capabilities
//	GET  /api/agents/status
//	GET  /api/agents/conversations/{conversationID}
//	GET  /api/debug/turns/{turnID}/spans   (memory trace exporter only)
//	GET  /api/schema
//	GET  /health
//	GET  /metrics                          (when enabled)
//	POST /a2a                              (A2A JSON-RPC)
//	GET  /.well-known/agent-card.json
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/auth"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
	"github.com/kadirpekel/querydesk/pkg/ratelimit"
	"github.com/kadirpekel/querydesk/pkg/tool"
)

// Service is what the server exposes. *orchestrator.Orchestrator
// implements it.
type Service interface {
	Query(ctx context.Context, req orchestrator.QueryRequest) (*orchestrator.Result, error)
	Capabilities() []tool.Descriptor
	History(ctx context.Context, userID, conversationID string) ([]agent.Turn, error)
	Status(ctx context.Context) (*orchestrator.Status, error)
}

type Server struct {
	cfg     *config.Config
	svc     Service
	version string

	validator auth.TokenValidator
	limiter   *ratelimit.Limiter
	tracer    *observability.Tracer
	metrics   *observability.Metrics

	http *http.Server
}

type Option func(*Server)

func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithRateLimiter limits API requests per caller.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithObservability(t *observability.Tracer, m *observability.Metrics) Option {
	return func(s *Server) {
		s.tracer = t
		s.metrics = m
	}
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func New(cfg *config.Config, svc Service, opts ...Option) *Server {
	s := &Server{cfg: cfg, svc: svc, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with the full middleware chain:
// recovery, logging, CORS, tracing and metrics, authentication, then rate
// limiting.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))

	public := []string{"/health", s.cfg.Observability.Metrics.Endpoint, agentCardPath}
	if s.validator != nil {
		excluded := slices.Concat(public, s.cfg.Auth.ExcludedPaths)
		r.Use(auth.Middleware(auth.MiddlewareConfig{
			Validator:     s.validator,
			ExcludedPaths: excluded,
			Optional:      !s.cfg.Auth.IsRequired(),
		}))
		slog.Info("Authentication enabled", "excluded_paths", excluded)
	}
	r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:        s.limiter,
		IdentifierFunc: callerIdentifier,
		ExcludedPaths:  public,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)
	r.Route("/api/agents", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/status", s.handleStatus)
		r.Get("/conversations/{conversationID}", s.handleHistory)
	})
	if rec := s.tracer.Recorder(); rec != nil {
		r.Get("/api/debug/turns/{turnID}/spans", s.handleTurnSpans(rec))
	}
	if s.metrics != nil {
		r.Handle(s.cfg.Observability.Metrics.Endpoint, s.metrics.Handler())
	}
	if s.cfg.Server.A2AEnabled() {
		s.mountA2A(r)
	}
	return r
}

// callerIdentifier counts authenticated callers by subject and anonymous
// ones by address.
func callerIdentifier(r *http.Request) string {
	if c := auth.ClaimsFromContext(r.Context()); c != nil && c.Subject != "" {
		return "user:" + c.Subject
	}
	return "addr:" + r.RemoteAddr
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	sc := s.cfg.Server
	s.http = &http.Server{
		Addr:         sc.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  2 * sc.ReadTimeout,
	}

	slog.Info("HTTP server starting", "address", sc.Address(), "a2a", sc.A2AEnabled())
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests for up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
