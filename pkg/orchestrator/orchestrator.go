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

// Package orchestrator is the single entry point for answering questions.
//
// It resolves the conversation, seeds the engine with recent turns, runs
// one turn and records it, whatever its outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/engine"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/session"
	"github.com/kadirpekel/querydesk/pkg/tool"
)

// DefaultUserID is used when a request names no user.
const DefaultUserID = "default"

// appendTimeout bounds recording a turn after its own deadline passed.
const appendTimeout = 5 * time.Second

// Runner runs one turn. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, in engine.Input) (agent.Turn, error)
}

// Catalog lists capabilities. *tool.Registry implements it.
type Catalog interface {
	Catalog() []tool.Descriptor
}

// Config holds the limits reported by Status and the context window.
type Config struct {
	ContextWindow int
	MaxIterations int
	TurnTimeout   time.Duration
	StoreBackend  string
}

type QueryRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserText       string `json:"query"`
	UserID         string `json:"user_id,omitempty"`
}

// Result is the outcome of one query. Aborted turns have Success false and
// still carry the action trace.
type Result struct {
	Success        bool             `json:"success"`
	FinalAnswer    string           `json:"final_answer"`
	ActionsTaken   []agent.Action   `json:"actions_taken"`
	ConversationID string           `json:"conversation_id"`
	UserID         string           `json:"user_id"`
	TurnID         string           `json:"turn_id"`
	Truncated      bool             `json:"truncated"`
	Data           []map[string]any `json:"data,omitempty"`
	Chart          *agent.Chart     `json:"chart,omitempty"`
	ErrorKind      agent.ErrorKind  `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
	// Recorded is false when the turn could not be stored; the answer and
	// trace are still returned.
	Recorded bool `json:"recorded"`
}

type Orchestrator struct {
	cfg    Config
	runner Runner
	tools  Catalog
	store  session.Store
	pool   *credential.Pool
	tracer *observability.Tracer
}

type Option func(*Orchestrator)

func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(cfg Config, runner Runner, tools Catalog, store session.Store, pool *credential.Pool, opts ...Option) (*Orchestrator, error) {
	if runner == nil || tools == nil || store == nil || pool == nil {
		return nil, fmt.Errorf("orchestrator: runner, catalog, store and pool are required")
	}
	if cfg.ContextWindow < 0 {
		cfg.ContextWindow = 0
	}
	o := &Orchestrator{cfg: cfg, runner: runner, tools: tools, store: store, pool: pool}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Query answers one user question within a conversation. An empty
// conversation id starts a new conversation.
//
// A non-nil Result is returned for every turn that ran; when the turn
// aborted, the error is an *agent.Error carrying the same kind. A store
// failure keeps the Result, with Recorded false and the store error joined
// to the returned error.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*Result, error) {
	text := strings.TrimSpace(req.UserText)
	if text == "" {
		return nil, agent.NewError(agent.KindInvalidArguments, "query text is required")
	}
	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	key := agent.ConversationKey(userID, conversationID)

	ctx, span := o.tracer.Start(ctx, observability.SpanQuery, trace.WithAttributes(
		attribute.String(observability.AttrUserID, userID),
		attribute.String(observability.AttrConversationID, conversationID),
	))
	defer span.End()

	history, err := o.store.ContextFor(ctx, key, o.cfg.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	turn, runErr := o.runner.Run(ctx, engine.Input{Query: text, History: history})

	// The turn is recorded even when its deadline or the caller's context
	// has already expired.
	result := newResult(turn, conversationID, userID)
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := o.store.Append(appendCtx, key, turn); err != nil {
		slog.Error("Failed to record turn", "conversation", conversationID, "user", userID, "turn", turn.ID, "error", err)
		return result, errors.Join(runErr, fmt.Errorf("record turn: %w", err))
	}
	result.Recorded = true

	slog.Info("Query answered", "conversation", conversationID, "user", userID, "status", turn.Status,
		"actions", len(turn.Actions), "error_kind", turn.ErrorKind)
	return result, runErr
}

func newResult(turn agent.Turn, conversationID, userID string) *Result {
	r := &Result{
		Success:        turn.Status != agent.TurnAborted,
		FinalAnswer:    turn.Answer,
		ActionsTaken:   turn.Actions,
		ConversationID: conversationID,
		UserID:         userID,
		TurnID:         turn.ID,
		Truncated:      turn.Truncated(),
		ErrorKind:      turn.ErrorKind,
	}
	if r.ActionsTaken == nil {
		r.ActionsTaken = []agent.Action{}
	}
	if !r.Success {
		r.Error = turn.Answer
	}
	if turn.Payload != nil {
		r.Data = turn.Payload.Data
		r.Chart = turn.Payload.Chart
	}
	return r
}

// Capabilities returns the capability catalog.
func (o *Orchestrator) Capabilities() []tool.Descriptor {
	return o.tools.Catalog()
}

// History returns the retained turns of a conversation.
func (o *Orchestrator) History(ctx context.Context, userID, conversationID string) ([]agent.Turn, error) {
	if conversationID == "" {
		return nil, agent.NewError(agent.KindInvalidArguments, "conversation id is required")
	}
	if userID == "" {
		userID = DefaultUserID
	}
	return o.store.History(ctx, agent.ConversationKey(userID, conversationID))
}

// EngineStatus reports the engine limits.
type EngineStatus struct {
	MaxIterations int    `json:"max_iterations"`
	ContextWindow int    `json:"context_window"`
	TurnTimeout   string `json:"turn_timeout"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Credentials        []credential.Status `json:"credentials"`
	HealthyCredentials int                 `json:"healthy_credentials"`
	Conversations      int                 `json:"conversations"`
	Capabilities       []string            `json:"capabilities"`
	Engine             EngineStatus        `json:"engine"`
	Store              string              `json:"store"`
}

func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	n, err := o.store.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	catalog := o.tools.Catalog()
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return &Status{
		Credentials:        o.pool.Snapshot(),
		HealthyCredentials: o.pool.Healthy(),
		Conversations:      n,
		Capabilities:       names,
		Engine: EngineStatus{
			MaxIterations: o.cfg.MaxIterations,
			ContextWindow: o.cfg.ContextWindow,
			TurnTimeout:   o.cfg.TurnTimeout.String(),
		},
		Store: o.cfg.StoreBackend,
	}, nil
}
