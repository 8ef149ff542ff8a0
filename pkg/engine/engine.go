// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine runs the reasoning loop of a single turn.
//
// A turn alternates between Reasoning, where the model is asked for the
// next decision, and Acting, where the chosen capability is dispatched and
// its observation folded back. The loop ends in Finished when the model
// answers or the iteration cap is reached (the turn is then truncated), or
// in Aborted on reasoning, provider or deadline failures. The action trace
// is kept in every case.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/model"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/utils"
)

const (
	DefaultMaxIterations = 5
	DefaultTurnTimeout   = 120 * time.Second
)

// Dispatcher is the capability side of the loop. *tool.Registry
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any, iteration int) agent.Action
	Definitions() []model.ToolDefinition
}

// Config bounds one turn.
type Config struct {
	Model       string
	Instruction string
	Temperature *float64
	MaxTokens   int

	// CallTimeout bounds a single reasoning call. Zero means no bound
	// beyond the turn deadline.
	CallTimeout time.Duration

	MaxIterations       int
	TurnTimeout         time.Duration
	MaxProviderAttempts int

	// MaxContextTokens drops the oldest prior turns until the prompt fits.
	// Zero disables the budget.
	MaxContextTokens int
}

// ConfigFrom maps the llm and engine sections.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Model:               cfg.LLM.Model,
		Instruction:         cfg.Engine.Instruction,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		CallTimeout:         cfg.LLM.Timeout,
		MaxIterations:       cfg.Engine.MaxIterations,
		TurnTimeout:         cfg.Engine.TurnTimeout,
		MaxProviderAttempts: cfg.Engine.MaxProviderAttempts,
		MaxContextTokens:    cfg.Engine.MaxContextTokens,
	}
}

func (c *Config) setDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.Instruction == "" {
		c.Instruction = DefaultInstruction
	}
}

// Engine is safe for concurrent use; each Run owns its own state.
type Engine struct {
	cfg      Config
	reasoner model.Reasoner
	pool     *credential.Pool
	tools    Dispatcher
	tokens   *utils.TokenCounter
	tracer   *observability.Tracer
	metrics  *observability.Metrics
}

type Option func(*Engine)

func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTokenCounter sets the counter used by the context budget.
func WithTokenCounter(tc *utils.TokenCounter) Option {
	return func(e *Engine) { e.tokens = tc }
}

func New(cfg Config, reasoner model.Reasoner, pool *credential.Pool, tools Dispatcher, opts ...Option) (*Engine, error) {
	if reasoner == nil {
		return nil, errors.New("engine: reasoner is required")
	}
	if pool == nil {
		return nil, errors.New("engine: credential pool is required")
	}
	if tools == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	cfg.setDefaults()

	e := &Engine{cfg: cfg, reasoner: reasoner, pool: pool, tools: tools}
	for _, opt := range opts {
		opt(e)
	}
	if e.tokens == nil && cfg.MaxContextTokens > 0 {
		e.tokens = utils.NewTokenCounter()
	}
	return e, nil
}

// Input is one user query with the prior turns selected for context.
type Input struct {
	Query   string
	History []agent.Turn
}

// run is the mutable state of one turn.
type run struct {
	turn      agent.Turn
	messages  []model.Message
	tools     []model.ToolDefinition
	reasoning int
}

// Run executes one turn. The returned turn is always complete and ready to
// append, including when the turn aborted; in that case the error carries
// the same kind as turn.ErrorKind.
func (e *Engine) Run(ctx context.Context, in Input) (agent.Turn, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, observability.SpanTurn)
	defer span.End()

	r := &run{
		turn: agent.Turn{
			ID:        uuid.NewString(),
			Role:      agent.RoleUser,
			UserText:  in.Query,
			Actions:   []agent.Action{},
			CreatedAt: start,
		},
		tools: e.tools.Definitions(),
	}
	r.messages = append(e.fitHistory(in.History, in.Query), model.UserText(in.Query))

	err := e.loop(ctx, r)
	if err != nil {
		r.turn.Status = agent.TurnAborted
		r.turn.ErrorKind = agent.KindOf(err)
		if r.turn.Answer == "" {
			r.turn.Answer = fmt.Sprintf("I could not complete the request: %v", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(r.turn.ErrorKind))
		slog.Warn("Turn aborted", "turn", r.turn.ID, "kind", r.turn.ErrorKind, "actions", len(r.turn.Actions), "error", err)
	}
	r.turn.Payload = collectPayload(r.turn.Actions)

	span.SetAttributes(
		attribute.String(observability.AttrTurnID, r.turn.ID),
		attribute.String(observability.AttrStatus, string(r.turn.Status)),
		attribute.Int(observability.AttrIteration, len(r.turn.Actions)),
	)
	e.metrics.RecordTurn(ctx, string(r.turn.Status), string(r.turn.ErrorKind), time.Since(start))
	slog.Debug("Turn completed", "turn", r.turn.ID, "status", r.turn.Status, "actions", len(r.turn.Actions),
		"reasoning_calls", r.reasoning, "duration", time.Since(start))
	return r.turn, err
}

func (e *Engine) loop(ctx context.Context, r *run) error {
	for iteration := 1; ; iteration++ {
		if iteration > e.cfg.MaxIterations {
			r.turn.Status = agent.TurnTruncated
			r.turn.Answer = summarizeActions(r.turn.Actions, e.cfg.MaxIterations)
			slog.Info("Iteration cap reached", "turn", r.turn.ID, "cap", e.cfg.MaxIterations)
			return nil
		}

		decision, resp, err := e.decide(ctx, r)
		if err != nil {
			return err
		}

		if decision.Type == agent.DecisionFinish {
			r.turn.Status = agent.TurnFinished
			r.turn.Answer = decision.Answer
			if r.turn.Answer == "" {
				if last, ok := lastSuccessful(r.turn.Actions); ok && last.ToolName == retrievaltool.ToolName {
					r.turn.Answer = documentAnswer(last)
				}
			}
			return nil
		}

		args := injectChartData(decision.ToolName, decision.Arguments, r.turn.Actions)
		action := e.tools.Dispatch(ctx, decision.ToolName, args, iteration)
		r.turn.Actions = append(r.turn.Actions, action)
		e.fold(r, decision, resp, action)

		if err := ctx.Err(); err != nil {
			return deadlineError(err)
		}
	}
}

// decide asks for the next decision, retrying once with a corrective hint
// when the reply cannot be parsed.
func (e *Engine) decide(ctx context.Context, r *run) (agent.Decision, *model.Response, error) {
	resp, err := e.reason(ctx, r, r.messages)
	if err != nil {
		return agent.Decision{}, nil, err
	}
	d, perr := ParseDecision(resp)
	if perr == nil {
		return d, resp, nil
	}

	slog.Warn("Unparseable reasoning output, retrying with a hint", "turn", r.turn.ID, "error", perr)
	retry := slices.Clone(r.messages)
	if text := resp.TrimmedText(); text != "" {
		retry = append(retry, model.ModelText(text))
	}
	retry = append(retry, model.UserText(correctiveHint))

	resp, err = e.reason(ctx, r, retry)
	if err != nil {
		return agent.Decision{}, nil, err
	}
	d, perr = ParseDecision(resp)
	if perr != nil {
		return agent.Decision{}, nil, agent.WrapError(agent.KindReasoningUnparseable, perr, "reasoning output could not be parsed after a corrective retry")
	}
	return d, resp, nil
}

// reason performs one reasoning step, failing over between credentials.
func (e *Engine) reason(ctx context.Context, r *run, msgs []model.Message) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, deadlineError(err)
	}
	r.reasoning++

	modelName := e.cfg.Model
	if modelName == "" {
		modelName = e.reasoner.Name()
	}
	req := &model.Request{
		Model:             e.cfg.Model,
		SystemInstruction: e.cfg.Instruction,
		Messages:          msgs,
		Tools:             r.tools,
		Temperature:       e.cfg.Temperature,
		MaxTokens:         e.cfg.MaxTokens,
	}

	ctx, span := e.tracer.Start(ctx, observability.SpanReasoning,
		trace.WithAttributes(attribute.String(observability.AttrModel, modelName)))
	defer span.End()

	var resp *model.Response
	err := e.pool.Do(ctx, e.cfg.MaxProviderAttempts, model.Classify, func(ctx context.Context, cred *credential.Credential) error {
		callCtx := ctx
		if e.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
		}

		start := time.Now()
		out, err := e.reasoner.Reason(callCtx, cred.Secret(), req)
		if err == nil && out == nil {
			err = model.ErrEmptyResponse
		}
		var usage model.Usage
		if out != nil {
			usage = out.Usage
		}
		e.metrics.RecordReasoning(ctx, modelName, model.Classify(err).String(), time.Since(start),
			usage.PromptTokens, usage.CompletionTokens)
		span.SetAttributes(attribute.String(observability.AttrCredential, cred.ID()))
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, providerError(ctx, err)
	}
	span.SetAttributes(
		attribute.Int(observability.AttrInputTokens, resp.Usage.PromptTokens),
		attribute.Int(observability.AttrOutputTokens, resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// fold appends the decision and its observation to the running context.
func (e *Engine) fold(r *run, d agent.Decision, resp *model.Response, a agent.Action) {
	if d.CallID != "" {
		r.messages = append(r.messages,
			model.Message{Role: model.RoleModel, Call: &model.FunctionCall{ID: d.CallID, Name: d.ToolName, Args: d.Arguments}},
			model.Message{Role: model.RoleUser, Result: &model.FunctionResult{ID: d.CallID, Name: d.ToolName, Response: observe(a)}},
		)
		return
	}
	r.messages = append(r.messages,
		model.ModelText(resp.TrimmedText()),
		model.UserText(observationText(a)),
	)
}

// fitHistory renders prior turns, dropping the oldest ones until the
// context fits MaxContextTokens.
func (e *Engine) fitHistory(history []agent.Turn, query string) []model.Message {
	if e.cfg.MaxContextTokens <= 0 || len(history) == 0 {
		return historyMessages(history)
	}
	rendered := make([]string, len(history))
	for i, t := range history {
		rendered[i] = t.UserText + "\n" + renderAnswer(t)
	}
	reserved := e.tokens.Count(e.cfg.Instruction) + e.tokens.Count(query)
	keep := e.tokens.FitNewest(rendered, reserved, e.cfg.MaxContextTokens)
	if dropped := len(history) - keep; dropped > 0 {
		slog.Debug("Dropped prior turns to fit the token budget", "dropped", dropped, "budget", e.cfg.MaxContextTokens)
	}
	return historyMessages(history[len(history)-keep:])
}

func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return agent.WrapError(agent.KindTimeout, err, "turn deadline exceeded")
	}
	return agent.WrapError(agent.KindTimeout, err, "turn cancelled")
}

func providerError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return deadlineError(ctxErr)
	}
	if errors.Is(err, credential.ErrPoolExhausted) {
		return agent.WrapError(agent.KindProviderUnavailable, err, "no usable credential")
	}
	return agent.WrapError(agent.KindProviderUnavailable, err, "reasoning service unavailable")
}
