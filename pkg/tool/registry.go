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

package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/model"
	"github.com/kadirpekel/querydesk/pkg/observability"
)

// DefaultTimeout bounds capabilities that do not declare their own.
const DefaultTimeout = 30 * time.Second

var (
	ErrEmptyName = errors.New("capability name is empty")
	ErrDuplicate = errors.New("capability already registered")
	ErrFrozen    = errors.New("registry is frozen")
)

// Registry is the closed catalog of capabilities. Registration happens at
// construction; after Freeze the registry is read-only and safe for
// concurrent dispatch.
type Registry struct {
	mu         sync.RWMutex
	caps       map[string]Capability
	validators map[string]*Validator
	frozen     bool

	defaultTimeout time.Duration
	tracer         *observability.Tracer
	metrics        *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the timeout for capabilities that return zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

func WithTracer(t *observability.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry holding caps. It is frozen when caps is
// non-empty.
func NewRegistry(caps []Capability, opts ...Option) (*Registry, error) {
	r := &Registry{
		caps:           make(map[string]Capability, len(caps)),
		validators:     make(map[string]*Validator, len(caps)),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	if len(caps) > 0 {
		r.Freeze()
	}
	return r, nil
}

// Register adds c to the catalog. Its argument schema is compiled once
// here; an invalid schema is rejected.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("register: nil capability")
	}
	name := c.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicate)
	}
	v, err := c.Schema().Compile()
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	r.caps[name] = c
	r.validators[name] = v
	return nil
}

// Freeze closes the catalog.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Catalog returns every descriptor sorted by name.
func (r *Registry) Catalog() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if c, ok := r.Lookup(name); ok {
			out = append(out, Describe(c))
		}
	}
	return out
}

// Definitions returns the catalog in the form sent to the reasoning
// service.
func (r *Registry) Definitions() []model.ToolDefinition {
	catalog := r.Catalog()
	defs := make([]model.ToolDefinition, len(catalog))
	for i, d := range catalog {
		defs[i] = d.Definition()
	}
	return defs
}

type invocation struct {
	result map[string]any
	err    error
}

// PanicError is the failure recorded when a capability panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("capability panicked: %v", e.Value)
}

// Dispatch invokes the named capability and describes the outcome as an
// action. It never panics and never returns an error: every failure is
// carried in the action.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, iteration int) (action agent.Action) {
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	action = agent.Action{
		Iteration: iteration,
		ToolName:  name,
		Arguments: args,
		StartedAt: start,
	}

	ctx, span := r.tracer.Start(ctx, observability.SpanDispatch,
		trace.WithAttributes(
			attribute.String(observability.AttrTool, name),
			attribute.Int(observability.AttrIteration, iteration),
		),
	)
	defer func() {
		action.Duration = time.Since(start)
		kind := ""
		if action.Error != nil {
			kind = string(action.Error.Kind)
			span.SetStatus(codes.Error, action.Error.Message)
			span.SetAttributes(attribute.String(observability.AttrErrorKind, kind))
			slog.Warn("Capability failed", "tool", name, "iteration", iteration, "kind", kind, "error", action.Error.Message)
		} else {
			slog.Debug("Capability succeeded", "tool", name, "iteration", iteration, "duration", action.Duration)
		}
		r.metrics.RecordAction(ctx, name, action.Success, kind, action.Duration)
		span.End()
	}()

	c, ok := r.Lookup(name)
	if !ok {
		action.Error = &agent.ActionError{
			Kind:    agent.KindUnknownCapability,
			Message: fmt.Sprintf("unknown capability %q", name),
		}
		return action
	}

	r.mu.RLock()
	validator := r.validators[name]
	r.mu.RUnlock()
	if err := validator.Validate(args); err != nil {
		action.Error = &agent.ActionError{Kind: agent.KindInvalidArguments, Message: err.Error()}
		return action
	}

	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: &PanicError{Value: p, Stack: debug.Stack()}}
			}
		}()
		res, err := c.Invoke(callCtx, args)
		done <- invocation{result: res, err: err}
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-callCtx.Done():
		inv.err = callCtx.Err()
	}

	if inv.err != nil {
		action.Error = classify(callCtx, inv.err, timeout)
		return action
	}
	action.Success = true
	action.Result = inv.result
	return action
}

func classify(callCtx context.Context, err error, timeout time.Duration) *agent.ActionError {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		slog.Error("Capability panic recovered", "panic", pe.Value, "stack", string(pe.Stack))
		return &agent.ActionError{Kind: agent.KindCapabilityFailure, Message: err.Error()}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &agent.ActionError{
			Kind:    agent.KindTimeout,
			Message: fmt.Sprintf("capability did not complete within %s", timeout),
		}
	case agent.KindOf(err) == agent.KindInvalidArguments:
		return &agent.ActionError{Kind: agent.KindInvalidArguments, Message: err.Error()}
	default:
		return &agent.ActionError{Kind: agent.KindCapabilityFailure, Message: err.Error()}
	}
}
