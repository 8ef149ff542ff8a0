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

// Package functiontool builds capabilities from typed Go functions.
//
// The argument schema is generated from the Args struct tags:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required" jsonschema_description:"Search text"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10,default=5"`
//	}
//
//	search, err := functiontool.New(
//	    functiontool.Config{Name: "search", Description: "Search documents"},
//	    func(ctx context.Context, args SearchArgs) (map[string]any, error) {
//	        ...
//	    },
//	)
//
// Implement [tool.Capability] directly when the schema is dynamic.
package functiontool

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/tool"
)

// Config defines a function capability.
type Config struct {
	// Name is the unique identifier (required).
	Name string

	// Description is shown to the reasoning service (required).
	Description string

	// Timeout bounds one invocation. Zero uses the registry default.
	Timeout time.Duration
}

func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("function tool: %w", tool.ErrEmptyName)
	}
	if cfg.Description == "" {
		return fmt.Errorf("function tool %q: description is required", cfg.Name)
	}
	return nil
}

// New creates a capability from fn. Args must be a struct with json and
// jsonschema tags.
func New[Args any](cfg Config, fn func(context.Context, Args) (map[string]any, error)) (tool.Capability, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("function tool %q: nil function", cfg.Name)
	}
	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", cfg.Name, err)
	}
	return &functionTool[Args]{config: cfg, fn: fn, schema: schema}, nil
}

// NewWithValidation is New plus a check run on the decoded arguments
// before fn. A validation error is reported as invalid arguments.
func NewWithValidation[Args any](
	cfg Config,
	fn func(context.Context, Args) (map[string]any, error),
	validate func(Args) error,
) (tool.Capability, error) {
	c, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}
	ft := c.(*functionTool[Args])
	ft.validate = validate
	return ft, nil
}

type functionTool[Args any] struct {
	config   Config
	fn       func(context.Context, Args) (map[string]any, error)
	validate func(Args) error
	schema   *tool.Schema
}

func (t *functionTool[Args]) Name() string           { return t.config.Name }
func (t *functionTool[Args]) Description() string    { return t.config.Description }
func (t *functionTool[Args]) Timeout() time.Duration { return t.config.Timeout }
func (t *functionTool[Args]) Schema() *tool.Schema   { return t.schema }

func (t *functionTool[Args]) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	var typed Args
	if err := mapToStruct(args, &typed); err != nil {
		return nil, agent.WrapError(agent.KindInvalidArguments, err, "decode arguments for "+t.config.Name)
	}
	if t.validate != nil {
		if err := t.validate(typed); err != nil {
			return nil, agent.WrapError(agent.KindInvalidArguments, err, "")
		}
	}
	return t.fn(ctx, typed)
}
