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

// Package tool defines the capability contract and the registry that
// dispatches invocations to it.
//
// A capability is a named, schema-described function the decision engine
// can invoke. The registry owns the closed catalog for the process and is
// the only way the engine reaches a capability: Dispatch validates the
// arguments, bounds the call with a timeout, recovers panics and always
// returns an [agent.Action] describing what happened.
package tool

import (
	"context"
	"time"

	"github.com/kadirpekel/querydesk/pkg/model"
)

// Capability is a single named tool.
type Capability interface {
	// Name is unique within a registry.
	Name() string

	// Description is shown to the reasoning service.
	Description() string

	// Schema describes the accepted arguments. A nil schema accepts any
	// object.
	Schema() *Schema

	// Timeout bounds one invocation. Zero uses the registry default.
	Timeout() time.Duration

	// Invoke runs the capability. The returned map becomes the action
	// result.
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Descriptor is the serializable view of a capability.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Timeout     string         `json:"timeout,omitempty"`
}

// Describe builds the descriptor for c.
func Describe(c Capability) Descriptor {
	d := Descriptor{
		Name:        c.Name(),
		Description: c.Description(),
		Parameters:  c.Schema().JSON(),
	}
	if t := c.Timeout(); t > 0 {
		d.Timeout = t.String()
	}
	return d
}

// Definition converts a descriptor into the form sent to the reasoning
// service.
func (d Descriptor) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}
