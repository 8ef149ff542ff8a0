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

// Package model defines the reasoning-service boundary.
//
// A Reasoner turns a system instruction, a message history and a set of
// tool definitions into either text or function calls. Credentials are not
// owned by the Reasoner: each call receives the API key the credential
// pool selected, so failover happens one level up.
package model

import (
	"context"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResult is the observation returned for a FunctionCall.
type FunctionResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// Message is one entry in the history sent to the model. Exactly one of
// Text, Call or Result is expected to be set.
type Message struct {
	Role   Role
	Text   string
	Call   *FunctionCall
	Result *FunctionResult
}

// UserText is a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// ModelText is a model message.
func ModelText(text string) Message {
	return Message{Role: RoleModel, Text: text}
}

// ToolDefinition describes a callable tool with a JSON schema for its
// parameters.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one reasoning call.
type Request struct {
	// Model overrides the reasoner's default model when set.
	Model             string
	SystemInstruction string
	Messages          []Message
	Tools             []ToolDefinition

	Temperature *float64
	MaxTokens   int

	// ResponseMIMEType requests structured output, e.g. application/json.
	ResponseMIMEType string
}

// Usage holds token counts reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type FinishReason string

const (
	FinishReasonStop    FinishReason = "stop"
	FinishReasonLength  FinishReason = "length"
	FinishReasonContent FinishReason = "content_filter"
	FinishReasonOther   FinishReason = "other"
)

// Response is the model output.
type Response struct {
	Text         string
	Calls        []FunctionCall
	Usage        Usage
	FinishReason FinishReason
}

// HasCalls reports whether the model requested a tool.
func (r *Response) HasCalls() bool {
	return r != nil && len(r.Calls) > 0
}

// TrimmedText returns Text without surrounding whitespace.
func (r *Response) TrimmedText() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Text)
}

// Reasoner calls a language model with the given API key.
//
// Implementations must be safe for concurrent use and must return errors
// that Classify understands.
type Reasoner interface {
	// Name is the default model identifier.
	Name() string

	Reason(ctx context.Context, apiKey string, req *Request) (*Response, error)
}
