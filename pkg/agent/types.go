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

// Package agent defines the vocabulary shared by every orchestration
// component: turns, actions, decisions and the error taxonomy.
//
// The types here carry no behavior beyond small helpers. Components that
// produce them (the dispatcher, the decision engine, the conversation store)
// own the rules for how they are built.
package agent

import (
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus is the terminal state a turn was recorded in.
type TurnStatus string

const (
	// TurnFinished means the reasoning service produced a final answer.
	TurnFinished TurnStatus = "finished"

	// TurnTruncated means the iteration cap was reached and the answer was
	// synthesized from the collected action results.
	TurnTruncated TurnStatus = "truncated"

	// TurnAborted means an engine-level failure ended the turn.
	TurnAborted TurnStatus = "aborted"
)

// Action is a single capability invocation performed during one engine run.
type Action struct {
	// Iteration is the 1-based position in which the engine committed to
	// this action. Never reordered.
	Iteration int `json:"iteration"`

	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`

	// Result is the capability payload on success.
	Result any `json:"result,omitempty"`

	// Error is set when Success is false.
	Error *ActionError `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ActionError describes why an action failed.
type ActionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Observation renders the action outcome as the text folded back into the
// next reasoning step.
func (a Action) Observation() map[string]any {
	if a.Success {
		return map[string]any{
			"success": true,
			"result":  a.Result,
		}
	}
	obs := map[string]any{"success": false}
	if a.Error != nil {
		obs["error"] = a.Error.Message
		obs["error_kind"] = string(a.Error.Kind)
	}
	return obs
}

// Payload is optional structured output attached to a turn.
type Payload struct {
	// Data holds the last tabular result produced during the turn.
	Data []map[string]any `json:"data,omitempty"`

	// Chart holds the last rendered chart.
	Chart *Chart `json:"chart,omitempty"`
}

// Chart is an encoded chart image plus its type tag.
type Chart struct {
	PlotType    string         `json:"plot_type"`
	ImageBase64 string         `json:"image_base64"`
	Config      map[string]any `json:"config,omitempty"`
}

// IsEmpty reports whether the payload carries nothing.
func (p *Payload) IsEmpty() bool {
	return p == nil || (len(p.Data) == 0 && p.Chart == nil)
}

// Turn is one user query with the complete answer and trace produced for it.
// Turns are immutable once appended to a conversation.
type Turn struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	UserText  string     `json:"user_text"`
	Answer    string     `json:"answer"`
	Status    TurnStatus `json:"status"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Actions   []Action   `json:"actions"`
	Payload   *Payload   `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Aborted reports whether the turn ended in an engine-level failure.
func (t Turn) Aborted() bool {
	return t.Status == TurnAborted
}

// Truncated reports whether the turn hit the iteration cap.
func (t Turn) Truncated() bool {
	return t.Status == TurnTruncated
}

// DecisionType distinguishes the two things a reasoning step can decide.
type DecisionType int

const (
	DecisionInvoke DecisionType = iota
	DecisionFinish
)

func (d DecisionType) String() string {
	switch d {
	case DecisionInvoke:
		return "invoke"
	case DecisionFinish:
		return "finish"
	default:
		return fmt.Sprintf("DecisionType(%d)", int(d))
	}
}

// Decision is the reasoning service output for one iteration.
type Decision struct {
	Type      DecisionType
	Thought   string
	ToolName  string
	Arguments map[string]any
	Answer    string

	// CallID is the provider's function call id, echoed back with the
	// observation when present.
	CallID string
}

// Invoke builds an invoke decision.
func Invoke(tool string, args map[string]any) Decision {
	if args == nil {
		args = map[string]any{}
	}
	return Decision{Type: DecisionInvoke, ToolName: tool, Arguments: args}
}

// Finish builds a finish decision.
func Finish(answer string) Decision {
	return Decision{Type: DecisionFinish, Answer: answer}
}

// ConversationKey scopes a conversation id to the user that owns it.
func ConversationKey(userID, conversationID string) string {
	return userID + ":" + conversationID
}
