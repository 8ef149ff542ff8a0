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

package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/model"
)

// ErrUnparseable is returned when a response holds no usable decision.
var ErrUnparseable = errors.New("reasoning output could not be parsed")

var (
	fencePattern       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	thoughtPattern     = regexp.MustCompile(`(?mi)^\s*Thought:\s*(.+)$`)
	actionPattern      = regexp.MustCompile(`(?mi)^\s*Action:\s*([A-Za-z0-9_.\-]+)\s*$`)
	actionInputPattern = regexp.MustCompile(`(?msi)^\s*Action Input:\s*(.*)$`)
	finalPattern       = regexp.MustCompile(`(?msi)^\s*(?:Final Answer|Answer):\s*(.*)$`)
)

// ParseDecision extracts a decision from a reasoning response.
//
// A native function call wins. Otherwise the text is read as a JSON object
// with action/action_input or final_answer, then as ReAct style lines. Any
// other non-empty text is taken as the final answer.
func ParseDecision(resp *model.Response) (agent.Decision, error) {
	if resp.HasCalls() {
		call := resp.Calls[0]
		d := agent.Invoke(call.Name, call.Args)
		d.CallID = call.ID
		d.Thought = resp.TrimmedText()
		return d, nil
	}

	text := resp.TrimmedText()
	if text == "" {
		return agent.Decision{}, fmt.Errorf("%w: empty response", ErrUnparseable)
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	if strings.HasPrefix(text, "{") {
		return parseJSONDecision(text)
	}
	if d, ok, err := parseReActLines(text); ok || err != nil {
		return d, err
	}
	return agent.Finish(text), nil
}

type jsonDecision struct {
	Thought     string          `json:"thought"`
	Action      string          `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
	FinalAnswer *string         `json:"final_answer"`
}

func parseJSONDecision(text string) (agent.Decision, error) {
	var jd jsonDecision
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&jd); err != nil {
		return agent.Decision{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	switch {
	case jd.FinalAnswer != nil:
		d := agent.Finish(strings.TrimSpace(*jd.FinalAnswer))
		d.Thought = jd.Thought
		return d, nil
	case jd.Action != "":
		args, err := decodeArgs(jd.ActionInput)
		if err != nil {
			return agent.Decision{}, err
		}
		d := agent.Invoke(jd.Action, args)
		d.Thought = jd.Thought
		return d, nil
	default:
		return agent.Decision{}, fmt.Errorf("%w: JSON reply has neither action nor final_answer", ErrUnparseable)
	}
}

func parseReActLines(text string) (agent.Decision, bool, error) {
	var thought string
	if m := thoughtPattern.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	if m := actionPattern.FindStringSubmatch(text); m != nil {
		var raw string
		if in := actionInputPattern.FindStringSubmatch(text); in != nil {
			raw = strings.TrimSpace(in[1])
			if f := fencePattern.FindStringSubmatch(raw); f != nil {
				raw = strings.TrimSpace(f[1])
			}
		}
		args, err := decodeArgs(json.RawMessage(raw))
		if err != nil {
			return agent.Decision{}, true, err
		}
		d := agent.Invoke(m[1], args)
		d.Thought = thought
		return d, true, nil
	}

	if m := finalPattern.FindStringSubmatch(text); m != nil {
		d := agent.Finish(strings.TrimSpace(m[1]))
		d.Thought = thought
		return d, true, nil
	}
	return agent.Decision{}, false, nil
}

// decodeArgs accepts an empty input, a JSON object, or a JSON string that
// itself holds an object.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: action input: %v", ErrUnparseable, err)
		}
		raw = json.RawMessage(strings.TrimSpace(s))
	}

	var args map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: action input must be a JSON object: %v", ErrUnparseable, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
