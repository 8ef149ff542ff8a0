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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/model"
	"github.com/kadirpekel/querydesk/pkg/tool/charttool"
	"github.com/kadirpekel/querydesk/pkg/tool/sqltool"
)

// DefaultInstruction is the system instruction used when none is configured.
const DefaultInstruction = `You are a data assistant that answers questions about a SQL database and a document collection.

Work step by step. Call one tool at a time and wait for its result before deciding the next step.
- Use sql_schema to learn table and column names before writing SQL.
- Use sql_query for numbers, lists and aggregates from the database.
- Use document_search for policies, manuals and other written material; cite page and section.
- Use create_chart after sql_query when a chart would help; the last query result is used when data is omitted.
- Use analyze_data to profile a result before choosing a chart.

When you have enough information, reply with the final answer in plain text.
If function calling is unavailable, reply with JSON: {"thought": "...", "action": "<tool>", "action_input": {...}} or {"final_answer": "..."}.`

const correctiveHint = `Your previous reply could not be understood. Reply with exactly one of:
1. a function call to one of the available tools,
2. JSON {"thought": "...", "action": "<tool name>", "action_input": {<arguments>}},
3. JSON {"final_answer": "<answer>"}.`

// Observation limits keep large results out of the reasoning context.
const (
	maxObservedRows  = 20
	maxObservedChars = 8000
)

// historyMessages renders prior turns as alternating user and model text.
// Aborted and truncated turns are labeled so the model knows what failed.
func historyMessages(turns []agent.Turn) []model.Message {
	msgs := make([]model.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs, model.UserText(t.UserText))
		msgs = append(msgs, model.ModelText(renderAnswer(t)))
	}
	return msgs
}

func renderAnswer(t agent.Turn) string {
	var b strings.Builder
	switch t.Status {
	case agent.TurnAborted:
		fmt.Fprintf(&b, "[aborted: %s] ", t.ErrorKind)
	case agent.TurnTruncated:
		b.WriteString("[truncated] ")
	}
	if len(t.Actions) > 0 {
		names := make([]string, 0, len(t.Actions))
		for _, a := range t.Actions {
			names = append(names, a.ToolName)
		}
		fmt.Fprintf(&b, "(tools used: %s) ", strings.Join(names, ", "))
	}
	b.WriteString(t.Answer)
	return strings.TrimSpace(b.String())
}

// observe returns the observation folded back after an action, with
// images dropped and row sets shortened.
func observe(a agent.Action) map[string]any {
	obs := a.Observation()
	result, ok := a.Result.(map[string]any)
	if !a.Success || !ok {
		return obs
	}

	trimmed := make(map[string]any, len(result))
	for k, v := range result {
		trimmed[k] = v
	}
	if _, ok := trimmed["image_base64"]; ok && a.ToolName == charttool.ChartToolName {
		trimmed["image_base64"] = "[chart image attached to the answer]"
	}
	if rows, ok := trimmed["data"].([]map[string]any); ok && a.ToolName == sqltool.QueryToolName && len(rows) > maxObservedRows {
		trimmed["data"] = rows[:maxObservedRows]
		trimmed["data_note"] = fmt.Sprintf("showing %d of %d rows", maxObservedRows, len(rows))
	}
	obs["result"] = trimmed
	return obs
}

// observationText is the text form used when the decision came from text.
func observationText(a agent.Action) string {
	data, err := json.Marshal(observe(a))
	if err != nil {
		return fmt.Sprintf("Observation: %v", err)
	}
	s := string(data)
	if len(s) > maxObservedChars {
		s = s[:maxObservedChars] + "...(truncated)"
	}
	return "Observation: " + s
}
