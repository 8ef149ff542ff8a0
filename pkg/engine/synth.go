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
	"log/slog"
	"strings"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/tool/charttool"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/tool/sqltool"
)

const synthesizedPassages = 3

// lastResult returns the result of the most recent successful action of
// the named tool.
func lastResult(actions []agent.Action, toolName string) (map[string]any, bool) {
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if a.Success && a.ToolName == toolName {
			r, ok := a.Result.(map[string]any)
			return r, ok
		}
	}
	return nil, false
}

// injectChartData fills a missing data argument of create_chart with the
// rows of the last successful sql_query. Other arguments are left as is.
func injectChartData(toolName string, args map[string]any, actions []agent.Action) map[string]any {
	if toolName != charttool.ChartToolName {
		return args
	}
	if v, ok := args["data"]; ok && v != nil {
		return args
	}
	result, ok := lastResult(actions, sqltool.QueryToolName)
	if !ok {
		return args
	}
	rows, ok := result["data"]
	if !ok {
		return args
	}

	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["data"] = rows
	slog.Info("Injected query rows into chart arguments", "tool", toolName)
	return out
}

// collectPayload keeps the last tabular data and the last chart.
func collectPayload(actions []agent.Action) *agent.Payload {
	p := &agent.Payload{}
	if r, ok := lastResult(actions, sqltool.QueryToolName); ok {
		if rows, ok := r["data"].([]map[string]any); ok && len(rows) > 0 {
			p.Data = rows
		}
	}
	if r, ok := lastResult(actions, charttool.ChartToolName); ok {
		img, _ := r["image_base64"].(string)
		if img != "" {
			plot, _ := r["plot_type"].(string)
			cfg, _ := r["config"].(map[string]any)
			p.Chart = &agent.Chart{PlotType: plot, ImageBase64: img, Config: cfg}
		}
	}
	if p.IsEmpty() {
		return nil
	}
	return p
}

// lastSuccessful returns the most recent successful action.
func lastSuccessful(actions []agent.Action) (agent.Action, bool) {
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].Success {
			return actions[i], true
		}
	}
	return agent.Action{}, false
}

// documentAnswer builds an answer from the top passages of a
// document_search result.
func documentAnswer(a agent.Action) string {
	result, ok := a.Result.(map[string]any)
	if !ok {
		return ""
	}
	passages, ok := result["passages"].([]retrievaltool.Passage)
	if !ok || len(passages) == 0 {
		return ""
	}
	if len(passages) > synthesizedPassages {
		passages = passages[:synthesizedPassages]
	}

	var b strings.Builder
	b.WriteString("Based on the documents:\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "\n[%s] %s\n", p.Citation(), strings.TrimSpace(p.Content))
	}
	return strings.TrimSpace(b.String())
}

// summarizeActions is the best-effort answer of a truncated turn.
func summarizeActions(actions []agent.Action, limit int) string {
	var lines []string
	for _, a := range actions {
		if !a.Success {
			continue
		}
		lines = append(lines, "- "+describeResult(a))
	}
	if len(lines) == 0 {
		return fmt.Sprintf("I could not complete the request within %d steps and no step produced a result.", limit)
	}
	return fmt.Sprintf("I could not complete the request within %d steps. Partial results:\n%s", limit, strings.Join(lines, "\n"))
}

func describeResult(a agent.Action) string {
	result, _ := a.Result.(map[string]any)
	switch a.ToolName {
	case sqltool.QueryToolName:
		return fmt.Sprintf("%s returned %v rows for: %v", a.ToolName, result["row_count"], result["sql"])
	case charttool.ChartToolName:
		return fmt.Sprintf("%s rendered a %v chart", a.ToolName, result["plot_type"])
	case retrievaltool.ToolName:
		if ans := documentAnswer(a); ans != "" {
			return fmt.Sprintf("%s found: %s", a.ToolName, firstLine(strings.TrimPrefix(ans, "Based on the documents:\n")))
		}
	}
	data, err := json.Marshal(a.Result)
	if err != nil {
		return a.ToolName + " succeeded"
	}
	s := string(data)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return fmt.Sprintf("%s: %s", a.ToolName, s)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
