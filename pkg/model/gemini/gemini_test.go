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

package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/model"
)

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReason_FunctionCall(t *testing.T) {
	var seen map[string]any
	srv := newServer(t, http.StatusOK, `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"functionCall": {"name": "sql_query", "args": {"query": "SELECT 1"}}}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 3, "totalTokenCount": 15}
	}`, &seen)

	r := New(Config{Model: "gemini-test", BaseURL: srv.URL + "/"})
	resp, err := r.Reason(context.Background(), "key", &model.Request{
		SystemInstruction: "be brief",
		Messages:          []model.Message{model.UserText("how many flights?")},
		Tools: []model.ToolDefinition{{
			Name:        "sql_query",
			Description: "run sql",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "sql_query", resp.Calls[0].Name)
	assert.Equal(t, "SELECT 1", resp.Calls[0].Args["query"])
	assert.NotEmpty(t, resp.Calls[0].ID)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, model.FinishReasonStop, resp.FinishReason)

	assert.Contains(t, seen, "systemInstruction")
	assert.Contains(t, seen, "tools")
}

func TestReason_Text(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "There are "}, {"text": "42."}]}}]
	}`, nil)

	r := New(Config{BaseURL: srv.URL + "/"})
	resp, err := r.Reason(context.Background(), "key", &model.Request{Messages: []model.Message{model.UserText("q")}})
	require.NoError(t, err)
	assert.Equal(t, "There are 42.", resp.Text)
	assert.False(t, resp.HasCalls())
}

func TestReason_ErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   credential.Outcome
	}{
		{"rate limited", 429, `{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`, credential.OutcomeRateLimited},
		{"per-minute quota", 429, `{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED", "details": [{"@type": "type.googleapis.com/google.rpc.QuotaFailure", "violations": [{"quotaId": "GenerateRequestsPerMinutePerProjectPerModel-FreeTier"}]}]}}`, credential.OutcomeRateLimited},
		{"per-day quota", 429, `{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED", "details": [{"@type": "type.googleapis.com/google.rpc.QuotaFailure", "violations": [{"quotaId": "GenerateRequestsPerDayPerProjectPerModel-FreeTier"}]}]}}`, credential.OutcomeQuotaExhausted},
		{"bad key", 400, `{"error": {"code": 400, "message": "API key not valid. Please pass a valid API key.", "status": "INVALID_ARGUMENT"}}`, credential.OutcomeAuthFailure},
		{"forbidden", 403, `{"error": {"code": 403, "message": "denied", "status": "PERMISSION_DENIED"}}`, credential.OutcomeAuthFailure},
		{"server", 500, `{"error": {"code": 500, "message": "internal", "status": "INTERNAL"}}`, credential.OutcomeTransientFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			r := New(Config{BaseURL: srv.URL + "/"})
			_, err := r.Reason(context.Background(), "key", &model.Request{Messages: []model.Message{model.UserText("q")}})
			require.Error(t, err)
			assert.Equal(t, tt.want, model.Classify(err))
		})
	}
}

func TestReason_EmptyKey(t *testing.T) {
	_, err := New(Config{}).Reason(context.Background(), "", &model.Request{})
	assert.Equal(t, credential.OutcomeAuthFailure, model.Classify(err))
}

func TestBuildContents_GroupsByRole(t *testing.T) {
	contents := buildContents([]model.Message{
		model.UserText("q"),
		{Role: model.RoleModel, Call: &model.FunctionCall{ID: "1", Name: "sql_query"}},
		{Role: model.RoleUser, Result: &model.FunctionResult{ID: "1", Name: "sql_query", Response: map[string]any{"row_count": 1}}},
		model.UserText("more"),
		{Role: model.RoleModel},
	})
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Len(t, contents[2].Parts, 2)
}

func TestToSchema(t *testing.T) {
	s := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"num_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"plot_type":   map[string]any{"type": "string", "enum": []any{"bar", "line"}},
		},
		"required": []any{"plot_type"},
	})
	assert.Equal(t, "OBJECT", string(s.Type))
	assert.Equal(t, []string{"plot_type"}, s.Required)
	require.NotNil(t, s.Properties["num_results"].Maximum)
	assert.Equal(t, 10.0, *s.Properties["num_results"].Maximum)
	assert.Equal(t, []string{"bar", "line"}, s.Properties["plot_type"].Enum)
}
