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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/querydesk/pkg/auth"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
)

const (
	a2aPath       = "/a2a"
	agentCardPath = "/.well-known/agent-card.json"
)

func (s *Server) mountA2A(r chi.Router) {
	handler := a2asrv.NewHandler(&executor{svc: s.svc})
	r.Handle(a2aPath, a2asrv.NewJSONRPCHandler(handler))
	r.Handle(agentCardPath, a2asrv.NewStaticAgentCardHandler(s.agentCard()))
}

// agentCard advertises one skill per capability.
func (s *Server) agentCard() *a2a.AgentCard {
	catalog := s.svc.Capabilities()
	skills := make([]a2a.AgentSkill, 0, len(catalog))
	for _, d := range catalog {
		skills = append(skills, a2a.AgentSkill{
			ID:          d.Name,
			Name:        d.Name,
			Description: d.Description,
			Tags:        []string{"querydesk"},
		})
	}

	card := &a2a.AgentCard{
		Name:               s.cfg.Name,
		Description:        "Answers questions over SQL data and documents, and renders charts",
		URL:                strings.TrimSuffix(s.cfg.Server.PublicURL(), "/") + a2aPath,
		Version:            s.version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Skills:             skills,
		Capabilities:       a2a.AgentCapabilities{Streaming: false},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
	}
	if s.validator != nil {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{{"BearerAuth": a2a.SecuritySchemeScopes{}}}
	}
	return card
}

// executor runs one orchestrator query per A2A message. The A2A context id
// is the conversation id; the user comes from the token subject or the
// message metadata.
type executor struct {
	svc Service
}

func (e *executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return fmt.Errorf("message not provided")
	}

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return fmt.Errorf("write submitted event: %w", err)
		}
	}
	if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return err
	}

	userID, _ := msg.Metadata["user_id"].(string)
	req := orchestrator.QueryRequest{
		ConversationID: reqCtx.ContextID,
		UserText:       messageText(msg),
		UserID:         auth.UserID(ctx, userID),
	}
	slog.Debug("A2A query", "context", req.ConversationID, "task", string(reqCtx.TaskID))

	res, err := e.svc.Query(ctx, req)
	if res == nil {
		return queue.Write(ctx, failedEvent(reqCtx, err.Error()))
	}
	if !res.Recorded {
		slog.Warn("A2A turn answered but not recorded", "turn", res.TurnID, "error", err)
	}

	parts := []a2a.Part{a2a.TextPart{Text: res.FinalAnswer}}
	if data := resultData(res); data != nil {
		parts = append(parts, a2a.DataPart{Data: data})
	}
	if err := queue.Write(ctx, a2a.NewArtifactEvent(reqCtx, parts...)); err != nil {
		return err
	}

	if !res.Success {
		return queue.Write(ctx, failedEvent(reqCtx, res.FinalAnswer))
	}
	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	done.Final = true
	return queue.Write(ctx, done)
}

func (e *executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

func failedEvent(reqCtx *a2asrv.RequestContext, text string) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: text})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

func messageText(msg *a2a.Message) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// resultData carries the trace and payload of a result as a data part.
func resultData(res *orchestrator.Result) map[string]any {
	raw, err := json.Marshal(struct {
		TurnID       string `json:"turn_id"`
		ActionsTaken any    `json:"actions_taken"`
		Data         any    `json:"data,omitempty"`
		Chart        any    `json:"chart,omitempty"`
		ErrorKind    string `json:"error_kind,omitempty"`
		Truncated    bool   `json:"truncated"`
	}{res.TurnID, res.ActionsTaken, res.Data, res.Chart, string(res.ErrorKind), res.Truncated})
	if err != nil {
		slog.Warn("Failed to encode result data", "error", err)
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
