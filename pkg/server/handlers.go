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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/auth"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/observability"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
)

// maxBodyBytes bounds a query request body.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error     string          `json:"error"`
	ErrorKind agent.ErrorKind `json:"error_kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind agent.ErrorKind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, ErrorKind: kind})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, config.Schema())
}

// handleQuery answers 200 for every turn that ran, including aborted ones;
// the body's success flag and error_kind tell them apart.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, agent.KindInvalidArguments, "invalid request body: "+err.Error())
		return
	}
	req.UserID = auth.UserID(r.Context(), req.UserID)

	res, err := s.svc.Query(r.Context(), req)
	if res != nil {
		if !res.Recorded {
			slog.Warn("Turn answered but not recorded", "turn", res.TurnID, "error", err)
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if agent.KindOf(err) == agent.KindInvalidArguments {
		writeError(w, http.StatusBadRequest, agent.KindInvalidArguments, err.Error())
		return
	}
	slog.Error("Query failed", "error", err)
	writeError(w, http.StatusInternalServerError, agent.KindOf(err), err.Error())
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	catalog := s.svc.Capabilities()
	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": catalog,
		"count":        len(catalog),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		slog.Error("Status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "operational",
		"version": s.version,
		"details": st,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	userID := auth.UserID(r.Context(), r.URL.Query().Get("user_id"))

	turns, err := s.svc.History(r.Context(), userID, conversationID)
	if err != nil {
		var ae *agent.Error
		if errors.As(err, &ae) && ae.Kind == agent.KindInvalidArguments {
			writeError(w, http.StatusBadRequest, ae.Kind, ae.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if userID == "" {
		userID = orchestrator.DefaultUserID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"turns":           turns,
	})
}

func (s *Server) handleTurnSpans(rec *observability.SpanRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turnID := chi.URLParam(r, "turnID")
		spans := rec.TurnSpans(turnID)
		if spans == nil {
			writeError(w, http.StatusNotFound, "", "no spans recorded for turn "+turnID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turn_id": turnID, "spans": spans})
	}
}
