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

// Package gemini implements model.Reasoner with the google.golang.org/genai
// SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/model"
)

const DefaultModel = "gemini-2.5-flash-lite"

// Config configures the Gemini reasoner.
type Config struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration

	// BaseURL overrides the API endpoint, for tests and proxies.
	BaseURL string
}

// Reasoner calls Gemini. One SDK client is kept per API key; clients are
// cheap and hold no connection of their own beyond the shared transport.
type Reasoner struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func New(cfg Config) *Reasoner {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Reasoner{cfg: cfg, clients: make(map[string]*genai.Client)}
}

// FromConfig builds a reasoner from the llm section.
func FromConfig(c *config.LLMConfig) *Reasoner {
	return New(Config{
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
	})
}

func (r *Reasoner) Name() string { return r.cfg.Model }

func (r *Reasoner) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if r.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = r.cfg.BaseURL
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	r.clients[apiKey] = c
	return c, nil
}

// Reason performs one non-streaming generation.
func (r *Reasoner) Reason(ctx context.Context, apiKey string, req *model.Request) (*model.Response, error) {
	if apiKey == "" {
		return nil, model.NewProviderError(401, "UNAUTHENTICATED", "empty api key")
	}
	client, err := r.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	name := req.Model
	if name == "" {
		name = r.cfg.Model
	}

	resp, err := client.Models.GenerateContent(ctx, name, buildContents(req.Messages), r.buildConfig(req))
	if err != nil {
		return nil, translateError(err)
	}
	return parseResponse(resp)
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.NewProviderError(apiErr.Code, apiErr.Status, model.WithQuotaIDs(apiErr.Message, apiErr.Details))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return model.NewProviderError(apiErrPtr.Code, apiErrPtr.Status, model.WithQuotaIDs(apiErrPtr.Message, apiErrPtr.Details))
	}
	return fmt.Errorf("gemini generation failed: %w", err)
}

func buildContents(msgs []model.Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		var part *genai.Part
		switch {
		case m.Call != nil:
			part = &genai.Part{FunctionCall: &genai.FunctionCall{ID: m.Call.ID, Name: m.Call.Name, Args: m.Call.Args}}
		case m.Result != nil:
			part = &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: m.Result.ID, Name: m.Result.Name, Response: m.Result.Response}}
		case m.Text != "":
			part = &genai.Part{Text: m.Text}
		default:
			continue
		}

		role := genai.RoleUser
		if m.Role == model.RoleModel {
			role = genai.RoleModel
		}
		// Consecutive parts from the same role share one content.
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	return out
}

func (r *Reasoner) buildConfig(req *model.Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}

	temp := req.Temperature
	if temp == nil {
		temp = r.cfg.Temperature
	}
	if temp != nil {
		gc.Temperature = genai.Ptr(float32(*temp))
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.cfg.MaxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if req.ResponseMIMEType != "" {
		gc.ResponseMIMEType = req.ResponseMIMEType
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toSchema(t.Parameters),
			})
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return gc
}

// toSchema converts a JSON schema map to the SDK's schema type.
func toSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := s["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = toSchema(pm)
			}
		}
	}
	switch req := s["required"].(type) {
	case []string:
		out.Required = append(out.Required, req...)
	case []any:
		for _, v := range req {
			if str, ok := v.(string); ok {
				out.Required = append(out.Required, str)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = toSchema(items)
	}
	switch enum := s["enum"].(type) {
	case []string:
		out.Enum = append(out.Enum, enum...)
	case []any:
		for _, v := range enum {
			out.Enum = append(out.Enum, fmt.Sprint(v))
		}
	}
	if v, ok := number(s["minimum"]); ok {
		out.Minimum = &v
	}
	if v, ok := number(s["maximum"]); ok {
		out.Maximum = &v
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func parseResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, model.ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	out := &model.Response{FinishReason: finishReason(cand.FinishReason)}

	if cand.Content != nil {
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			if p.Text != "" && !p.Thought {
				text.WriteString(p.Text)
			}
			if p.FunctionCall != nil {
				id := p.FunctionCall.ID
				if id == "" {
					id = stableCallID(p.FunctionCall.Name, p.FunctionCall.Args)
				}
				out.Calls = append(out.Calls, model.FunctionCall{ID: id, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
			}
		}
		out.Text = text.String()
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// stableCallID derives an ID from the call so retries of the same call
// agree.
func stableCallID(name string, args map[string]any) string {
	b, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(b)
	return fmt.Sprintf("call-%x", sum[:8])
}

func finishReason(r genai.FinishReason) model.FinishReason {
	switch r {
	case genai.FinishReasonStop, "":
		return model.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety:
		return model.FinishReasonContent
	default:
		return model.FinishReasonOther
	}
}

var _ model.Reasoner = (*Reasoner)(nil)
