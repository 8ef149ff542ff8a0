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

package observability

import (
	"context"
	"slices"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// RecordedSpan is a finished span as kept by SpanRecorder.
type RecordedSpan struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	Start        time.Time         `json:"start"`
	DurationMs   float64           `json:"duration_ms"`
	Attributes   map[string]string `json:"attributes"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_message,omitempty"`
}

// SpanRecorder is a span exporter keeping the most recent spans in memory.
// Safe for concurrent use.
type SpanRecorder struct {
	mu    sync.RWMutex
	spans []RecordedSpan
	max   int
}

func NewSpanRecorder(max int) *SpanRecorder {
	if max <= 0 {
		max = DefaultRecordedSpans
	}
	return &SpanRecorder{max: max}
}

// ExportSpans implements sdktrace.SpanExporter. The oldest spans are
// evicted once max is reached.
func (r *SpanRecorder) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range spans {
		r.spans = append(r.spans, convertSpan(s))
	}
	if over := len(r.spans) - r.max; over > 0 {
		r.spans = slices.Delete(r.spans, 0, over)
	}
	return nil
}

func convertSpan(s sdktrace.ReadOnlySpan) RecordedSpan {
	rs := RecordedSpan{
		TraceID:    s.SpanContext().TraceID().String(),
		SpanID:     s.SpanContext().SpanID().String(),
		Name:       s.Name(),
		Start:      s.StartTime(),
		DurationMs: float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
		Attributes: make(map[string]string, len(s.Attributes())),
		Status:     s.Status().Code.String(),
		StatusMsg:  s.Status().Description,
	}
	if s.Parent().HasSpanID() {
		rs.ParentSpanID = s.Parent().SpanID().String()
	}
	for _, kv := range s.Attributes() {
		rs.Attributes[string(kv.Key)] = kv.Value.Emit()
	}
	return rs
}

func (r *SpanRecorder) Shutdown(context.Context) error {
	r.mu.Lock()
	r.spans = nil
	r.mu.Unlock()
	return nil
}

// TurnSpans returns every recorded span of the trace the turn ran in,
// ordered by start time. It returns nil for an unknown or evicted turn.
func (r *SpanRecorder) TurnSpans(turnID string) []RecordedSpan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	traceID := ""
	for i := len(r.spans) - 1; i >= 0; i-- {
		if r.spans[i].Attributes[AttrTurnID] == turnID {
			traceID = r.spans[i].TraceID
			break
		}
	}
	if traceID == "" {
		return nil
	}

	var out []RecordedSpan
	for _, s := range r.spans {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b RecordedSpan) int { return a.Start.Compare(b.Start) })
	return out
}

func (r *SpanRecorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spans)
}

var _ sdktrace.SpanExporter = (*SpanRecorder)(nil)
