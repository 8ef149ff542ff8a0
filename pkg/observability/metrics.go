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
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records orchestration metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	turns        metric.Int64Counter
	turnDuration metric.Float64Histogram

	actions        metric.Int64Counter
	actionDuration metric.Float64Histogram

	reasoningCalls    metric.Int64Counter
	reasoningDuration metric.Float64Histogram
	tokens            metric.Int64Counter

	credentialOutcomes metric.Int64Counter
	poolExhausted      metric.Int64Counter

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics builds the instruments on a private Prometheus registry. It
// returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)
	m := &Metrics{provider: provider, registry: registry}

	b := builder{meter: meter}
	m.turns = b.counter("turns_total", "Completed turns by status")
	m.turnDuration = b.histogram("turn_duration_seconds", "Turn duration in seconds")
	m.actions = b.counter("actions_total", "Capability dispatches by tool and outcome")
	m.actionDuration = b.histogram("action_duration_seconds", "Capability dispatch duration in seconds")
	m.reasoningCalls = b.counter("reasoning_calls_total", "Reasoning service calls by outcome")
	m.reasoningDuration = b.histogram("reasoning_duration_seconds", "Reasoning call duration in seconds")
	m.tokens = b.counter("reasoning_tokens_total", "Tokens consumed by direction")
	m.credentialOutcomes = b.counter("credential_outcomes_total", "Reported credential outcomes")
	m.poolExhausted = b.counter("pool_exhausted_total", "Acquisitions that found no usable credential")
	m.httpRequests = b.counter("http_requests_total", "HTTP requests by route and status")
	m.httpDuration = b.histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		b.err = fmt.Errorf("create counter %s: %w", name, err)
	}
	return c
}

func (b *builder) histogram(name, desc string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil {
		b.err = fmt.Errorf("create histogram %s: %w", name, err)
	}
	return h
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a finished, truncated or aborted turn.
func (m *Metrics) RecordTurn(ctx context.Context, status, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("error_kind", errorKind),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordAction records one capability dispatch.
func (m *Metrics) RecordAction(ctx context.Context, tool string, success bool, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
		attribute.String("error_kind", errorKind),
	)
	m.actions.Add(ctx, 1, attrs)
	m.actionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReasoning records one reasoning service call.
func (m *Metrics) RecordReasoning(ctx context.Context, model, outcome string, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	m.reasoningCalls.Add(ctx, 1, attrs)
	m.reasoningDuration.Record(ctx, d.Seconds(), attrs)
	if inputTokens > 0 {
		m.tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("direction", "input")))
	}
	if outputTokens > 0 {
		m.tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("direction", "output")))
	}
}

// RecordCredentialOutcome records an outcome reported to the pool.
func (m *Metrics) RecordCredentialOutcome(ctx context.Context, credentialID, outcome string) {
	if m == nil {
		return
	}
	m.credentialOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("credential", credentialID),
		attribute.String("outcome", outcome),
	))
}

// RecordPoolExhausted counts a failed acquisition.
func (m *Metrics) RecordPoolExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.poolExhausted.Add(ctx, 1)
}

// RecordHTTPRequest records one served request. route is the chi pattern,
// not the raw path, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
