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
	"errors"
	"log/slog"
)

// Manager owns the tracer and metrics for the process lifetime.
type Manager struct {
	tracer  *Tracer
	metrics *Metrics
}

// NewManager initializes whatever cfg enables. Disabled parts stay nil and
// their methods are no-ops.
func NewManager(ctx context.Context, cfg Config, version string) (*Manager, error) {
	tracer, err := NewTracer(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	if tracer != nil {
		slog.Info("Tracing enabled", "exporter", cfg.Tracing.Exporter, "endpoint", cfg.Tracing.Endpoint)
	}
	if metrics != nil {
		slog.Info("Metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}
	return &Manager{tracer: tracer, metrics: metrics}, nil
}

// Tracer may return nil; a nil *Tracer is usable.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics may return nil; a nil *Metrics is usable.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return errors.Join(m.tracer.Shutdown(ctx), m.metrics.Shutdown(ctx))
}
