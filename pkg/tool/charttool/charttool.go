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

// Package charttool provides create_chart, which renders rows as a PNG
// chart, and analyze_data, which profiles rows and suggests a plot.
package charttool

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/functiontool"
)

const (
	ChartToolName   = "create_chart"
	AnalyzeToolName = "analyze_data"

	DefaultWidth  = 800
	DefaultHeight = 500
)

type Config struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// FromConfig maps the chart capability settings.
func FromConfig(c *config.ChartCapabilityConfig) Config {
	return Config{Width: c.Width, Height: c.Height, Timeout: c.Timeout}
}

// Toolset holds the chart capabilities.
type Toolset struct {
	cfg Config
}

func New(cfg Config) *Toolset {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	return &Toolset{cfg: cfg}
}

// ChartArgs are the create_chart arguments.
type ChartArgs struct {
	Data     []map[string]any `json:"data" jsonschema:"required" jsonschema_description:"Rows to plot, as objects keyed by column; usually the data returned by sql_query"`
	PlotType string           `json:"plot_type,omitempty" jsonschema:"enum=bar,enum=line,enum=pie,enum=auto" jsonschema_description:"Chart type; auto picks one from the data"`
	XColumn  string           `json:"x_column,omitempty" jsonschema_description:"Column for categories or the x axis; inferred when omitted"`
	YColumn  string           `json:"y_column,omitempty" jsonschema_description:"Numeric column for values; inferred when omitted"`
	Title    string           `json:"title,omitempty"`
}

// AnalyzeArgs are the analyze_data arguments.
type AnalyzeArgs struct {
	Data []map[string]any `json:"data" jsonschema:"required" jsonschema_description:"Rows to analyze, as objects keyed by column"`
}

func requireRows(rows []map[string]any) error {
	if len(rows) == 0 {
		return fmt.Errorf("data must contain at least one row")
	}
	return nil
}

// Capabilities returns create_chart and analyze_data.
func (t *Toolset) Capabilities() ([]tool.Capability, error) {
	chartCap, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name:        ChartToolName,
			Description: "Create a bar, line or pie chart image from tabular rows. Columns are inferred when not given.",
			Timeout:     t.cfg.Timeout,
		},
		t.CreateChart,
		func(args ChartArgs) error { return requireRows(args.Data) },
	)
	if err != nil {
		return nil, err
	}
	analyzeCap, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name:        AnalyzeToolName,
			Description: "Profile tabular rows: shape, column types, numeric summaries and a recommended chart.",
			Timeout:     t.cfg.Timeout,
		},
		func(_ context.Context, args AnalyzeArgs) (map[string]any, error) {
			a := Analyze(args.Data)
			return map[string]any{"analysis": a, "summary": a.Summary()}, nil
		},
		func(args AnalyzeArgs) error { return requireRows(args.Data) },
	)
	if err != nil {
		return nil, err
	}
	return []tool.Capability{chartCap, analyzeCap}, nil
}

// CreateChart resolves columns and plot type, then renders.
func (t *Toolset) CreateChart(ctx context.Context, args ChartArgs) (map[string]any, error) {
	if err := requireRows(args.Data); err != nil {
		return nil, agent.WrapError(agent.KindInvalidArguments, err, "")
	}
	a := Analyze(args.Data)

	spec, numericX, err := resolve(a, args)
	if err != nil {
		return nil, err
	}
	spec.Width, spec.Height = t.cfg.Width, t.cfg.Height

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	png, n, err := Render(args.Data, spec, numericX)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"plot_type":    spec.PlotType,
		"image_base64": base64.StdEncoding.EncodeToString(png),
		"config": map[string]any{
			"x_column": spec.XColumn,
			"y_column": spec.YColumn,
			"title":    spec.Title,
		},
		"points": n,
	}, nil
}

func resolve(a *Analysis, args ChartArgs) (Spec, bool, error) {
	invalid := func(format string, v ...any) error {
		return agent.NewError(agent.KindInvalidArguments, format, v...)
	}
	spec := Spec{
		PlotType: strings.ToLower(strings.TrimSpace(args.PlotType)),
		XColumn:  args.XColumn,
		YColumn:  args.YColumn,
		Title:    args.Title,
	}
	if spec.PlotType == "" {
		spec.PlotType = PlotAuto
	}
	if !slices.Contains([]string{PlotBar, PlotLine, PlotPie, PlotAuto}, spec.PlotType) {
		return spec, false, invalid("unsupported plot_type %q", args.PlotType)
	}

	for _, col := range []string{spec.XColumn, spec.YColumn} {
		if col != "" && !slices.Contains(a.Columns, col) {
			return spec, false, invalid("unknown column %q; available columns: %s", col, strings.Join(a.Columns, ", "))
		}
	}

	if spec.YColumn == "" {
		for _, col := range a.Numeric {
			if col != spec.XColumn {
				spec.YColumn = col
				break
			}
		}
		if spec.YColumn == "" {
			return spec, false, invalid("no numeric column to plot; columns: %s", strings.Join(a.Columns, ", "))
		}
	} else if a.Kinds[spec.YColumn] != KindNumeric {
		return spec, false, invalid("y_column %q is not numeric", spec.YColumn)
	}

	if spec.XColumn == "" {
		spec.XColumn = firstOther(a.Categorical, spec.YColumn)
		if spec.XColumn == "" {
			spec.XColumn = firstOther(a.Numeric, spec.YColumn)
		}
		if spec.XColumn == "" {
			return spec, false, invalid("no column left for the x axis")
		}
	}

	numericX := a.Kinds[spec.XColumn] == KindNumeric
	if spec.PlotType == PlotAuto {
		spec.PlotType = PlotBar
		if numericX {
			spec.PlotType = PlotLine
		}
	}
	if spec.PlotType != PlotLine {
		numericX = false
	}
	if spec.Title == "" {
		spec.Title = fmt.Sprintf("%s by %s", spec.YColumn, spec.XColumn)
	}
	return spec, numericX, nil
}

func firstOther(cols []string, exclude string) string {
	for _, c := range cols {
		if c != exclude {
			return c
		}
	}
	return ""
}
