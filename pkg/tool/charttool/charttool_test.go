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

package charttool_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/charttool"
)

func flightRows() []map[string]any {
	return []map[string]any{
		{"airline": "VN Air", "price": 120.5},
		{"airline": "VN Air", "price": 80.0},
		{"airline": "Bamboo", "price": 95.0},
		{"airline": "Vietjet", "price": 60.0},
	}
}

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	caps, err := charttool.New(charttool.Config{Width: 640, Height: 400}).Capabilities()
	require.NoError(t, err)
	reg, err := tool.NewRegistry(caps)
	require.NoError(t, err)
	return reg
}

func decodePNG(t *testing.T, result map[string]any) image.Config {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(result["image_base64"].(string))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	return cfg
}

func TestCreateChart_InfersColumns(t *testing.T) {
	ts := charttool.New(charttool.Config{Width: 640, Height: 400})

	result, err := ts.CreateChart(context.Background(), charttool.ChartArgs{Data: flightRows()})
	require.NoError(t, err)

	assert.Equal(t, charttool.PlotBar, result["plot_type"])
	cfg := result["config"].(map[string]any)
	assert.Equal(t, "airline", cfg["x_column"])
	assert.Equal(t, "price", cfg["y_column"])
	assert.Equal(t, "price by airline", cfg["title"])
	// Duplicate airlines are summed into one bar.
	assert.Equal(t, 3, result["points"])

	img := decodePNG(t, result)
	assert.Equal(t, 640, img.Width)
	assert.Equal(t, 400, img.Height)
}

func TestCreateChart_PlotTypes(t *testing.T) {
	ts := charttool.New(charttool.Config{})
	series := []map[string]any{
		{"month": 1, "bookings": 10},
		{"month": 2, "bookings": 14},
		{"month": 3, "bookings": 9},
	}

	tests := []struct {
		name     string
		args     charttool.ChartArgs
		wantType string
	}{
		{"auto numeric x", charttool.ChartArgs{Data: series}, charttool.PlotLine},
		{"explicit line", charttool.ChartArgs{Data: series, PlotType: "line", XColumn: "month", YColumn: "bookings"}, charttool.PlotLine},
		{"pie", charttool.ChartArgs{Data: flightRows(), PlotType: "pie"}, charttool.PlotPie},
		{"bar upper case", charttool.ChartArgs{Data: flightRows(), PlotType: "BAR"}, charttool.PlotBar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ts.CreateChart(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, result["plot_type"])
			img := decodePNG(t, result)
			assert.Equal(t, charttool.DefaultWidth, img.Width)
		})
	}
}

func TestCreateChart_InvalidArguments(t *testing.T) {
	reg := newRegistry(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"empty data", map[string]any{"data": []any{}}},
		{"missing data", map[string]any{"plot_type": "bar"}},
		{"unknown column", map[string]any{"data": []any{map[string]any{"a": "x", "b": 1}}, "y_column": "nope"}},
		{"non numeric y", map[string]any{"data": []any{map[string]any{"a": "x", "b": 1}}, "y_column": "a"}},
		{"no numeric column", map[string]any{"data": []any{map[string]any{"a": "x"}}}},
		{"bad plot type", map[string]any{"data": []any{map[string]any{"a": "x", "b": 1}}, "plot_type": "radar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := reg.Dispatch(context.Background(), charttool.ChartToolName, tt.args, 1)
			require.False(t, action.Success)
			require.NotNil(t, action.Error)
			assert.Equal(t, agent.KindInvalidArguments, action.Error.Kind)
		})
	}
}

func TestCreateChart_RenderFailure(t *testing.T) {
	reg := newRegistry(t)

	action := reg.Dispatch(context.Background(), charttool.ChartToolName, map[string]any{
		"data": []any{
			map[string]any{"airline": "A", "price": 0},
			map[string]any{"airline": "B", "price": -3},
		},
		"plot_type": "pie",
	}, 1)
	require.False(t, action.Success)
	assert.Equal(t, agent.KindCapabilityFailure, action.Error.Kind)
	assert.Contains(t, action.Error.Message, "positive value")
}

func TestCreateChart_LineNeedsVaryingX(t *testing.T) {
	ts := charttool.New(charttool.Config{})
	_, err := ts.CreateChart(context.Background(), charttool.ChartArgs{
		Data:     []map[string]any{{"x": 1, "y": 2}, {"x": 1, "y": 3}},
		PlotType: "line",
	})
	assert.Error(t, err)
}

func TestAnalyzeData(t *testing.T) {
	reg := newRegistry(t)

	action := reg.Dispatch(context.Background(), charttool.AnalyzeToolName, map[string]any{
		"data": []any{
			map[string]any{"airline": "VN Air", "price": 120.5},
			map[string]any{"airline": "Bamboo", "price": "95"},
			map[string]any{"airline": "Vietjet", "price": 60},
		},
	}, 1)
	require.True(t, action.Success, "%+v", action.Error)

	result := action.Result.(map[string]any)
	a := result["analysis"].(*charttool.Analysis)
	assert.Equal(t, 3, a.Rows)
	assert.Equal(t, []string{"airline", "price"}, a.Columns)
	assert.Equal(t, []string{"price"}, a.Numeric)
	assert.Equal(t, []string{"airline"}, a.Categorical)
	require.Len(t, a.Summaries, 1)
	assert.Equal(t, 60.0, a.Summaries[0].Min)
	assert.Equal(t, 120.5, a.Summaries[0].Max)
	assert.Equal(t, []string{charttool.PlotBar, charttool.PlotPie}, a.Recommendation.PlotTypes)

	summary := result["summary"].(string)
	assert.Contains(t, summary, "Shape: 3 rows x 2 columns")
	assert.Contains(t, summary, "Recommended: bar or pie (x=airline, y=price)")
}

func TestAnalyze_CategoricalOnly(t *testing.T) {
	a := charttool.Analyze([]map[string]any{{"city": "Hanoi"}, {"city": "Hanoi"}, {"city": "Danang"}})
	assert.Empty(t, a.Numeric)
	assert.Equal(t, "city", a.Recommendation.XColumn)
	assert.Contains(t, a.Recommendation.Note, "Hanoi")
}
