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

package charttool

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/wcharczuk/go-chart/v2"
)

// Plot types.
const (
	PlotBar  = "bar"
	PlotLine = "line"
	PlotPie  = "pie"
	PlotAuto = "auto"
)

const maxPoints = 60

// Spec is a resolved chart request.
type Spec struct {
	PlotType string
	XColumn  string
	YColumn  string
	Title    string
	Width    int
	Height   int
}

type point struct {
	label string
	x     float64
	y     float64
}

// points extracts (x, y) pairs. Rows without a numeric y are skipped. For
// bar and pie charts repeated labels are summed in first-seen order.
func points(rows []map[string]any, spec Spec, numericX bool) []point {
	var out []point
	index := map[string]int{}
	for _, row := range rows {
		y, ok := toFloat(row[spec.YColumn])
		if !ok {
			continue
		}
		label := fmt.Sprint(row[spec.XColumn])
		if row[spec.XColumn] == nil {
			label = "(none)"
		}
		p := point{label: label, y: y}
		if numericX {
			p.x, ok = toFloat(row[spec.XColumn])
			if !ok {
				continue
			}
		}
		if spec.PlotType != PlotLine {
			if i, seen := index[label]; seen {
				out[i].y += y
				continue
			}
			index[label] = len(out)
		}
		out = append(out, p)
	}
	if numericX {
		sort.SliceStable(out, func(i, j int) bool { return out[i].x < out[j].x })
	}
	if len(out) > maxPoints {
		out = out[:maxPoints]
	}
	return out
}

// Render draws the chart as PNG.
func Render(rows []map[string]any, spec Spec, numericX bool) ([]byte, int, error) {
	pts := points(rows, spec, numericX)
	if len(pts) == 0 {
		return nil, 0, fmt.Errorf("no plottable rows: %q has no numeric values", spec.YColumn)
	}

	var buf bytes.Buffer
	var err error
	switch spec.PlotType {
	case PlotBar:
		err = renderBar(&buf, pts, spec)
	case PlotLine:
		err = renderLine(&buf, pts, spec, numericX)
	case PlotPie:
		err = renderPie(&buf, pts, spec)
	default:
		return nil, 0, fmt.Errorf("unsupported plot type %q", spec.PlotType)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("render %s chart: %w", spec.PlotType, err)
	}
	return buf.Bytes(), len(pts), nil
}

func renderBar(buf *bytes.Buffer, pts []point, spec Spec) error {
	lo, hi := 0.0, 0.0
	bars := make([]chart.Value, len(pts))
	for i, p := range pts {
		bars[i] = chart.Value{Label: p.label, Value: p.y}
		lo = math.Min(lo, p.y)
		hi = math.Max(hi, p.y)
	}
	if lo == hi {
		hi = lo + 1
	}
	graph := chart.BarChart{
		Title:      spec.Title,
		Width:      spec.Width,
		Height:     spec.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		BarWidth:   barWidth(spec.Width, len(bars)),
		YAxis: chart.YAxis{
			Name:  spec.YColumn,
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, buf)
}

func barWidth(width, n int) int {
	w := (width - 120) / (n * 2)
	return max(8, min(w, 60))
}

func renderLine(buf *bytes.Buffer, pts []point, spec Spec, numericX bool) error {
	if len(pts) < 2 {
		return fmt.Errorf("a line chart needs at least 2 points, got %d", len(pts))
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range pts {
		xs[i] = float64(i)
		if numericX {
			xs[i] = p.x
		}
		ys[i] = p.y
		lo = math.Min(lo, p.y)
		hi = math.Max(hi, p.y)
	}
	if xs[0] == xs[len(xs)-1] {
		return fmt.Errorf("x values of %q do not vary", spec.XColumn)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	xAxis := chart.XAxis{Name: spec.XColumn}
	if !numericX {
		step := max(1, len(pts)/12)
		for i := 0; i < len(pts); i += step {
			xAxis.Ticks = append(xAxis.Ticks, chart.Tick{Value: float64(i), Label: pts[i].label})
		}
	}

	graph := chart.Chart{
		Title:      spec.Title,
		Width:      spec.Width,
		Height:     spec.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		XAxis:      xAxis,
		YAxis: chart.YAxis{
			Name:  spec.YColumn,
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    spec.YColumn,
				Style:   chart.Style{StrokeWidth: 2, DotWidth: 3},
				XValues: xs,
				YValues: ys,
			},
		},
	}
	return graph.Render(chart.PNG, buf)
}

func renderPie(buf *bytes.Buffer, pts []point, spec Spec) error {
	var values []chart.Value
	for _, p := range pts {
		if p.y > 0 {
			values = append(values, chart.Value{Label: p.label, Value: p.y})
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("a pie chart needs at least one positive value in %q", spec.YColumn)
	}
	graph := chart.PieChart{
		Title:  spec.Title,
		Width:  spec.Width,
		Height: spec.Height,
		Values: values,
	}
	return graph.Render(chart.PNG, buf)
}
