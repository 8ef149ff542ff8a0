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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// NumericSummary describes one numeric column.
type NumericSummary struct {
	Column string  `json:"column"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// Recommendation is a suggested plot for the data.
type Recommendation struct {
	XColumn   string   `json:"x_column,omitempty"`
	YColumn   string   `json:"y_column,omitempty"`
	PlotTypes []string `json:"plot_types"`
	Note      string   `json:"note,omitempty"`
}

// Analysis summarizes a table of rows.
type Analysis struct {
	Rows           int              `json:"rows"`
	Columns        []string         `json:"columns"`
	Kinds          map[string]Kind  `json:"kinds"`
	Numeric        []string         `json:"numeric_columns"`
	Categorical    []string         `json:"categorical_columns"`
	Summaries      []NumericSummary `json:"numeric_summary"`
	Recommendation Recommendation   `json:"recommendation"`
}

const maxSummaries = 3

// Analyze infers column kinds, summarizes up to three numeric columns and
// recommends a plot.
func Analyze(rows []map[string]any) *Analysis {
	a := &Analysis{
		Rows:        len(rows),
		Columns:     columnsOf(rows),
		Kinds:       map[string]Kind{},
		Numeric:     []string{},
		Categorical: []string{},
		Summaries:   []NumericSummary{},
	}
	for _, col := range a.Columns {
		k := kindOf(rows, col)
		a.Kinds[col] = k
		if k == KindNumeric {
			a.Numeric = append(a.Numeric, col)
		} else {
			a.Categorical = append(a.Categorical, col)
		}
	}
	for _, col := range a.Numeric {
		if len(a.Summaries) == maxSummaries {
			break
		}
		a.Summaries = append(a.Summaries, summarize(rows, col))
	}
	a.Recommendation = recommend(rows, a)
	return a
}

func recommend(rows []map[string]any, a *Analysis) Recommendation {
	switch {
	case len(a.Categorical) > 0 && len(a.Numeric) > 0:
		return Recommendation{XColumn: a.Categorical[0], YColumn: a.Numeric[0], PlotTypes: []string{PlotBar, PlotPie}}
	case len(a.Numeric) >= 2:
		return Recommendation{XColumn: a.Numeric[0], YColumn: a.Numeric[1], PlotTypes: []string{PlotLine}}
	case len(a.Categorical) > 0:
		col := a.Categorical[0]
		return Recommendation{
			XColumn:   col,
			PlotTypes: []string{PlotPie, PlotBar},
			Note:      fmt.Sprintf("no numeric column; plot counts of %s (top values: %s)", col, strings.Join(topValues(rows, col, 5), ", ")),
		}
	default:
		return Recommendation{PlotTypes: []string{}, Note: "not enough columns to plot"}
	}
}

// Summary renders the analysis as a short report.
func (a *Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shape: %d rows x %d columns\n", a.Rows, len(a.Columns))
	fmt.Fprintf(&b, "Numeric columns: %s\n", strings.Join(a.Numeric, ", "))
	fmt.Fprintf(&b, "Categorical columns: %s\n", strings.Join(a.Categorical, ", "))
	for _, s := range a.Summaries {
		fmt.Fprintf(&b, "%s: min=%.2f, max=%.2f, mean=%.2f\n", s.Column, s.Min, s.Max, s.Mean)
	}
	r := a.Recommendation
	if len(r.PlotTypes) > 0 {
		fmt.Fprintf(&b, "Recommended: %s (x=%s, y=%s)", strings.Join(r.PlotTypes, " or "), r.XColumn, r.YColumn)
	}
	if r.Note != "" {
		fmt.Fprintf(&b, "\n%s", r.Note)
	}
	return b.String()
}

// columnsOf returns the union of row keys, sorted.
func columnsOf(rows []map[string]any) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func kindOf(rows []map[string]any, col string) Kind {
	present := false
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		present = true
		if _, ok := toFloat(v); !ok {
			return KindCategorical
		}
	}
	if !present {
		return KindCategorical
	}
	return KindNumeric
}

func summarize(rows []map[string]any, col string) NumericSummary {
	s := NumericSummary{Column: col, Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	n := 0
	for _, row := range rows {
		f, ok := toFloat(row[col])
		if !ok {
			continue
		}
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
		sum += f
		n++
	}
	if n == 0 {
		return NumericSummary{Column: col}
	}
	s.Mean = sum / float64(n)
	return s
}

func topValues(rows []map[string]any, col string, limit int) []string {
	counts := map[string]int{}
	for _, row := range rows {
		if v, ok := row[col]; ok && v != nil {
			counts[fmt.Sprint(v)]++
		}
	}
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	if len(values) > limit {
		values = values[:limit]
	}
	return values
}

// toFloat accepts JSON numbers, Go numeric types and numeric strings.
func toFloat(v any) (float64, bool) {
	if f, ok := number(v); ok {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
