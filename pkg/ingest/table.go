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

package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/tool/sqltool"
)

// TableOptions controls ImportTable.
type TableOptions struct {
	// Table defaults to the file name without extension.
	Table string
	// Sheet selects an XLSX sheet; the first sheet when empty.
	Sheet string
	// Replace drops an existing table of the same name first.
	Replace bool
}

// TableStats describes an imported table.
type TableStats struct {
	Table   string            `json:"table"`
	Rows    int               `json:"rows"`
	Columns map[string]string `json:"columns"`
}

type columnType int

const (
	colInteger columnType = iota
	colReal
	colText
)

func (t columnType) sql() string {
	switch t {
	case colInteger:
		return "BIGINT"
	case colReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// ImportTable loads a CSV file or an XLSX sheet into a SQL table. The first
// row names the columns; column types are inferred from the values.
func ImportTable(ctx context.Context, db *sql.DB, dialect, path string, opts TableOptions) (*TableStats, error) {
	records, err := readRecords(path, opts.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header row", path)
	}

	table := opts.Table
	if table == "" {
		table = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	table = Identifier(table)

	header := uniqueColumns(records[0])
	rows := records[1:]
	types := inferTypes(len(header), rows)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	quoted := sqltool.QuoteIdent(dialect, table)
	if opts.Replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
			return nil, fmt.Errorf("drop %s: %w", table, err)
		}
	}

	defs := make([]string, len(header))
	cols := make([]string, len(header))
	marks := make([]string, len(header))
	stats := &TableStats{Table: table, Columns: make(map[string]string, len(header))}
	for i, name := range header {
		cols[i] = sqltool.QuoteIdent(dialect, name)
		defs[i] = cols[i] + " " + types[i].sql()
		marks[i] = config.Placeholder(dialect, i+1)
		stats.Columns[name] = types[i].sql()
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", "))); err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoted, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	args := make([]any, len(header))
	for _, rec := range rows {
		if blank(rec) {
			continue
		}
		for i := range header {
			args[i] = convert(cell(rec, i), types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("insert row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Info("Imported table", "table", table, "rows", stats.Rows, "columns", len(header))
	return stats, nil
}

func readRecords(path, sheet string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		return r.ReadAll()
	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		return f.GetRows(sheet)
	default:
		return nil, ErrUnsupported
	}
}

// Identifier lowercases name and collapses every run of other characters
// into one underscore.
func Identifier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case !strings.HasSuffix(b.String(), "_"):
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "col"
	}
	if unicode.IsDigit(rune(s[0])) {
		s = "t_" + s
	}
	return s
}

func uniqueColumns(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := Identifier(h)
		if h == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name]++
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

// inferTypes narrows each column to an integer or float type when every non-empty
// value parses as one.
func inferTypes(n int, rows [][]string) []columnType {
	types := make([]columnType, n)
	for _, rec := range rows {
		for i := range types {
			v := cell(rec, i)
			if v == "" || types[i] == colText {
				continue
			}
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				types[i] = colReal
				continue
			}
			types[i] = colText
		}
	}
	return types
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func convert(v string, t columnType) any {
	if v == "" {
		return nil
	}
	switch t {
	case colInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case colReal:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return v
	}
}
