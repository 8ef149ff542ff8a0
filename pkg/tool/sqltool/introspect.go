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

package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/querydesk/pkg/config"
)

// Column is one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Table is one table with a few example rows.
type Table struct {
	Name    string           `json:"name"`
	Columns []Column         `json:"columns"`
	Samples []map[string]any `json:"sample_data"`
}

// DatabaseSchema is the introspected structure of a database.
type DatabaseSchema struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Table looks up a table by name, case-insensitively.
func (s *DatabaseSchema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Overview lists tables with their column names.
func (s *DatabaseSchema) Overview() string {
	var b strings.Builder
	b.WriteString("Database Schema Overview:\n")
	for _, t := range s.Tables {
		names := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, "\nTable: %s\n  Columns: %d\n  Column names: %s\n  Sample rows: %d\n",
			t.Name, len(t.Columns), strings.Join(names, ", "), len(t.Samples))
	}
	return b.String()
}

// Prompt renders the schema for SQL generation, including typed columns
// and sample rows.
func (s *DatabaseSchema) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database Schema (%s):\n", s.Dialect)
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "\nTable: %s\nColumns:\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s (%s)\n", c.Name, c.Type)
		}
		if len(t.Samples) > 0 {
			fmt.Fprintf(&b, "Sample rows: %v\n", t.Samples)
		}
	}
	return b.String()
}

// Introspector reads and caches the schema of a database.
type Introspector struct {
	db         *sql.DB
	dialect    string
	sampleRows int

	mu     sync.Mutex
	cached *DatabaseSchema
}

func NewIntrospector(db *sql.DB, dialect string, sampleRows int) *Introspector {
	return &Introspector{db: db, dialect: dialect, sampleRows: sampleRows}
}

// Schema returns the cached schema, introspecting on first use.
func (in *Introspector) Schema(ctx context.Context) (*DatabaseSchema, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cached != nil {
		return in.cached, nil
	}
	s, err := in.inspect(ctx)
	if err != nil {
		return nil, err
	}
	in.cached = s
	return s, nil
}

// Invalidate drops the cached schema, e.g. after a table was ingested.
func (in *Introspector) Invalidate() {
	in.mu.Lock()
	in.cached = nil
	in.mu.Unlock()
}

func (in *Introspector) inspect(ctx context.Context) (*DatabaseSchema, error) {
	var (
		tables []Table
		err    error
	)
	switch in.dialect {
	case config.DialectSQLite:
		tables, err = in.sqliteTables(ctx)
	case config.DialectPostgres:
		tables, err = in.informationSchema(ctx, "current_schema()")
	case config.DialectMySQL:
		tables, err = in.informationSchema(ctx, "DATABASE()")
	default:
		return nil, fmt.Errorf("unsupported dialect %q", in.dialect)
	}
	if err != nil {
		return nil, err
	}

	for i := range tables {
		if in.sampleRows <= 0 {
			break
		}
		q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", QuoteIdent(in.dialect, tables[i].Name), in.sampleRows)
		res, err := runQuery(ctx, in.db, q, in.sampleRows)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", tables[i].Name, err)
		}
		tables[i].Samples = res.Rows
	}
	return &DatabaseSchema{Dialect: in.dialect, Tables: tables}, nil
}

func (in *Introspector) sqliteTables(ctx context.Context) ([]Table, error) {
	rows, err := in.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := in.sqliteColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func (in *Introspector) sqliteColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(config.DialectSQLite, table)))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: typ, Nullable: notNull == 0})
	}
	return cols, rows.Err()
}

func (in *Introspector) informationSchema(ctx context.Context, schemaExpr string) ([]Table, error) {
	q := "SELECT table_name, column_name, data_type, is_nullable FROM information_schema.columns " +
		"WHERE table_schema = " + schemaExpr + " ORDER BY table_name, ordinal_position"
	rows, err := in.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read information_schema: %w", err)
	}
	defer rows.Close()

	byName := map[string]*Table{}
	for rows.Next() {
		var table, col, typ, nullable string
		if err := rows.Scan(&table, &col, &typ, &nullable); err != nil {
			return nil, fmt.Errorf("scan information_schema: %w", err)
		}
		t, ok := byName[table]
		if !ok {
			t = &Table{Name: table}
			byName[table] = t
		}
		t.Columns = append(t.Columns, Column{Name: col, Type: typ, Nullable: strings.EqualFold(nullable, "YES")})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(byName))
	for _, t := range byName {
		tables = append(tables, *t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

// QuoteIdent quotes an identifier for the dialect.
func QuoteIdent(dialect, name string) string {
	if dialect == config.DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
