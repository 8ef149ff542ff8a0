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

// Package sqltool provides the structured-query capabilities: sql_query,
// which executes or generates a read-only statement, and sql_schema,
// which describes the database.
package sqltool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/functiontool"
)

const (
	QueryToolName  = "sql_query"
	SchemaToolName = "sql_schema"

	DefaultMaxRows    = 500
	DefaultSampleRows = 3
)

// ErrNoTranslator is returned for a natural-language question when no
// translator is configured.
var ErrNoTranslator = errors.New("natural-language questions require a SQL translator")

// Config configures a Toolset.
type Config struct {
	DB         *sql.DB
	Dialect    string
	MaxRows    int
	SampleRows int
	Timeout    time.Duration

	// Translator generates SQL for questions that are not already a
	// SELECT statement. Optional.
	Translator Translator
}

// Toolset is the pair of SQL capabilities over one database.
type Toolset struct {
	cfg          Config
	introspector *Introspector
}

func New(cfg Config) (*Toolset, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("sqltool: database is required")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = config.DialectSQLite
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.SampleRows < 0 {
		cfg.SampleRows = 0
	}
	return &Toolset{
		cfg:          cfg,
		introspector: NewIntrospector(cfg.DB, cfg.Dialect, cfg.SampleRows),
	}, nil
}

// FromConfig opens the configured database through dbs and builds the
// toolset.
func FromConfig(ctx context.Context, capCfg *config.SQLCapabilityConfig, dbCfg *config.DatabaseConfig, dbs *config.DBPool, tr Translator) (*Toolset, error) {
	db, err := dbs.Get(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("sqltool: %w", err)
	}
	return New(Config{
		DB:         db,
		Dialect:    dbCfg.Dialect(),
		MaxRows:    capCfg.MaxRows,
		SampleRows: capCfg.SampleRows,
		Timeout:    capCfg.Timeout,
		Translator: tr,
	})
}

func (t *Toolset) Introspector() *Introspector { return t.introspector }

// QueryArgs are the sql_query arguments.
type QueryArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"A SELECT statement, or a natural-language question about the data to translate into SQL"`
}

// SchemaArgs are the sql_schema arguments.
type SchemaArgs struct {
	TableName string `json:"table_name,omitempty" jsonschema_description:"Optional table to describe; omit for an overview of all tables"`
}

// Capabilities returns sql_query and sql_schema.
func (t *Toolset) Capabilities() ([]tool.Capability, error) {
	query, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name:        QueryToolName,
			Description: "Query the structured database. Accepts a SELECT statement or a natural-language question; returns the executed SQL, the columns and the result rows.",
			Timeout:     t.cfg.Timeout,
		},
		func(ctx context.Context, args QueryArgs) (map[string]any, error) {
			return t.Query(ctx, args.Query)
		},
		func(args QueryArgs) error {
			if strings.TrimSpace(args.Query) == "" {
				return ErrEmptyQuery
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	schema, err := functiontool.New(
		functiontool.Config{
			Name:        SchemaToolName,
			Description: "Describe the database: all tables with their columns, or one table's columns and sample rows.",
			Timeout:     t.cfg.Timeout,
		},
		func(ctx context.Context, args SchemaArgs) (map[string]any, error) {
			return t.Describe(ctx, args.TableName)
		},
	)
	if err != nil {
		return nil, err
	}
	return []tool.Capability{query, schema}, nil
}

// Query executes text as SQL when it already is a SELECT statement, and
// otherwise translates it first. Only read-only statements run.
func (t *Toolset) Query(ctx context.Context, text string) (map[string]any, error) {
	stmt := CleanSQL(text)
	if !LooksLikeSQL(stmt) {
		if t.cfg.Translator == nil {
			return nil, ErrNoTranslator
		}
		schema, err := t.introspector.Schema(ctx)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		stmt, err = t.cfg.Translator.Translate(ctx, text, schema)
		if err != nil {
			return nil, err
		}
		stmt = CleanSQL(stmt)
		slog.Debug("Generated SQL", "question", text, "sql", stmt)
	}

	if err := CheckReadOnly(stmt); err != nil {
		return nil, fmt.Errorf("rejected %q: %w", stmt, err)
	}

	res, err := runQuery(ctx, t.cfg.DB, stmt, t.cfg.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("%w (sql: %s)", err, stmt)
	}
	out := map[string]any{
		"sql":       stmt,
		"columns":   res.Columns,
		"data":      res.Rows,
		"row_count": len(res.Rows),
	}
	if res.Truncated {
		out["truncated"] = true
	}
	return out, nil
}

// Describe returns the schema overview, or one table when name is set.
func (t *Toolset) Describe(ctx context.Context, name string) (map[string]any, error) {
	schema, err := t.introspector.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return map[string]any{
			"dialect":  schema.Dialect,
			"tables":   schema.TableNames(),
			"overview": schema.Overview(),
		}, nil
	}
	table, ok := schema.Table(name)
	if !ok {
		return nil, fmt.Errorf("table %q not found; available tables: %s", name, strings.Join(schema.TableNames(), ", "))
	}
	return map[string]any{
		"table":       table.Name,
		"columns":     table.Columns,
		"sample_data": table.Samples,
	}, nil
}
