// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// DatabaseConfig describes one SQL database. It backs the structured-query
// capability, and optionally the conversation store and the rate limiter.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver" jsonschema:"title=Driver,enum=sqlite,enum=sqlite3,enum=postgres,enum=mysql,default=sqlite"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database" json:"database" jsonschema:"title=Database,description=Database name or SQLite file path"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty" jsonschema:"title=Username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"title=Password"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty" jsonschema:"title=SSL Mode,description=PostgreSQL sslmode"`

	// Params are extra driver options appended to the DSN.
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty" jsonschema:"title=Driver Parameters"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"title=Max Open Connections,minimum=1,default=25"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty" jsonschema:"title=Max Idle Connections,minimum=1,default=5"`

	// ReadOnly opens SQLite files read-only for the query capability.
	ReadOnly bool `yaml:"read_only,omitempty" json:"read_only,omitempty" jsonschema:"title=Read Only"`
}

// DefaultSQLite is the zero-config travel database.
func DefaultSQLite() *DatabaseConfig {
	return &DatabaseConfig{Driver: DialectSQLite, Database: "./data/travel.sqlite"}
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DialectSQLite
	}
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	switch c.Dialect() {
	case DialectPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DialectMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Dialect() != DialectSQLite && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

// DSN returns the connection string for sql.Open.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case DialectPostgres:
		parts := []string{
			fmt.Sprintf("host=%s", c.Host),
			fmt.Sprintf("port=%d", c.Port),
			fmt.Sprintf("dbname=%s", c.Database),
		}
		if c.Username != "" {
			parts = append(parts, "user="+c.Username)
		}
		if c.Password != "" {
			parts = append(parts, "password="+c.Password)
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+c.SSLMode)
		}
		for _, k := range sortedKeys(c.Params) {
			parts = append(parts, k+"="+c.Params[k])
		}
		return strings.Join(parts, " ")

	case DialectMySQL:
		params := map[string]string{"parseTime": "true"}
		for k, v := range c.Params {
			params[k] = v
		}
		auth := ""
		if c.Username != "" {
			auth = c.Username
			if c.Password != "" {
				auth += ":" + c.Password
			}
			auth += "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?%s", auth, c.Host, c.Port, c.Database, encodeParams(params))

	case DialectSQLite:
		params := map[string]string{}
		for k, v := range c.Params {
			params[k] = v
		}
		if c.ReadOnly {
			params["mode"] = "ro"
		}
		if len(params) == 0 {
			return c.Database
		}
		return "file:" + c.Database + "?" + encodeParams(params)
	}
	return ""
}

// DriverName returns the database/sql driver name.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == DialectSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect normalizes the driver to one of the Dialect constants.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" || c.Driver == "" {
		return DialectSQLite
	}
	return c.Driver
}

// Placeholder returns the n-th (1-based) bind parameter for the dialect.
func Placeholder(dialect string, n int) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeParams(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(m[k]))
	}
	return strings.Join(parts, "&")
}
