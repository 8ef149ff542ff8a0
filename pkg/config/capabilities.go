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

package config

import (
	"fmt"
	"time"
)

// CapabilitiesConfig enables and tunes the built-in tools.
type CapabilitiesConfig struct {
	SQL       SQLCapabilityConfig       `yaml:"sql,omitempty" json:"sql,omitempty" jsonschema:"title=SQL"`
	Retrieval RetrievalCapabilityConfig `yaml:"retrieval,omitempty" json:"retrieval,omitempty" jsonschema:"title=Document Retrieval"`
	Chart     ChartCapabilityConfig     `yaml:"chart,omitempty" json:"chart,omitempty" jsonschema:"title=Charts"`
}

func (c *CapabilitiesConfig) SetDefaults() {
	c.SQL.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Chart.SetDefaults()
}

func (c *CapabilitiesConfig) Validate() error {
	if err := c.SQL.Validate(); err != nil {
		return fmt.Errorf("sql: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Chart.Validate(); err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	return nil
}

// SQLCapabilityConfig configures sql_query and sql_schema.
type SQLCapabilityConfig struct {
	Enabled  *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=true"`
	Database string        `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,default=default"`
	MaxRows  int           `yaml:"max_rows,omitempty" json:"max_rows,omitempty" jsonschema:"title=Max Rows,minimum=1,default=500"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=30s"`

	// SampleRows is the number of example rows shown per table.
	SampleRows int `yaml:"sample_rows,omitempty" json:"sample_rows,omitempty" jsonschema:"title=Sample Rows,minimum=0,default=3"`
}

func (c *SQLCapabilityConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.MaxRows == 0 {
		c.MaxRows = 500
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.SampleRows == 0 {
		c.SampleRows = 3
	}
}

func (c *SQLCapabilityConfig) Validate() error {
	if c.MaxRows < 1 {
		return fmt.Errorf("max_rows must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *SQLCapabilityConfig) IsEnabled() bool { return BoolValue(c.Enabled, true) }

// RetrievalCapabilityConfig configures document_search.
type RetrievalCapabilityConfig struct {
	Enabled        *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=true"`
	Collection     string        `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"title=Collection,default=documents"`
	DefaultResults int           `yaml:"default_results,omitempty" json:"default_results,omitempty" jsonschema:"title=Default Results,minimum=1,maximum=10,default=5"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=15s"`
}

func (c *RetrievalCapabilityConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.DefaultResults == 0 {
		c.DefaultResults = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

func (c *RetrievalCapabilityConfig) Validate() error {
	if c.DefaultResults < 1 || c.DefaultResults > 10 {
		return fmt.Errorf("default_results must be between 1 and 10")
	}
	return nil
}

func (c *RetrievalCapabilityConfig) IsEnabled() bool { return BoolValue(c.Enabled, true) }

// ChartCapabilityConfig configures create_chart and analyze_data.
type ChartCapabilityConfig struct {
	Enabled *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=true"`
	Width   int           `yaml:"width,omitempty" json:"width,omitempty" jsonschema:"title=Width,default=800"`
	Height  int           `yaml:"height,omitempty" json:"height,omitempty" jsonschema:"title=Height,default=500"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=15s"`
}

func (c *ChartCapabilityConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Width == 0 {
		c.Width = 800
	}
	if c.Height == 0 {
		c.Height = 500
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

func (c *ChartCapabilityConfig) Validate() error {
	if c.Width < 100 || c.Height < 100 {
		return fmt.Errorf("width and height must be at least 100")
	}
	return nil
}

func (c *ChartCapabilityConfig) IsEnabled() bool { return BoolValue(c.Enabled, true) }

// Vector store types.
const (
	VectorChromem = "chromem"
	VectorQdrant  = "qdrant"
)

// VectorStoreConfig selects the similarity index.
type VectorStoreConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Type,enum=chromem,enum=qdrant,default=chromem"`

	// PersistPath stores the chromem database on disk. Empty keeps it in
	// memory.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty" jsonschema:"title=Persist Path,default=./data/vectors"`
	Compress    bool   `yaml:"compress,omitempty" json:"compress,omitempty" jsonschema:"title=Compress"`

	Host   string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Qdrant Host,default=localhost"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Qdrant gRPC Port,default=6334"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=Qdrant API Key"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = VectorChromem
	}
	if c.Type == VectorChromem && c.PersistPath == "" {
		c.PersistPath = "./data/vectors"
	}
	if c.Type == VectorQdrant {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case VectorChromem, VectorQdrant:
		return nil
	default:
		return fmt.Errorf("invalid type %q (valid: chromem, qdrant)", c.Type)
	}
}
