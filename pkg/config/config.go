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

// Package config defines the querydesk configuration and its loading
// pipeline.
//
// Configuration flows through:
//
//	provider bytes -> YAML/JSON map -> env expansion -> mapstructure decode
//	-> SetDefaults -> Validate
//
// Example:
//
//	llm:
//	  model: gemini-2.5-flash-lite
//	credentials:
//	  policy: round_robin
//	engine:
//	  max_iterations: 5
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./data/travel.sqlite
package config

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/querydesk/pkg/observability"
)

// DefaultDatabase is the name of the database capabilities use when none is
// referenced explicitly.
const DefaultDatabase = "default"

// Config is the root configuration.
type Config struct {
	// Name identifies this deployment in the agent card and traces.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Deployment name,default=querydesk"`

	Server        ServerConfig               `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server"`
	LLM           LLMConfig                  `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=Reasoning Model"`
	Credentials   CredentialsConfig          `yaml:"credentials,omitempty" json:"credentials,omitempty" jsonschema:"title=Credential Pool"`
	Engine        EngineConfig               `yaml:"engine,omitempty" json:"engine,omitempty" jsonschema:"title=Decision Engine"`
	Conversations ConversationsConfig        `yaml:"conversations,omitempty" json:"conversations,omitempty" jsonschema:"title=Conversation Store"`
	Databases     map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty" jsonschema:"title=Databases,description=Named SQL databases"`
	Capabilities  CapabilitiesConfig         `yaml:"capabilities,omitempty" json:"capabilities,omitempty" jsonschema:"title=Capabilities"`
	VectorStore   VectorStoreConfig          `yaml:"vector_store,omitempty" json:"vector_store,omitempty" jsonschema:"title=Vector Store"`
	Embedder      EmbedderConfig             `yaml:"embedder,omitempty" json:"embedder,omitempty" jsonschema:"title=Embedder"`
	RateLimit     RateLimitConfig            `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" jsonschema:"title=Request Rate Limiting"`
	Observability observability.Config       `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability"`
	Auth          AuthConfig                 `yaml:"auth,omitempty" json:"auth,omitempty" jsonschema:"title=Authentication"`
	Logger        LoggerConfig               `yaml:"logger,omitempty" json:"logger,omitempty" jsonschema:"title=Logging"`
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "querydesk"
	}

	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Credentials.SetDefaults()
	c.Engine.SetDefaults()
	c.Conversations.SetDefaults()

	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	if len(c.Databases) == 0 {
		c.Databases[DefaultDatabase] = DefaultSQLite()
	}
	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}

	c.Capabilities.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Observability.SetDefaults()
	c.Auth.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks the configuration. It expects SetDefaults to have run.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		fn      func() error
	}{
		{"server", c.Server.Validate},
		{"llm", c.LLM.Validate},
		{"credentials", c.Credentials.Validate},
		{"engine", c.Engine.Validate},
		{"conversations", c.Conversations.Validate},
		{"capabilities", c.Capabilities.Validate},
		{"vector_store", c.VectorStore.Validate},
		{"embedder", c.Embedder.Validate},
		{"rate_limit", c.RateLimit.Validate},
		{"observability", c.Observability.Validate},
		{"auth", c.Auth.Validate},
		{"logger", c.Logger.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("%s: %w", check.section, err)
		}
	}

	for _, name := range c.DatabaseNames() {
		db := c.Databases[name]
		if db == nil {
			return fmt.Errorf("databases.%s: empty definition", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}

	refs := map[string]string{}
	if c.Capabilities.SQL.IsEnabled() {
		refs["capabilities.sql.database"] = c.Capabilities.SQL.Database
	}
	if c.Conversations.Backend == BackendSQL {
		refs["conversations.database"] = c.Conversations.Database
	}
	if c.RateLimit.IsEnabled() && c.RateLimit.Backend == BackendSQL {
		refs["rate_limit.database"] = c.RateLimit.Database
	}
	for field, ref := range refs {
		if _, ok := c.Databases[ref]; !ok {
			return fmt.Errorf("%s: unknown database %q", field, ref)
		}
	}

	return nil
}

// Database returns the named database definition.
func (c *Config) Database(name string) (*DatabaseConfig, error) {
	if name == "" {
		name = DefaultDatabase
	}
	db, ok := c.Databases[name]
	if !ok || db == nil {
		return nil, fmt.Errorf("database %q is not configured", name)
	}
	return db, nil
}

// DatabaseNames returns configured database names in sorted order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences b, returning def when b is nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 {
	return &f
}
