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
	"time"
)

// Selection policies for the credential pool.
const (
	PolicyRoundRobin     = "round_robin"
	PolicyWeightedRandom = "weighted_random"
)

// LLMConfig configures the reasoning service.
type LLMConfig struct {
	// Provider is the reasoning backend. Only "gemini" is supported.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=gemini,default=gemini"`

	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=gemini-2.5-flash-lite"`

	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.1"`

	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Output Tokens,default=2048"`

	// Timeout bounds a single reasoning call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Call Timeout,default=60s"`

	// SQLModel is used for natural language to SQL translation. Defaults
	// to Model.
	SQLModel string `yaml:"sql_model,omitempty" json:"sql_model,omitempty" jsonschema:"title=SQL Translation Model"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Model == "" {
		c.Model = "gemini-2.5-flash-lite"
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.1)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.SQLModel == "" {
		c.SQLModel = c.Model
	}
}

func (c *LLMConfig) Validate() error {
	if c.Provider != "gemini" {
		return fmt.Errorf("unsupported provider %q (valid: gemini)", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}

// CredentialEntry is one statically configured provider key.
type CredentialEntry struct {
	ID     string `yaml:"id,omitempty" json:"id,omitempty" jsonschema:"title=ID,description=Stable identifier used in logs and status"`
	Key    string `yaml:"key" json:"key" jsonschema:"title=Key,description=Provider API key (supports ${ENV} expansion)"`
	Weight int    `yaml:"weight,omitempty" json:"weight,omitempty" jsonschema:"title=Weight,description=Relative weight for weighted_random,minimum=1,default=1"`
}

// CredentialsConfig configures the credential pool.
type CredentialsConfig struct {
	Keys []CredentialEntry `yaml:"keys,omitempty" json:"keys,omitempty" jsonschema:"title=Keys"`

	// FromEnv discovers EnvPrefix, EnvPrefix_1 ... EnvPrefix_9.
	FromEnv *bool `yaml:"from_env,omitempty" json:"from_env,omitempty" jsonschema:"title=Discover From Environment,default=true"`

	EnvPrefix string `yaml:"env_prefix,omitempty" json:"env_prefix,omitempty" jsonschema:"title=Environment Prefix,default=GOOGLE_API_KEY"`

	Policy string `yaml:"policy,omitempty" json:"policy,omitempty" jsonschema:"title=Selection Policy,enum=round_robin,enum=weighted_random,default=round_robin"`

	// BaseCooldown is the cool-down after the first rate limit; it doubles
	// per consecutive failure up to MaxCooldown.
	BaseCooldown time.Duration `yaml:"base_cooldown,omitempty" json:"base_cooldown,omitempty" jsonschema:"title=Base Cool-down,default=30s"`
	MaxCooldown  time.Duration `yaml:"max_cooldown,omitempty" json:"max_cooldown,omitempty" jsonschema:"title=Max Cool-down,default=10m"`

	// RequestsPerMinute is the client-side quota per key. Zero disables the
	// guard.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty" jsonschema:"title=Requests Per Minute,minimum=0,default=30"`
}

func (c *CredentialsConfig) SetDefaults() {
	if c.FromEnv == nil {
		c.FromEnv = BoolPtr(true)
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "GOOGLE_API_KEY"
	}
	if c.Policy == "" {
		c.Policy = PolicyRoundRobin
	}
	if c.BaseCooldown == 0 {
		c.BaseCooldown = 30 * time.Second
	}
	if c.MaxCooldown == 0 {
		c.MaxCooldown = 10 * time.Minute
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 30
	}
	for i := range c.Keys {
		if c.Keys[i].ID == "" {
			c.Keys[i].ID = fmt.Sprintf("key-%d", i+1)
		}
		if c.Keys[i].Weight == 0 {
			c.Keys[i].Weight = 1
		}
	}
}

func (c *CredentialsConfig) Validate() error {
	switch c.Policy {
	case PolicyRoundRobin, PolicyWeightedRandom:
	default:
		return fmt.Errorf("invalid policy %q (valid: %s, %s)", c.Policy, PolicyRoundRobin, PolicyWeightedRandom)
	}
	if c.BaseCooldown <= 0 || c.MaxCooldown < c.BaseCooldown {
		return fmt.Errorf("cool-downs must satisfy 0 < base_cooldown <= max_cooldown")
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be non-negative")
	}
	seen := map[string]bool{}
	for _, k := range c.Keys {
		if seen[k.ID] {
			return fmt.Errorf("duplicate credential id %q", k.ID)
		}
		seen[k.ID] = true
		if k.Weight < 0 {
			return fmt.Errorf("credential %q: weight must be positive", k.ID)
		}
	}
	return nil
}

// EmbedderConfig configures query and document embeddings.
type EmbedderConfig struct {
	Provider  string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=gemini,default=gemini"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=text-embedding-004"`
	Dimension int    `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,default=768"`

	// BatchSize is the number of chunks embedded per request during
	// ingestion.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty" jsonschema:"title=Batch Size,default=32"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Provider != "gemini" {
		return fmt.Errorf("unsupported provider %q (valid: gemini)", c.Provider)
	}
	if c.Dimension <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("dimension and batch_size must be positive")
	}
	return nil
}
