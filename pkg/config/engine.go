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

// Storage backends shared by the conversation store and the rate limiter.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// EngineConfig bounds a single turn of the decision engine.
type EngineConfig struct {
	// MaxIterations caps Acting steps per turn.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"title=Max Iterations,minimum=1,default=5"`

	// ContextWindow is the number of prior turns shown to the model.
	ContextWindow int `yaml:"context_window,omitempty" json:"context_window,omitempty" jsonschema:"title=Context Window,minimum=0,default=5"`

	TurnTimeout time.Duration `yaml:"turn_timeout,omitempty" json:"turn_timeout,omitempty" jsonschema:"title=Turn Timeout,default=120s"`

	// MaxProviderAttempts bounds credential failover within one reasoning
	// step. Zero means pool size + 1.
	MaxProviderAttempts int `yaml:"max_provider_attempts,omitempty" json:"max_provider_attempts,omitempty" jsonschema:"title=Max Provider Attempts,minimum=0"`

	// MaxContextTokens drops the oldest prior turns until the context fits.
	// Zero disables the budget.
	MaxContextTokens int `yaml:"max_context_tokens,omitempty" json:"max_context_tokens,omitempty" jsonschema:"title=Max Context Tokens,minimum=0"`

	// IncludeAborted shows aborted prior turns to the model.
	IncludeAborted *bool `yaml:"include_aborted,omitempty" json:"include_aborted,omitempty" jsonschema:"title=Include Aborted Turns,default=true"`

	// Instruction replaces the default system instruction.
	Instruction string `yaml:"instruction,omitempty" json:"instruction,omitempty" jsonschema:"title=System Instruction"`
}

func (c *EngineConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 5
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 5
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 120 * time.Second
	}
	if c.IncludeAborted == nil {
		c.IncludeAborted = BoolPtr(true)
	}
}

func (c *EngineConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if c.ContextWindow < 0 || c.MaxProviderAttempts < 0 || c.MaxContextTokens < 0 {
		return fmt.Errorf("context_window, max_provider_attempts and max_context_tokens must be non-negative")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive")
	}
	return nil
}

// ConversationsConfig selects the conversation store.
type ConversationsConfig struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,enum=redis,default=memory"`

	// Database references databases.<name> for the sql backend.
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,default=default"`

	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty" jsonschema:"title=Redis URL,description=redis://host:port/db"`

	// Retention caps the turns kept per conversation. Zero keeps every
	// turn; the oldest are evicted at append time otherwise.
	Retention int `yaml:"retention,omitempty" json:"retention,omitempty" jsonschema:"title=Retention,minimum=0,default=0"`

	// TTL expires idle conversations in redis. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"title=Idle TTL"`

	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty" jsonschema:"title=Redis Key Prefix,default=querydesk:conv:"`
}

func (c *ConversationsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "querydesk:conv:"
	}
}

func (c *ConversationsConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql, redis)", c.Backend)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must be non-negative")
	}
	return nil
}
