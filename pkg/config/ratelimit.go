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

// RateLimitConfig limits queries per user on the HTTP surface.
//
// The credential quota guard is configured separately under
// credentials.requests_per_minute but shares the same backend.
type RateLimitConfig struct {
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,enum=redis,default=memory"`

	// Database references databases.<name> for the sql backend.
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,default=default"`

	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty" jsonschema:"title=Redis URL"`

	// Requests allowed per user per Window.
	Requests int           `yaml:"requests,omitempty" json:"requests,omitempty" jsonschema:"title=Requests,minimum=1,default=60"`
	Window   time.Duration `yaml:"window,omitempty" json:"window,omitempty" jsonschema:"title=Window,default=1m"`
}

func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, false)
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Requests == 0 {
		c.Requests = 60
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
}

func (c *RateLimitConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	case BackendRedis:
		if c.IsEnabled() && c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql, redis)", c.Backend)
	}
	if c.Requests < 1 {
		return fmt.Errorf("requests must be at least 1")
	}
	if c.Window < time.Second {
		return fmt.Errorf("window must be at least 1s")
	}
	return nil
}
