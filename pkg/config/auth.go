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

// AuthConfig configures JWT authentication of API callers.
//
// When enabled, the token subject becomes the user id of every query, so
// one caller can never read another's conversations.
//
//	auth:
//	  enabled: true
//	  jwks_url: https://auth.example.com/.well-known/jwks.json
//	  issuer: https://auth.example.com
//	  audience: querydesk
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`
	JWKSURL  string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty" jsonschema:"title=JWKS URL"`
	Issuer   string `yaml:"issuer,omitempty" json:"issuer,omitempty" jsonschema:"title=Issuer"`
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty" jsonschema:"title=Audience"`

	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty" jsonschema:"title=JWKS Refresh Interval,default=15m"`

	// ExcludedPaths skip authentication.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty" jsonschema:"title=Excluded Paths"`

	// RequireAuth rejects requests without a token. When false they proceed
	// anonymously.
	RequireAuth *bool `yaml:"require_auth,omitempty" json:"require_auth,omitempty" jsonschema:"title=Require Token,default=true"`
}

func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/health", "/metrics", "/.well-known/agent-card.json"}
	}
	if c.RequireAuth == nil {
		c.RequireAuth = BoolPtr(true)
	}
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" || c.Issuer == "" || c.Audience == "" {
		return fmt.Errorf("jwks_url, issuer and audience are required when auth is enabled")
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh_interval must be at least 1m")
	}
	return nil
}

// IsEnabled reports whether authentication is enabled and fully configured.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}

// IsRequired reports whether requests without a token are rejected.
func (c *AuthConfig) IsRequired() bool {
	return BoolValue(c.RequireAuth, true)
}
