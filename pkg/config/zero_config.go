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
	"os"
)

// ZeroConfigOptions are the CLI overrides applied when running without a
// config file.
type ZeroConfigOptions struct {
	Model    string
	Database string
	Port     int
}

// Default returns a validated config built from defaults, the environment
// and opts. Credentials come from GOOGLE_API_KEY[_1..9].
func Default(opts ZeroConfigOptions) (*Config, error) {
	cfg := &Config{}
	cfg.LLM.Model = opts.Model
	cfg.Server.Port = opts.Port
	if opts.Database != "" {
		cfg.Databases = map[string]*DatabaseConfig{
			DefaultDatabase: {Driver: DialectSQLite, Database: opts.Database},
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logger.Level = lvl
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid zero-config defaults: %w", err)
	}
	return cfg, nil
}

// CredentialKeys returns every configured key followed by the discovered
// environment keys, deduplicated. IDs are the configured ones, or env-N.
func (c *Config) CredentialKeys() []CredentialEntry {
	seen := map[string]bool{}
	var out []CredentialEntry
	for _, k := range c.Credentials.Keys {
		if k.Key == "" || seen[k.Key] {
			continue
		}
		seen[k.Key] = true
		out = append(out, k)
	}
	if BoolValue(c.Credentials.FromEnv, true) {
		n := 0
		for _, key := range DiscoverCredentials(c.Credentials.EnvPrefix) {
			if seen[key] {
				continue
			}
			seen[key] = true
			n++
			out = append(out, CredentialEntry{ID: fmt.Sprintf("env-%d", n), Key: key, Weight: 1})
		}
	}
	return out
}
