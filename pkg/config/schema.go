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
	"github.com/invopop/jsonschema"
)

// Schema reflects the JSON Schema of Config from its jsonschema tags.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(&Config{})
	s.ID = "https://github.com/kadirpekel/querydesk/schemas/config.json"
	s.Title = "querydesk configuration"
	s.Description = "Configuration of the querydesk agent orchestration server"
	s.Examples = []any{
		map[string]any{
			"llm":         map[string]any{"model": "gemini-2.5-flash-lite"},
			"credentials": map[string]any{"policy": PolicyRoundRobin},
			"engine":      map[string]any{"max_iterations": 5},
			"databases": map[string]any{
				DefaultDatabase: map[string]any{"driver": "sqlite", "database": "./data/travel.sqlite"},
			},
		},
	}
	return s
}
