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

package functiontool

import (
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/querydesk/pkg/tool"
)

// generateSchema reflects T into a tool schema.
//
// Supported tags:
//   - json:"name" and json:",omitempty"
//   - jsonschema:"required"
//   - jsonschema:"enum=a,enum=b"
//   - jsonschema:"minimum=N,maximum=M,default=D"
//   - jsonschema_description:"free text, commas allowed"
func generateSchema[T any]() (*tool.Schema, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	root := reflector.Reflect(new(T))
	if root.Type != "object" {
		return nil, fmt.Errorf("arguments must be a struct, got schema type %q", root.Type)
	}

	s := &tool.Schema{
		Properties: map[string]*tool.Property{},
		Required:   append([]string(nil), root.Required...),
	}
	if root.Properties != nil {
		for pair := root.Properties.Oldest(); pair != nil; pair = pair.Next() {
			s.Properties[pair.Key] = convert(pair.Value)
		}
	}
	return s, nil
}

func convert(js *jsonschema.Schema) *tool.Property {
	p := &tool.Property{
		Type:        tool.Type(js.Type),
		Description: js.Description,
		Default:     js.Default,
	}
	for _, e := range js.Enum {
		p.Enum = append(p.Enum, fmt.Sprint(e))
	}
	if js.Minimum != "" {
		if f, err := js.Minimum.Float64(); err == nil {
			p.Minimum = &f
		}
	}
	if js.Maximum != "" {
		if f, err := js.Maximum.Float64(); err == nil {
			p.Maximum = &f
		}
	}
	if js.Items != nil {
		p.Items = convert(js.Items)
	}
	return p
}
