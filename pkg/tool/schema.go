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

package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Type is a JSON schema primitive type.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Property describes one argument.
type Property struct {
	// Type is empty when any value is accepted.
	Type        Type      `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Schema describes an argument object.
type Schema struct {
	Properties map[string]*Property
	Required   []string
}

// JSON renders the schema as a JSON-schema object.
func (s *Schema) JSON() map[string]any {
	out := map[string]any{"type": string(TypeObject)}
	props := map[string]any{}
	if s != nil {
		for name, p := range s.Properties {
			props[name] = p.json()
		}
		if len(s.Required) > 0 {
			out["required"] = slices.Clone(s.Required)
		}
	}
	out["properties"] = props
	return out
}

func (p *Property) json() map[string]any {
	m := map[string]any{}
	if p.Type != "" {
		m["type"] = string(p.Type)
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = slices.Clone(p.Enum)
	}
	if p.Minimum != nil {
		m["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		m["maximum"] = *p.Maximum
	}
	if p.Items != nil {
		m["items"] = p.Items.json()
	}
	if p.Default != nil {
		m["default"] = p.Default
	}
	return m
}

// FieldError is a validation failure for one argument. Keyword is the
// JSON-schema keyword that failed, such as type, enum or required.
type FieldError struct {
	Field   string
	Keyword string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldErrors lists every failure of one validation, sorted by field.
type FieldErrors []*FieldError

func (errs FieldErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validator checks arguments against a compiled schema. A nil Validator
// accepts anything.
type Validator struct {
	schema *jsonschema.Schema
}

const schemaURL = "mem://capability/args.json"

// Compile compiles the schema for repeated validation.
func (s *Schema) Compile() (*Validator, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s.JSON())
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate compiles the schema and checks args against it.
func (s *Schema) Validate(args map[string]any) error {
	v, err := s.Compile()
	if err != nil {
		return err
	}
	return v.Validate(args)
}

// Validate checks args. Unknown keys are accepted and a nil value counts
// as absent. The error is a FieldErrors.
func (v *Validator) Validate(args map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	present := make(map[string]any, len(args))
	for k, val := range args {
		if val != nil {
			present[k] = val
		}
	}
	raw, err := json.Marshal(present)
	if err != nil {
		return FieldErrors{{Field: "arguments", Message: "not encodable as JSON: " + err.Error()}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return FieldErrors{{Field: "arguments", Message: err.Error()}}
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return FieldErrors{{Field: "arguments", Message: err.Error()}}
	}
	return fieldErrors(ve)
}

var printer = message.NewPrinter(language.English)

// fieldErrors flattens the leaves of a validation error tree.
func fieldErrors(ve *jsonschema.ValidationError) FieldErrors {
	var out FieldErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		keyword := strings.Join(e.ErrorKind.KeywordPath(), "/")
		if req, ok := e.ErrorKind.(*kind.Required); ok {
			for _, name := range req.Missing {
				out = append(out, &FieldError{
					Field:   fieldPath(append(slices.Clone(e.InstanceLocation), name)),
					Keyword: keyword,
					Message: "is required",
				})
			}
			return
		}
		out = append(out, &FieldError{
			Field:   fieldPath(e.InstanceLocation),
			Keyword: keyword,
			Message: e.ErrorKind.LocalizedString(printer),
		})
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// fieldPath renders an instance location as data[0].name.
func fieldPath(loc []string) string {
	if len(loc) == 0 {
		return "arguments"
	}
	var b strings.Builder
	for i, tok := range loc {
		if _, err := strconv.Atoi(tok); err == nil && i > 0 {
			b.WriteString("[" + tok + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}
