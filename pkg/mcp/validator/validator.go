// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package validator implements the MCP argument validator: a JSON Schema
// subset (type/properties/required/enum/bounds/default) applied to tool and
// prompt invocation arguments before dispatch. Structural checks are
// delegated to gojsonschema; default-filling and JSON-pointer error paths
// are implemented here because gojsonschema does neither (see DESIGN.md).
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError is one structured validation failure, keyed by JSON pointer
// into the arguments object (e.g. "/b", "/items/0/name").
type FieldError struct {
	Pointer string `json:"pointer"`
	Message string `json:"message"`
}

// Error aggregates one or more FieldErrors from a single validation pass.
// It satisfies the error interface so call sites that only need a human
// message still work with a bare %v / .Error().
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Pointer, f.Message)
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Validate checks args against schema, a JSON Schema subset document
// (type/properties/required/enum/minimum/maximum/minLength/maxLength/
// minItems/maxItems/default, and additionalProperties).
//
// It first fills in defaults for any missing optional field declared in
// schema's "properties", mutating args in place, then runs structural
// validation. On failure it returns *Error with one FieldError per
// violation, pointer-addressed per RFC 6901.
func Validate(schema map[string]interface{}, args map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	fillDefaults(schema, args)

	if err := checkAdditionalProperties(schema, args, ""); err != nil {
		return err
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		fields = append(fields, FieldError{
			Pointer: errorPointer(re),
			Message: re.Description(),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Pointer < fields[j].Pointer })
	return &Error{Fields: fields}
}

// fillDefaults walks schema's declared properties and sets any field absent
// from args to its declared "default", recursing into nested object
// properties. gojsonschema never does this on its own: it only validates
// what is present.
func fillDefaults(schema map[string]interface{}, args map[string]interface{}) {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}
	for name, rawPropSchema := range props {
		propSchema, ok := rawPropSchema.(map[string]interface{})
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			if def, hasDefault := propSchema["default"]; hasDefault {
				args[name] = def
				continue
			}
		}
		if nested, ok := args[name].(map[string]interface{}); ok {
			fillDefaults(propSchema, nested)
		}
	}
}

// checkAdditionalProperties rejects any property not declared in schema's
// "properties" unless "additionalProperties" is true or itself a schema
// object (permissive). additionalProperties defaults to permissive when
// unset, matching gojsonschema's own default and avoiding surprise
// rejections for schemas that never opted into strictness.
func checkAdditionalProperties(schema map[string]interface{}, args map[string]interface{}, pointerPrefix string) error {
	additional, declared := schema["additionalProperties"]
	if declared {
		if allowed, ok := additional.(bool); ok && allowed {
			return nil
		}
		if _, isSchema := additional.(map[string]interface{}); isSchema {
			return nil // permissive: additional properties validated by their own schema elsewhere
		}
		if allowed, ok := additional.(bool); ok && !allowed {
			props, _ := schema["properties"].(map[string]interface{})
			var fields []FieldError
			for name := range args {
				if _, known := props[name]; !known {
					fields = append(fields, FieldError{
						Pointer: pointerPrefix + "/" + escapePointerToken(name),
						Message: "additional property not allowed",
					})
				}
			}
			if len(fields) > 0 {
				sort.Slice(fields, func(i, j int) bool { return fields[i].Pointer < fields[j].Pointer })
				return &Error{Fields: fields}
			}
		}
	}
	return nil
}

// errorPointer derives the JSON pointer for a single gojsonschema result
// error. RequiredError is a special case: gojsonschema attaches it to the
// parent object (Field() is "(root)" for a missing top-level property, or
// the parent's dotted path for a nested one), and the missing property name
// itself lives only in Details()["property"]. Every other error type already
// carries the offending field in Field().
func errorPointer(re gojsonschema.ResultError) string {
	if re.Type() == "required" {
		parent := strings.TrimSuffix(toJSONPointer(re.Field()), "/")
		if prop, ok := re.Details()["property"].(string); ok {
			return parent + "/" + escapePointerToken(prop)
		}
	}
	return toJSONPointer(re.Field())
}

// toJSONPointer converts gojsonschema's dotted/bracketed field path
// (e.g. "(root).items.0.name") into an RFC 6901 JSON pointer ("/items/0/name").
func toJSONPointer(field string) string {
	field = strings.TrimPrefix(field, "(root)")
	field = strings.TrimPrefix(field, ".")
	if field == "" {
		return "/"
	}
	segments := strings.Split(field, ".")
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(escapePointerToken(seg))
	}
	return b.String()
}

func escapePointerToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	tok = strings.ReplaceAll(tok, "/", "~1")
	return tok
}
