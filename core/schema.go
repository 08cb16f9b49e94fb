package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldHint describes one field of an agent's request contract.
// Type is a JSON Schema primitive: string, number, integer, boolean,
// object or array.
type FieldHint struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Example     string `json:"example,omitempty" yaml:"example,omitempty"`
}

// RequestSchema is the request contract an agent declares. Inbound request
// payloads are validated against it before the business handler runs.
type RequestSchema struct {
	RequiredFields  []FieldHint `json:"required_fields,omitempty"`
	OptionalFields  []FieldHint `json:"optional_fields,omitempty"`
	AllowAdditional bool        `json:"allow_additional,omitempty"`
}

// Validate checks payload against the contract and returns every violation
// found, sorted by field name. A nil schema accepts everything.
func (s *RequestSchema) Validate(payload map[string]interface{}) []FieldViolation {
	if s == nil {
		return nil
	}
	var violations []FieldViolation

	known := make(map[string]FieldHint, len(s.RequiredFields)+len(s.OptionalFields))
	for _, f := range s.RequiredFields {
		known[f.Name] = f
		v, ok := payload[f.Name]
		if !ok || v == nil {
			violations = append(violations, FieldViolation{Field: f.Name, Message: "is required"})
		}
	}
	for _, f := range s.OptionalFields {
		known[f.Name] = f
	}

	for name, value := range payload {
		hint, ok := known[name]
		if !ok {
			if !s.AllowAdditional {
				violations = append(violations, FieldViolation{Field: name, Message: "is not allowed"})
			}
			continue
		}
		if value == nil {
			continue
		}
		if !matchesType(hint.Type, value) {
			violations = append(violations, FieldViolation{
				Field:   name,
				Message: fmt.Sprintf("must be of type %s", hint.Type),
			})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})
	return violations
}

// Default returns the first example declared for field, or nil.
func (s *RequestSchema) Default(field string) interface{} {
	if s == nil {
		return nil
	}
	for _, group := range [][]FieldHint{s.RequiredFields, s.OptionalFields} {
		for _, f := range group {
			if f.Name == field && f.Example != "" {
				return f.Example
			}
		}
	}
	return nil
}

// JSONSchema renders the contract as a JSON Schema draft-07 document, the
// form advertised to the registry in AgentInfo.RequestSchema.
func (s *RequestSchema) JSONSchema(title string) map[string]interface{} {
	schema := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"title":   title,
	}
	if s == nil {
		return schema
	}

	properties := make(map[string]interface{})
	required := []string{}

	for _, field := range s.RequiredFields {
		properties[field.Name] = fieldHintToJSONSchema(field)
		required = append(required, field.Name)
	}
	for _, field := range s.OptionalFields {
		properties[field.Name] = fieldHintToJSONSchema(field)
	}

	schema["properties"] = properties
	if len(required) > 0 {
		schema["required"] = required
	}
	schema["additionalProperties"] = s.AllowAdditional

	return schema
}

// fieldHintToJSONSchema converts a FieldHint to a JSON Schema property definition.
func fieldHintToJSONSchema(field FieldHint) map[string]interface{} {
	prop := map[string]interface{}{
		"type": field.Type,
	}
	if field.Description != "" {
		prop["description"] = field.Description
	}
	if field.Example != "" {
		prop["examples"] = []string{field.Example}
	}
	return prop
}

// matchesType reports whether a decoded payload value has the JSON type t.
// Values may come from encoding/json (float64, json.Number) or CBOR
// (int64, uint64), so every numeric Go kind is accepted as a number.
func matchesType(t string, v interface{}) bool {
	switch t {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == float64(int64(f))
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
