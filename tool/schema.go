package tool

import (
	"github.com/invopop/jsonschema"
)

// Parameters produces the JSON schema object of the argument struct T. It
// uses struct tags (json, jsonschema) to derive the schema.
func Parameters[T any]() map[string]any {
	var zero T
	root := extractRoot(jsonschema.Reflect(&zero))

	params := map[string]any{
		"type":       "object",
		"properties": schemaProperties(root),
	}
	if len(root.Required) > 0 {
		params["required"] = root.Required
	}
	return params
}

// extractRoot resolves the root schema, following $ref to $defs if needed.
func extractRoot(s *jsonschema.Schema) *jsonschema.Schema {
	if s.Ref != "" && s.Definitions != nil {
		for _, def := range s.Definitions {
			if def.Type == "object" {
				return def
			}
		}
	}
	return s
}

func schemaProperties(s *jsonschema.Schema) map[string]any {
	props := make(map[string]any)
	if s.Properties == nil {
		return props
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = propertySchema(pair.Value)
	}
	return props
}

func propertySchema(s *jsonschema.Schema) map[string]any {
	m := make(map[string]any)

	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	// Pointer fields come out as anyOf with null.
	for _, sub := range s.AnyOf {
		if sub.Type != "null" && sub.Type != "" {
			m["type"] = sub.Type
			break
		}
	}
	if s.Properties != nil {
		m["type"] = "object"
		m["properties"] = schemaProperties(s)
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}
	if s.Items != nil {
		m["items"] = propertySchema(s.Items)
	}
	return m
}
