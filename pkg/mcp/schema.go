package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateToolSchema gates tools at discovery: the input schema must
// describe an object and must compile as JSON-Schema. The compiled form is
// thrown away; descriptors keep the raw bytes so the model sees exactly what
// the server declared.
func validateToolSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing input schema")
	}

	var shape struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return fmt.Errorf("input schema is not an object: %w", err)
	}
	if shape.Type != "object" {
		return fmt.Errorf("input schema type is %q, want object", shape.Type)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", doc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := compiler.Compile("tool.json"); err != nil {
		return fmt.Errorf("compile input schema: %w", err)
	}
	return nil
}
