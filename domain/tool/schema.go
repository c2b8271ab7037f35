package tool

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Schema wraps a JSON Schema document describing a tool's input or output.
type Schema struct {
	raw json.RawMessage
}

// NewSchema creates a schema from raw JSON.
func NewSchema(raw json.RawMessage) Schema {
	return Schema{raw: raw}
}

// EmptySchema returns a schema that accepts any value.
func EmptySchema() Schema {
	return Schema{raw: json.RawMessage(`{}`)}
}

// ObjectSchema returns a schema for an object with the given properties.
func ObjectSchema(properties map[string]json.RawMessage, required []string) Schema {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return Schema{raw: raw}
}

// SchemaFromParams derives an object schema from a parameter contract.
func SchemaFromParams(params []Param) Schema {
	if len(params) == 0 {
		return EmptySchema()
	}
	props := make(map[string]json.RawMessage, len(params))
	var required []string
	for _, p := range params {
		typ := p.Type
		if typ == "" || typ == "any" {
			props[p.Name] = json.RawMessage(`{}`)
		} else {
			props[p.Name] = json.RawMessage(fmt.Sprintf(`{"type":%q}`, typ))
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return ObjectSchema(props, required)
}

// Raw returns the underlying JSON schema.
func (s Schema) Raw() json.RawMessage {
	return s.raw
}

// IsEmpty returns true if the schema is empty or nil.
func (s Schema) IsEmpty() bool {
	return len(s.raw) == 0 || string(s.raw) == "{}" || string(s.raw) == "null"
}

// Validate checks that data is valid JSON and, for object schemas, that
// every required property is present. Property types are not checked here;
// the parameter contract covers them.
func (s Schema) Validate(data json.RawMessage) error {
	if s.IsEmpty() {
		return nil
	}
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}
	var shape struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(s.raw, &shape); err != nil || shape.Type != "object" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("expected an object: %w", err)
	}
	for _, name := range shape.Required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("missing required property %q", name)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s.raw == nil {
		return []byte("{}"), nil
	}
	return s.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}
