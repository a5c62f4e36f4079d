// Package tools assembles the per-request toolset offered to the model:
// locally implemented tools plus the remote trends toolset discovered with
// the caller's credential.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one callable capability offered to the model. Parameters is the
// JSON Schema of the argument object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// marshalSchema renders a schema for the provider wire format. The schema
// arrives in whatever shape its source produced (*jsonschema.Schema from
// jsonschema.For, a decoded JSON object from a remote descriptor), so it is
// marshaled as-is. A nil schema becomes the permissive empty object schema.
func marshalSchema(schema any) (json.RawMessage, error) {
	if schema == nil {
		return json.RawMessage(`{"type":"object"}`), nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool schema: %w", err)
	}
	return data, nil
}
