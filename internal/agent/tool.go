package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Tool is one capability the model may invoke.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	// PrimaryField receives plain-text input that is not a JSON object.
	PrimaryField string
	Call         func(ctx context.Context, input json.RawMessage) (string, error)
}

// GenerateSchema derives an inline JSON Schema from T.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Registry returns the built-in tools.
func Registry(wiki *WikipediaClient) []Tool {
	return []Tool{CalculatorTool(), WikipediaTool(wiki)}
}

func (t Tool) schemaJSON() string {
	if t.InputSchema == nil || t.InputSchema.Properties == nil {
		return "{}"
	}
	data, err := json.Marshal(t.InputSchema.Properties)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// normalizeInput accepts a JSON object, a JSON string, or bare text.
func (t Tool) normalizeInput(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(strings.TrimSpace(raw), "`")
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") && json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	var s string
	if strings.HasPrefix(raw, `"`) && json.Unmarshal([]byte(raw), &s) == nil {
		raw = s
	}
	if t.PrimaryField == "" {
		return nil, fmt.Errorf("tool %s expects a JSON object input", t.Name)
	}
	return json.Marshal(map[string]string{t.PrimaryField: raw})
}
