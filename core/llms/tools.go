package llms

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is an external capability exposed to the model. The parameter schema
// is reflected from the handler's argument struct.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`

	execute func(arguments string) (string, error)
}

type ToolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// NewTool builds a Tool whose JSON parameter schema is derived from T. The
// handler receives the model-provided arguments already unmarshalled.
func NewTool[T any](name, description string, handler func(parameters T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero T
	schema := reflector.Reflect(zero)
	schema.Version = ""

	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		execute: func(arguments string) (string, error) {
			var parameters T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("failed to unmarshal arguments for tool %q: %w", name, err)
				}
			}
			return handler(parameters)
		},
	}
}

// Execute runs the tool against raw argument JSON.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Function.Name)
	}
	return t.execute(arguments)
}
