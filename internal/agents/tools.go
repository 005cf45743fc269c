package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

// Builtin tool names.
const (
	ToolGetContext       = "get_context"
	ToolSetCurrentFileID = "set_current_file_id"
)

// Tool is a function an agent can call. Parameters is the JSON schema of the
// arguments object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	invoke func(ctx context.Context, rc *domain.RunContext, args json.RawMessage) (string, error)
}

// Invoke decodes args and runs the tool against the run context.
func (t Tool) Invoke(ctx context.Context, rc *domain.RunContext, args string) (string, error) {
	if t.invoke == nil {
		return "", fmt.Errorf("tool %s has no implementation", t.Name)
	}
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	return t.invoke(ctx, rc, json.RawMessage(args))
}

// NewTool builds a tool whose arguments decode into T. The schema is
// generated from T's json and jsonschema struct tags.
func NewTool[T any](name, description string, fn func(ctx context.Context, rc *domain.RunContext, args T) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaFor[T](),
		invoke: func(ctx context.Context, rc *domain.RunContext, raw json.RawMessage) (string, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
			return fn(ctx, rc, args)
		},
	}
}

func schemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	raw, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("failed to decode schema for type %T: %v", zero, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

type getContextArgs struct{}

type setCurrentFileIDArgs struct {
	CurrentFileID string `json:"current_file_id" jsonschema:"description=ID of the file the user is working on"`
}

// Builtins returns the tools agents can list by name in configuration.
func Builtins() map[string]Tool {
	return map[string]Tool{
		ToolGetContext: NewTool(ToolGetContext, "get current conversation context",
			func(_ context.Context, rc *domain.RunContext, _ getContextArgs) (string, error) {
				if rc == nil {
					return "{}", nil
				}
				b, err := json.Marshal(rc.Load())
				if err != nil {
					return "", err
				}
				return string(b), nil
			}),
		ToolSetCurrentFileID: NewTool(ToolSetCurrentFileID, "set current file id to conversation context",
			func(_ context.Context, rc *domain.RunContext, args setCurrentFileIDArgs) (string, error) {
				if rc == nil {
					return "", fmt.Errorf("no run context")
				}
				rc.Update(func(c *domain.AgentContext) {
					c.CurrentFileID = args.CurrentFileID
				})
				return "true", nil
			}),
	}
}
