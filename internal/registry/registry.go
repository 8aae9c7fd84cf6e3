// Package registry builds the gateway's tool catalog from tool set
// definitions and resolves handlers by name at request time.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/driftline/nasgate/internal/gate"
	"go.uber.org/zap"
)

// Handler executes one tool invocation. Arguments arrive verbatim from
// the validated JSON-RPC params; the return value must be
// JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ParamSpec describes a single declared tool parameter.
type ParamSpec struct {
	Type        string
	Description string
	Required    bool
	Enum        []any
	Items       map[string]any
	Format      string
	Default     any
	Minimum     *float64
	Maximum     *float64
}

// Definition is one tool as declared by a tool set: name, handler,
// description, and parameter specs.
type Definition struct {
	Name        string
	Description string
	Params      map[string]ParamSpec
	Handler     Handler
}

// ToolSet groups related tool definitions under shared task-type labels.
type ToolSet interface {
	TaskTypes() []string
	Definitions() []Definition
}

// Registry holds the immutable tool catalog and its handlers.
type Registry struct {
	tools    map[string]*gate.Tool
	handlers map[string]Handler
}

// New builds the catalog from the given tool sets. Tool names must be
// globally unique; a duplicate is a startup configuration error.
func New(toolSets []ToolSet, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		tools:    make(map[string]*gate.Tool),
		handlers: make(map[string]Handler),
	}

	for _, ts := range toolSets {
		taskTypes := ts.TaskTypes()
		for _, def := range ts.Definitions() {
			if _, exists := r.tools[def.Name]; exists {
				return nil, fmt.Errorf("duplicate tool name %q", def.Name)
			}

			r.tools[def.Name] = &gate.Tool{
				Name:           def.Name,
				Description:    def.Description,
				Method:         "rpc",
				Path:           "/tools/" + def.Name,
				RequestSchema:  buildInputSchema(def.Params),
				ResponseSchema: map[string]any{"type": "object"},
				TaskTypes:      taskTypes,
				Priority:       0,
				RequiredScopes: taskTypes,
			}
			r.handlers[def.Name] = def.Handler
		}
	}

	logger.Info("registered gateway tools", zap.Int("count", len(r.tools)))
	return r, nil
}

// AllTools returns a copy of the catalog map. The Tool descriptors
// themselves are shared and must not be mutated.
func (r *Registry) AllTools() map[string]*gate.Tool {
	tools := make(map[string]*gate.Tool, len(r.tools))
	for name, tool := range r.tools {
		tools[name] = tool
	}
	return tools
}

// Handler resolves a tool handler by name, nil if unknown.
func (r *Registry) Handler(name string) Handler {
	return r.handlers[name]
}

// buildInputSchema converts declared parameters into a JSON Schema
// object suitable for MCP inputSchema.
func buildInputSchema(params map[string]ParamSpec) map[string]any {
	properties := make(map[string]any, len(params))
	required := []string{}

	for name, spec := range params {
		typ := spec.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Items != nil {
			prop["items"] = spec.Items
		}
		if spec.Format != "" {
			prop["format"] = spec.Format
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		if spec.Minimum != nil {
			prop["minimum"] = *spec.Minimum
		}
		if spec.Maximum != nil {
			prop["maximum"] = *spec.Maximum
		}

		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}

	sort.Strings(required)

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
