package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/driftline/nasgate/internal/gate"
	"github.com/driftline/nasgate/internal/registry"
)

// MetaTools exposes catalog introspection. Tagged meta-ops, so these
// tools are hidden unless a request explicitly asks for them.
//
// The catalog is bound after registry construction to break the
// registry -> meta -> registry cycle.
type MetaTools struct {
	catalog func() map[string]*gate.Tool
}

func NewMetaTools() *MetaTools {
	return &MetaTools{}
}

// BindCatalog wires the catalog supplier. Must be called before any
// meta tool is invoked.
func (t *MetaTools) BindCatalog(catalog func() map[string]*gate.Tool) {
	t.catalog = catalog
}

func (t *MetaTools) TaskTypes() []string {
	return []string{"meta-ops"}
}

func (t *MetaTools) Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Name:        "list_active_tools",
			Description: "List every tool registered with the gateway",
			Params:      map[string]registry.ParamSpec{},
			Handler:     t.listActiveTools,
		},
		{
			Name:        "get_tool_info",
			Description: "Get metadata for a single registered tool",
			Params: map[string]registry.ParamSpec{
				"tool_name": {Type: "string", Required: true},
			},
			Handler: t.getToolInfo,
		},
	}
}

func (t *MetaTools) listActiveTools(_ context.Context, _ map[string]any) (any, error) {
	if t.catalog == nil {
		return nil, fmt.Errorf("catalog not bound")
	}

	tools := t.catalog()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tool := tools[name]
		summaries = append(summaries, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"task_types":  tool.TaskTypes,
		})
	}

	return map[string]any{"success": true, "tools": summaries}, nil
}

func (t *MetaTools) getToolInfo(_ context.Context, args map[string]any) (any, error) {
	if t.catalog == nil {
		return nil, fmt.Errorf("catalog not bound")
	}

	name, err := argString(args, "tool_name")
	if err != nil {
		return nil, err
	}

	tool, ok := t.catalog()[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}

	return map[string]any{
		"success":         true,
		"name":            tool.Name,
		"description":     tool.Description,
		"task_types":      tool.TaskTypes,
		"required_scopes": tool.EffectiveScopes(),
		"input_schema":    tool.RequestSchema,
	}, nil
}
