package gate

import (
	"sort"

	"go.uber.org/zap"
)

// ResourceFilter caps the tool set at a maximum count, keeping the
// highest-priority tools (ties broken by name).
type ResourceFilter struct {
	maxTools int
	logger   *zap.Logger
}

func NewResourceFilter(maxTools int, logger *zap.Logger) *ResourceFilter {
	return &ResourceFilter{maxTools: maxTools, logger: logger}
}

func (f *ResourceFilter) Name() string { return "ResourceFilter" }

// Apply returns the input unchanged when it is within the cap, so the
// controller's "filter applied" detection stays deterministic.
func (f *ResourceFilter) Apply(tools map[string]*Tool, fctx *FilterContext) map[string]*Tool {
	if len(tools) <= f.maxTools {
		return tools
	}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := tools[names[i]].Priority, tools[names[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})

	filtered := make(map[string]*Tool, f.maxTools)
	for _, name := range names[:f.maxTools] {
		filtered[name] = tools[name]
	}

	f.logger.Debug("resource filter truncated tool list",
		zap.String("request_id", fctx.RequestID),
		zap.Int("max_tools", f.maxTools),
	)

	return filtered
}
