package gate

// Tool describes a single gateway operation exposed over MCP.
// Built once at startup from the tool registry and never mutated;
// instances are shared read-only across all requests.
type Tool struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	RequestSchema  map[string]any `json:"request_schema,omitempty"`
	ResponseSchema map[string]any `json:"response_schema"`
	TaskTypes      []string       `json:"task_types"`
	Priority       int            `json:"priority"`
	RequiredScopes []string       `json:"required_scopes,omitempty"`
}

// EffectiveScopes returns the scopes required to invoke the tool.
// Falls back to the tool's task types when no explicit scopes are declared.
func (t *Tool) EffectiveScopes() []string {
	if len(t.RequiredScopes) > 0 {
		return t.RequiredScopes
	}
	return t.TaskTypes
}

// HasTaskType reports whether the tool declares the given task type.
func (t *Tool) HasTaskType(taskType string) bool {
	for _, tt := range t.TaskTypes {
		if tt == taskType {
			return true
		}
	}
	return false
}

// FilterContext carries the per-request inputs to the filter chain.
// Created fresh for each request and never persisted.
//
// DetectedTaskTypes distinguishes "classifier not run" (nil) from
// "classifier ran and matched nothing" (empty slice). The strict
// no-match short-circuit depends on that distinction.
type FilterContext struct {
	TaskType          string
	ClientID          string
	SessionID         string
	RequestID         string
	Query             string
	QuerySet          bool
	DetectedTaskTypes []string
	IntentConfidence  map[string]float64
}

// FilterConfig is the process-wide gating configuration, loaded once
// before the controller is constructed.
type FilterConfig struct {
	TaskTypeAllowlists map[string][]string `json:"task_type_allowlists" yaml:"task_type_allowlists"`
	MaxTools           int                 `json:"max_tools" yaml:"max_tools"`
	Blocklist          []string            `json:"blocklist" yaml:"blocklist"`
}

// Policy holds the process-wide gating flags. Every consumer receives it
// as a constructor parameter; there is no ambient global settings object.
type Policy struct {
	// IntentPrecedence decides which label source wins when both an
	// explicit task type and classifier output are available:
	// "intent" or "explicit".
	IntentPrecedence string

	// IntentFallbackToAll controls whether unresolvable task types fall
	// back to the full tool set instead of an empty one.
	IntentFallbackToAll bool

	// StrictContextLimit enables hard enforcement of the context budget
	// and the strict no-match short-circuit.
	StrictContextLimit bool

	// DefaultMaxTools is used when the filter config does not set a cap.
	DefaultMaxTools int
}

// PrecedenceIntent and PrecedenceExplicit are the two valid values for
// Policy.IntentPrecedence.
const (
	PrecedenceIntent   = "intent"
	PrecedenceExplicit = "explicit"
)

// metaOpsTaskType is excluded by default when no task signal is present.
const metaOpsTaskType = "meta-ops"

// ToolFilter narrows a tool set for one request. Implementations are
// pure: no I/O, no mutation of the input map.
type ToolFilter interface {
	// Name returns the filter's identifier as reported in diagnostics.
	Name() string

	// Apply returns the narrowed tool set. Returning the input map
	// unchanged means "no filter applied".
	Apply(tools map[string]*Tool, fctx *FilterContext) map[string]*Tool
}

// sameToolSet reports set equality by tool name.
func sameToolSet(a, b map[string]*Tool) bool {
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}
