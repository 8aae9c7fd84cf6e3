package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftline/nasgate/internal/auth"
	"github.com/driftline/nasgate/internal/gate"
	"github.com/driftline/nasgate/internal/intent"
	"github.com/driftline/nasgate/internal/registry"
	"github.com/driftline/nasgate/internal/storage"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// MCP maps JSON-RPC methods onto the gate controller and tool registry.
//
// The only cross-request state is the session tool cache: each
// tools/list fully replaces the session's entry and tools/call reads
// it, so single-key insert-or-replace and point lookups are the whole
// access pattern. The cache has no eviction; it grows for the process
// lifetime (documented behavior, see DESIGN.md).
type MCP struct {
	registry      *registry.Registry
	gate          *gate.Controller
	classifier    intent.Classifier // nil disables classification
	writer        storage.EventWriter
	policy        gate.Policy
	serverVersion string
	logger        *zap.Logger

	sessionTools sync.Map // session_id -> map[string]*gate.Tool
}

// NewMCP wires the protocol handler. A nil classifier disables intent
// classification regardless of policy.
func NewMCP(
	reg *registry.Registry,
	controller *gate.Controller,
	classifier intent.Classifier,
	writer storage.EventWriter,
	policy gate.Policy,
	serverVersion string,
	logger *zap.Logger,
) *MCP {
	return &MCP{
		registry:      reg,
		gate:          controller,
		classifier:    classifier,
		writer:        writer,
		policy:        policy,
		serverVersion: serverVersion,
		logger:        logger,
	}
}

// handleInitialize advertises the server's gating capabilities.
func (m *MCP) handleInitialize(requestID, sessionID string) map[string]any {
	m.logger.Info("initialize called",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
	)
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{
				"gating":                   true,
				"context_size_enforcement": true,
				"task_type_filtering":      true,
			},
			"prompts": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "nasgate",
			"version": m.serverVersion,
		},
	}
}

// handleToolsList runs the gating pipeline for one request and caches
// the visible tool set for the session.
func (m *MCP) handleToolsList(
	params map[string]any,
	requestID, sessionID string,
	scopes auth.Scopes,
	taskTypeHeader string,
) (map[string]any, *rpcError) {
	start := time.Now()

	taskType := taskTypeHeader
	if taskType == "" {
		taskType, _ = params["task_type"].(string)
	}
	query, _ := params["query"].(string)

	var detected []string
	classificationMethod := "none"

	if query != "" && m.classifier != nil {
		detected = m.classifier.ClassifyIntent(query)
		classificationMethod = "intent"
		if m.policy.IntentPrecedence == gate.PrecedenceIntent {
			taskType = ""
		}
		m.logger.Info("intent classifier ran",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID),
			zap.Strings("detected_task_types", detected),
		)
	} else if taskType != "" {
		classificationMethod = "explicit"
	}

	fctx := &gate.FilterContext{
		TaskType:          taskType,
		SessionID:         sessionID,
		RequestID:         requestID,
		Query:             query,
		QuerySet:          query != "",
		DetectedTaskTypes: detected,
	}

	filtered, filtersApplied := m.gate.AvailableTools(fctx)

	// Scope enforcement: non-admin callers only see tools they could
	// actually invoke.
	if len(scopes) > 0 && !scopes.IsAdmin() {
		scoped := make(map[string]*gate.Tool, len(filtered))
		for name, tool := range filtered {
			if scopes.Intersects(tool.EffectiveScopes()) {
				scoped[name] = tool
			}
		}
		filtered = scoped
		filtersApplied = append(filtersApplied, "ScopeFilter")
	}

	m.sessionTools.Store(sessionID, filtered)

	contextSize, err := m.gate.ContextSize(filtered)
	if err != nil {
		m.writeEvent(requestID, sessionID, "tools/list", "", "error", codeInternalError,
			len(filtered), contextSize, filtersApplied, detected, scopes, start)
		return nil, newRPCError(codeInternalError, err.Error(), nil)
	}

	names := make([]string, 0, len(filtered))
	for name := range filtered {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tool := filtered[name]
		inputSchema := tool.RequestSchema
		if inputSchema == nil {
			inputSchema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			}
		}
		summaries = append(summaries, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": inputSchema,
		})
	}

	if filtersApplied == nil {
		filtersApplied = []string{}
	}

	m.logger.Info("tools/list returned tools",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
		zap.Int("count", len(summaries)),
		zap.Int("context_size", contextSize),
	)

	m.writeEvent(requestID, sessionID, "tools/list", "", "ok", 0,
		len(filtered), contextSize, filtersApplied, detected, scopes, start)

	return map[string]any{
		"tools": summaries,
		"_metadata": map[string]any{
			"context_size":          contextSize,
			"filters_applied":       filtersApplied,
			"classification_method": classificationMethod,
			"query":                 query,
			"detected_task_types":   detected,
		},
	}, nil
}

// handleToolsCall validates and dispatches one tool invocation against
// the session's cached visibility decision.
func (m *MCP) handleToolsCall(
	ctx context.Context,
	params map[string]any,
	requestID, sessionID string,
	scopes auth.Scopes,
) (map[string]any, *rpcError) {
	start := time.Now()

	toolName, ok := params["name"].(string)
	if !ok || toolName == "" {
		return nil, newRPCError(codeInvalidParams, "Missing 'name' parameter", nil)
	}

	arguments, _ := params["arguments"].(map[string]any)
	if arguments == nil {
		arguments = map[string]any{}
	}

	// The session's last tools/list fully determines visibility; a call
	// before any tools/list sees the unfiltered catalog.
	visible := m.sessionToolsFor(sessionID)
	if visible == nil {
		visible = m.registry.AllTools()
	}

	tool, ok := visible[toolName]
	if !ok {
		m.writeEvent(requestID, sessionID, "tools/call", toolName, "denied", codeMethodNotFound,
			0, 0, nil, nil, scopes, start)
		return nil, newRPCError(codeMethodNotFound,
			fmt.Sprintf("Tool '%s' not available or blocked by gating", toolName), nil)
	}

	// Insufficient scope is deliberately indistinguishable from an
	// unknown tool, to prevent catalog enumeration.
	required := tool.EffectiveScopes()
	if len(scopes) > 0 && !scopes.IsAdmin() && !scopes.Intersects(required) {
		m.writeEvent(requestID, sessionID, "tools/call", toolName, "denied", codeMethodNotFound,
			0, 0, nil, nil, scopes, start)
		return nil, newRPCError(codeMethodNotFound,
			fmt.Sprintf("Insufficient permissions. Required scopes: %v", required), nil)
	}

	if tool.RequestSchema != nil {
		if verr := validateAgainstSchema(arguments, tool.RequestSchema); verr != nil {
			m.writeEvent(requestID, sessionID, "tools/call", toolName, "denied", codeInvalidParams,
				0, 0, nil, nil, scopes, start)
			return nil, verr
		}
	}

	handler := m.registry.Handler(toolName)
	if handler == nil {
		return nil, newRPCError(codeMethodNotFound,
			fmt.Sprintf("Handler for '%s' not found", toolName), nil)
	}

	result, err := invokeHandler(ctx, handler, arguments)
	if err != nil {
		m.logger.Error("tool execution failed",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID),
			zap.String("tool", toolName),
			zap.Error(err),
		)
		m.writeEvent(requestID, sessionID, "tools/call", toolName, "error", codeInternalError,
			0, 0, nil, nil, scopes, start)
		return nil, newRPCError(codeInternalError,
			fmt.Sprintf("Tool execution failed: %v", err), nil)
	}

	// Response schema mismatches document drift; they never block the
	// response.
	if tool.ResponseSchema != nil {
		if verr := validateAgainstSchema(result, tool.ResponseSchema); verr != nil {
			m.logger.Warn("response validation failed",
				zap.String("tool", toolName),
				zap.String("detail", verr.Message),
			)
		}
	}

	rendered, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, newRPCError(codeInternalError,
			fmt.Sprintf("Tool result not serializable: %v", err), nil)
	}

	m.writeEvent(requestID, sessionID, "tools/call", toolName, "ok", 0,
		0, 0, nil, nil, scopes, start)

	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(rendered)},
		},
	}, nil
}

func (m *MCP) handlePromptsList(requestID, sessionID string) map[string]any {
	m.logger.Info("prompts/list called",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
	)
	return map[string]any{
		"prompts": []map[string]any{
			{
				"name":        "intent-query-help",
				"description": "How to use natural language queries for task routing",
			},
		},
	}
}

func (m *MCP) handlePromptsGet(params map[string]any) (map[string]any, *rpcError) {
	name, _ := params["name"].(string)
	if name != "intent-query-help" {
		return nil, newRPCError(codeInvalidParams,
			fmt.Sprintf("Unknown prompt name: %s", name), nil)
	}

	return map[string]any{
		"description": "Guide to using natural language queries",
		"messages": []map[string]any{
			{
				"role": "user",
				"content": map[string]any{
					"type": "text",
					"text": "You can supply a natural language query in tools/list params. " +
						"The server will classify it into task types for you.",
				},
			},
		},
	}, nil
}

// sessionToolsFor returns the session's cached visible set, nil when
// the session has never listed tools.
func (m *MCP) sessionToolsFor(sessionID string) map[string]*gate.Tool {
	v, ok := m.sessionTools.Load(sessionID)
	if !ok {
		return nil
	}
	tools, _ := v.(map[string]*gate.Tool)
	return tools
}

// invokeHandler dispatches to a tool handler, converting panics into
// errors so a misbehaving tool cannot take down the server.
func invokeHandler(ctx context.Context, handler registry.Handler, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, args)
}

// validateAgainstSchema compiles the declared schema and validates the
// instance, returning an invalid-params error carrying the violating
// instance path.
func validateAgainstSchema(instance any, schema map[string]any) *rpcError {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("invalid declared schema: %v", err), nil)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("schema unmarshal error: %v", err), nil)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaObj); err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("schema compile error: %v", err), nil)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("schema compile error: %v", err), nil)
	}

	// Round-trip the instance so numeric types match what the validator
	// expects regardless of how the value was produced.
	instanceBytes, err := json.Marshal(instance)
	if err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("instance not serializable: %v", err), nil)
	}
	var inst any
	if err := json.Unmarshal(instanceBytes, &inst); err != nil {
		return newRPCError(codeInternalError, fmt.Sprintf("instance unmarshal error: %v", err), nil)
	}

	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := leafCause(verr)
			return newRPCError(codeInvalidParams,
				fmt.Sprintf("Invalid parameters: %v", leaf.Error()),
				map[string]any{"path": "/" + strings.Join(leaf.InstanceLocation, "/")})
		}
		return newRPCError(codeInvalidParams,
			fmt.Sprintf("Invalid parameters: %v", err), nil)
	}

	return nil
}

// leafCause walks to the most specific validation failure.
func leafCause(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

func (m *MCP) writeEvent(
	requestID, sessionID, method, toolName, outcome string,
	errorCode int,
	toolCount, contextSize int,
	filtersApplied, detected []string,
	scopes auth.Scopes,
	start time.Time,
) {
	if m.writer == nil {
		return
	}
	m.writer.Write(&storage.ToolCallEvent{
		RequestID:         requestID,
		SessionID:         sessionID,
		Timestamp:         time.Now(),
		Method:            method,
		ToolName:          toolName,
		Outcome:           outcome,
		ErrorCode:         int32(errorCode),
		ToolCount:         int32(toolCount),
		ContextSize:       int32(contextSize),
		FiltersApplied:    filtersApplied,
		DetectedTaskTypes: detected,
		Scopes:            scopes.Labels(),
		LatencyMs:         float32(float64(time.Since(start)) / float64(time.Millisecond)),
	})
}
