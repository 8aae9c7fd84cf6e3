// Package storage records gating and invocation decisions for audit.
package storage

import "time"

// ToolCallEvent is one audited gateway decision: a tools/list gating
// outcome or a tools/call dispatch.
type ToolCallEvent struct {
	RequestID         string
	SessionID         string
	Timestamp         time.Time
	Method            string // "tools/list" or "tools/call"
	ToolName          string // empty for tools/list
	Outcome           string // "ok", "denied", "error"
	ErrorCode         int32  // JSON-RPC error code, 0 on success
	ToolCount         int32
	ContextSize       int32
	FiltersApplied    []string
	DetectedTaskTypes []string
	Scopes            []string
	LatencyMs         float32
}

// EventWriter is the audit sink. Write must not block the request path.
type EventWriter interface {
	Write(event *ToolCallEvent)
	Close()
}
