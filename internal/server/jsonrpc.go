package server

import (
	"bytes"
	"encoding/json"
)

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// rpcRequest is an inbound JSON-RPC 2.0 envelope. A null or absent id
// marks a notification. Params stays raw so a well-formed envelope with
// non-object params can still be answered under its own id.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// decodeParams interprets the raw params as the named-parameter object
// every method here takes. Absent or null params mean an empty object.
func (r *rpcRequest) decodeParams() (map[string]any, error) {
	if len(r.Params) == 0 || bytes.Equal(r.Params, []byte("null")) {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// isNotification reports whether the request carries no id.
func (r *rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func newRPCError(code int, message string, data any) *rpcError {
	return &rpcError{Code: code, Message: message, Data: data}
}

// rpcResponse is the outbound envelope. Exactly one of Result or Error
// is serialized.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

func resultResponse(id json.RawMessage, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", Result: result, ID: normalizeID(id)}
}

func errorResponse(id json.RawMessage, rpcErr *rpcError) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", Error: rpcErr, ID: normalizeID(id)}
}

// normalizeID keeps the caller's id verbatim, substituting an explicit
// null for requests that never carried one (parse errors).
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
