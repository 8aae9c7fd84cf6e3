package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/driftline/nasgate/internal/auth"
	"github.com/driftline/nasgate/internal/gate"
	"github.com/driftline/nasgate/internal/intent"
	"github.com/driftline/nasgate/internal/registry"
	"github.com/driftline/nasgate/internal/storage"
	"go.uber.org/zap"
)

const (
	adminToken  = "admin-token"
	readerToken = "storage-reader"
)

type echoToolSet struct {
	taskTypes []string
	defs      []registry.Definition
}

func (e *echoToolSet) TaskTypes() []string { return e.taskTypes }

func (e *echoToolSet) Definitions() []registry.Definition { return e.defs }

func echoHandler(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"echo": args}, nil
}

func testToolSets() []registry.ToolSet {
	return []registry.ToolSet{
		&echoToolSet{
			taskTypes: []string{"storage-ops"},
			defs: []registry.Definition{
				{Name: "list_pools", Description: "List all storage pools", Handler: echoHandler},
				{Name: "get_pool", Description: "Get a single pool", Params: map[string]registry.ParamSpec{
					"pool_name": {Type: "string", Required: true},
				}, Handler: echoHandler},
			},
		},
		&echoToolSet{
			taskTypes: []string{"user-ops"},
			defs: []registry.Definition{
				{Name: "create_user", Description: "Create a user account", Params: map[string]registry.ParamSpec{
					"username": {Type: "string", Required: true},
				}, Handler: echoHandler},
			},
		},
	}
}

func newTestServer(t *testing.T, policy gate.Policy) *Server {
	t.Helper()
	logger := zap.NewNop()

	reg, err := registry.New(testToolSets(), logger)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	cfg := gate.FilterConfig{
		TaskTypeAllowlists: map[string][]string{
			"storage-ops": {"list_pools", "get_pool"},
			"user-ops":    {"create_user"},
		},
		MaxTools: 50,
	}
	controller := gate.NewController(reg.AllTools(), cfg, policy, logger)

	mcp := NewMCP(
		reg,
		controller,
		intent.NewKeywordClassifier(nil),
		storage.NewLogWriter(logger),
		policy,
		"test",
		logger,
	)

	verifier := auth.NewVerifier(auth.Config{
		AccessToken: adminToken,
		TokenScopes: map[string][]string{readerToken: {"storage-ops"}},
	}, logger)

	return New(mcp, verifier, nil, "test", logger)
}

func defaultPolicy() gate.Policy {
	return gate.Policy{
		IntentPrecedence:    gate.PrecedenceIntent,
		IntentFallbackToAll: true,
		DefaultMaxTools:     50,
	}
}

type rpcCall struct {
	token   string
	session string
	headers map[string]string
}

func postRPC(t *testing.T, srv *Server, call rpcCall, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(encoded))
	if call.token != "" {
		req.Header.Set("Authorization", "Bearer "+call.token)
	}
	if call.session != "" {
		req.Header.Set("X-Session-ID", call.session)
	}
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Body.Len() == 0 {
		return rec, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, decoded
}

func rpcBody(id any, method string, params map[string]any) map[string]any {
	body := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		body["id"] = id
	}
	if params != nil {
		body["params"] = params
	}
	return body
}

func toolNames(result map[string]any) []string {
	tools := result["tools"].([]any)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	return names
}

func errorCode(resp map[string]any) float64 {
	errObj, _ := resp["error"].(map[string]any)
	if errObj == nil {
		return 0
	}
	return errObj["code"].(float64)
}

func errorMessage(resp map[string]any) string {
	errObj, _ := resp["error"].(map[string]any)
	if errObj == nil {
		return ""
	}
	msg, _ := errObj["message"].(string)
	return msg
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "initialize", nil))
	result := resp["result"].(map[string]any)
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("unexpected protocol version: %v", result["protocolVersion"])
	}

	caps := result["capabilities"].(map[string]any)
	toolCaps := caps["tools"].(map[string]any)
	if toolCaps["gating"] != true {
		t.Error("expected gating capability advertised")
	}
}

func TestToolsList_QueryClassification(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "tools/list", map[string]any{
		"query": "show me my zfs pools",
	}))
	result := resp["result"].(map[string]any)

	names := toolNames(result)
	if len(names) != 2 || names[0] != "get_pool" || names[1] != "list_pools" {
		t.Errorf("expected [get_pool list_pools], got %v", names)
	}

	meta := result["_metadata"].(map[string]any)
	if meta["classification_method"] != "intent" {
		t.Errorf("unexpected classification method: %v", meta["classification_method"])
	}
	detected := meta["detected_task_types"].([]any)
	if len(detected) != 1 || detected[0] != "storage-ops" {
		t.Errorf("unexpected detected task types: %v", detected)
	}
	applied := meta["filters_applied"].([]any)
	if len(applied) != 1 || applied[0] != "TaskTypeFilter" {
		t.Errorf("unexpected filters applied: %v", applied)
	}
}

func TestToolsList_ScopedTokenAddsScopeFilter(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: readerToken}, rpcBody(1, "tools/list", nil))
	result := resp["result"].(map[string]any)

	for _, name := range toolNames(result) {
		if name == "create_user" {
			t.Error("user-ops tool must be hidden from a storage-scoped token")
		}
	}

	meta := result["_metadata"].(map[string]any)
	applied := meta["filters_applied"].([]any)
	found := false
	for _, f := range applied {
		if f == "ScopeFilter" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ScopeFilter in %v", applied)
	}
}

func TestToolsList_TaskTypeHeader(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{
		token:   adminToken,
		headers: map[string]string{"X-Task-Type": "user-ops"},
	}, rpcBody(1, "tools/list", nil))
	result := resp["result"].(map[string]any)

	names := toolNames(result)
	if len(names) != 1 || names[0] != "create_user" {
		t.Errorf("expected [create_user], got %v", names)
	}
	meta := result["_metadata"].(map[string]any)
	if meta["classification_method"] != "explicit" {
		t.Errorf("unexpected classification method: %v", meta["classification_method"])
	}
}

func TestToolsCall_EndToEnd(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(1, "tools/call", map[string]any{
		"name":      "get_pool",
		"arguments": map[string]any{"pool_name": "tank"},
	}))
	result := resp["result"].(map[string]any)

	content := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(content))
	}
	block := content[0].(map[string]any)
	if block["type"] != "text" {
		t.Errorf("unexpected content type: %v", block["type"])
	}
	if !strings.Contains(block["text"].(string), "tank") {
		t.Errorf("expected echoed arguments in %q", block["text"])
	}
}

func TestToolsCall_SessionCacheGates(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	// Narrow session s1 to storage tools.
	postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(1, "tools/list", map[string]any{
		"query": "show me my zfs pools",
	}))

	// s1 may not call a tool outside its cached set.
	_, resp := postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(2, "tools/call", map[string]any{
		"name":      "create_user",
		"arguments": map[string]any{"username": "alice"},
	}))
	if errorCode(resp) != float64(codeMethodNotFound) {
		t.Errorf("expected method-not-found for gated tool, got %v", resp["error"])
	}

	// A fresh session with no cached list sees the full catalog.
	_, resp = postRPC(t, srv, rpcCall{token: adminToken, session: "s2"}, rpcBody(3, "tools/call", map[string]any{
		"name":      "create_user",
		"arguments": map[string]any{"username": "alice"},
	}))
	if resp["error"] != nil {
		t.Errorf("expected success in fresh session, got %v", resp["error"])
	}
}

func TestToolsCall_LastListWins(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(1, "tools/list", map[string]any{
		"query": "show me my zfs pools",
	}))
	postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(2, "tools/list", map[string]any{
		"query": "create a new user account",
	}))

	_, resp := postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(3, "tools/call", map[string]any{
		"name":      "create_user",
		"arguments": map[string]any{"username": "alice"},
	}))
	if resp["error"] != nil {
		t.Errorf("expected latest list to govern, got %v", resp["error"])
	}

	_, resp = postRPC(t, srv, rpcCall{token: adminToken, session: "s1"}, rpcBody(4, "tools/call", map[string]any{
		"name":      "list_pools",
		"arguments": map[string]any{},
	}))
	if errorCode(resp) != float64(codeMethodNotFound) {
		t.Errorf("expected storage tool gated after user list, got %v", resp["error"])
	}
}

func TestToolsCall_InsufficientScope(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: readerToken}, rpcBody(1, "tools/call", map[string]any{
		"name":      "create_user",
		"arguments": map[string]any{"username": "alice"},
	}))
	// Deliberately the same code as an unknown tool.
	if errorCode(resp) != float64(codeMethodNotFound) {
		t.Errorf("expected method-not-found for insufficient scope, got %v", resp["error"])
	}
	if !strings.Contains(errorMessage(resp), "Insufficient permissions") {
		t.Errorf("unexpected message: %s", errorMessage(resp))
	}
}

func TestToolsCall_MissingName(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "tools/call", map[string]any{}))
	if errorCode(resp) != float64(codeInvalidParams) {
		t.Errorf("expected invalid-params, got %v", resp["error"])
	}
}

func TestToolsCall_SchemaValidation(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "tools/call", map[string]any{
		"name":      "get_pool",
		"arguments": map[string]any{},
	}))
	if errorCode(resp) != float64(codeInvalidParams) {
		t.Errorf("expected invalid-params for missing required argument, got %v", resp["error"])
	}
}

func TestPrompts(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "prompts/list", nil))
	result := resp["result"].(map[string]any)
	prompts := result["prompts"].([]any)
	if len(prompts) != 1 || prompts[0].(map[string]any)["name"] != "intent-query-help" {
		t.Errorf("unexpected prompts: %v", prompts)
	}

	_, resp = postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(2, "prompts/get", map[string]any{
		"name": "intent-query-help",
	}))
	if resp["error"] != nil {
		t.Errorf("unexpected error: %v", resp["error"])
	}

	_, resp = postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(3, "prompts/get", map[string]any{
		"name": "nope",
	}))
	if errorCode(resp) != float64(codeInvalidParams) {
		t.Errorf("expected invalid-params for unknown prompt, got %v", resp["error"])
	}
}

func TestNotification_EmptyBody(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	rec, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(nil, "notifications/initialized", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if resp != nil {
		t.Errorf("expected empty body for notification, got %v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, rpcBody(1, "resources/list", nil))
	if errorCode(resp) != float64(codeMethodNotFound) {
		t.Errorf("expected method-not-found, got %v", resp["error"])
	}
}

func TestMissingCredentials(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	rec, _ := postRPC(t, srv, rpcCall{}, rpcBody(1, "tools/list", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestParseError(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errorCode(resp) != float64(codeParseError) {
		t.Errorf("expected parse error, got %v", resp["error"])
	}
}

func TestInvalidRequest(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, map[string]any{
		"jsonrpc": "1.0",
		"method":  "tools/list",
		"id":      1,
	})
	if errorCode(resp) != float64(codeInvalidRequest) {
		t.Errorf("expected invalid-request, got %v", resp["error"])
	}
}

func TestArrayParamsInvalidRequest(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	// Positional params are well-formed JSON, so the envelope decodes and
	// the caller gets an invalid-request answer under its own id, not a
	// parse error.
	_, resp := postRPC(t, srv, rpcCall{token: adminToken}, map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/list",
		"params":  []int{1, 2},
		"id":      7,
	})
	if errorCode(resp) != float64(codeInvalidRequest) {
		t.Errorf("expected invalid-request, got %v", resp["error"])
	}
	if id, ok := resp["id"].(float64); !ok || id != 7 {
		t.Errorf("expected id 7 on the error response, got %v", resp["id"])
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, defaultPolicy())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
