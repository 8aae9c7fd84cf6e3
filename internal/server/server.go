package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/driftline/nasgate/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server exposes the JSON-RPC endpoint plus health probes.
type Server struct {
	mcp            *MCP
	verifier       *auth.Verifier
	allowedOrigins []string
	version        string
	logger         *zap.Logger
}

func New(mcp *MCP, verifier *auth.Verifier, allowedOrigins []string, version string, logger *zap.Logger) *Server {
	return &Server{
		mcp:            mcp,
		verifier:       verifier,
		allowedOrigins: allowedOrigins,
		version:        version,
		logger:         logger,
	}
}

// Handler builds the full middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.handleRPC)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	var h http.Handler = mux
	h = corsMiddleware(h, s.allowedOrigins)
	h = requestLogging(h, s.logger)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "nasgate",
		"version":  s.version,
		"protocol": protocolVersion,
		"endpoints": map[string]string{
			"mcp":    "/mcp",
			"health": "/health",
		},
	})
}

// handleRPC parses, authenticates, and dispatches one JSON-RPC request.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in rpc handler", zap.Any("panic", rec))
			writeJSON(w, http.StatusOK, errorResponse(nil,
				newRPCError(codeInternalError, fmt.Sprintf("Internal error: %v", rec), nil)))
		}
	}()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil,
			newRPCError(codeParseError, "Parse error", nil)))
		return
	}
	defer r.Body.Close() //nolint:errcheck

	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			newRPCError(codeInvalidRequest, "Invalid Request", nil)))
		return
	}

	scopes, err := s.verifier.Verify(r)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid credentials"})
			return
		}
		s.logger.Error("auth verification failed", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Authentication failed"})
		return
	}

	requestID := uuid.NewString()
	sessionID := sessionIDFor(r)

	// Positional (array) or scalar params are well-formed JSON but not a
	// valid request here; answer under the caller's id, not as a parse
	// failure.
	params, err := req.decodeParams()
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			newRPCError(codeInvalidRequest, "Invalid Request: params must be an object", nil)))
		return
	}

	// Notifications get an acknowledgement with no body.
	if req.isNotification() {
		s.logger.Debug("notification received",
			zap.String("method", req.Method),
			zap.String("session_id", sessionID),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	var (
		result map[string]any
		rpcErr *rpcError
	)

	switch req.Method {
	case "initialize":
		result = s.mcp.handleInitialize(requestID, sessionID)
	case "tools/list":
		result, rpcErr = s.mcp.handleToolsList(params, requestID, sessionID, scopes, r.Header.Get("X-Task-Type"))
	case "tools/call":
		result, rpcErr = s.mcp.handleToolsCall(r.Context(), params, requestID, sessionID, scopes)
	case "prompts/list":
		result = s.mcp.handlePromptsList(requestID, sessionID)
	case "prompts/get":
		result, rpcErr = s.mcp.handlePromptsGet(params)
	default:
		rpcErr = newRPCError(codeMethodNotFound, fmt.Sprintf("Method '%s' not found", req.Method), nil)
	}

	if rpcErr != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, rpcErr))
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(req.ID, result))
}

// sessionIDFor derives a stable session identity: an explicit header
// wins, otherwise sessions follow the credential, otherwise each
// request is its own session.
func sessionIDFor(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if token, err := auth.ExtractToken(r); err == nil && token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token-" + hex.EncodeToString(sum[:])[:16]
	}
	return uuid.NewString()
}
