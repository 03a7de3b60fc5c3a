// ABOUTME: MCP-compatible HTTP endpoint exposing the gateway's tool registry.
// ABOUTME: Stateless Streamable HTTP transport: every POST carries its own credential.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
	"github.com/ambivo-corp/ambivo-gpt/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Dispatcher runs tools. *tools.Dispatcher implements it.
type Dispatcher interface {
	Call(ctx context.Context, inv tools.Invocation, authHeader string) (*tools.Result, error)
	Registry() *tools.Registry
	Info() tools.Info
}

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// Server implements the MCP endpoint. It keeps no per-client state, so any
// replica behind a load balancer can answer any request.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// ServeHTTP lets the server be mounted directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleMCP(w, r)
}

// handleMCP is the single MCP endpoint. Only POST is supported; there are no
// server-initiated streams and no sessions to delete.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		s.sendJSONRPCErrorStatus(w, http.StatusMethodNotAllowed, nil, JSONRPCInvalidRequest, "method not allowed")
		return
	}
	s.handlePost(w, r)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize)
	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		s.sendJSONRPCErrorStatus(w, http.StatusBadRequest, req.ID, JSONRPCInvalidRequest, "unsupported MCP-Protocol-Version")
		return
	}

	s.logger.Debug("MCP request", "method", req.Method, "is_notification", isNotification)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "ping":
		s.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleInitialize answers the MCP handshake.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	version := latestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	info := s.dispatcher.Info()
	s.logger.Info("MCP client initialized", "protocol_version", version)

	s.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    info.Name,
			"version": info.Version,
		},
	})
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	all := s.dispatcher.Registry().List()

	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(all))}
	for i, tool := range all {
		result.Tools[i] = MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}

	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests. The credential comes from
// arguments.api_key or the Authorization header, as for POST /tools.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params")
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required")
		return
	}

	res, err := s.dispatcher.Call(r.Context(), tools.Invocation{
		Name:      params.Name,
		Arguments: params.Arguments,
	}, r.Header.Get("Authorization"))
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, err)
		return
	}

	s.logger.Debug("tools/call complete", "tool_name", params.Name, "request_id", res.RequestID)
	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: res.Text}},
	})
}

// handleToolError maps a dispatcher failure. Unknown tools are protocol
// errors; failures of a known tool are tool results with isError set so the
// model can read them.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName string, err error) {
	apiErr := apierror.From(err)

	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"kind", apiErr.Kind,
		"error", err,
	)

	switch apiErr.Kind {
	case apierror.KindNotFound:
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, apiErr.Message)
	case apierror.KindInternal:
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution failed")
	default:
		text := apiErr.Message
		if apiErr.UpstreamBody != "" {
			text += ": " + apiErr.UpstreamBody
		}
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: text}},
			IsError: true,
		})
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	s.writeResponse(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.sendJSONRPCErrorStatus(w, http.StatusOK, id, code, message)
}

func (s *Server) sendJSONRPCErrorStatus(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	s.writeResponse(w, status, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, resp JSONRPCResponse) {
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
