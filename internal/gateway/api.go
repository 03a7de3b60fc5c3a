// ABOUTME: HTTP API handlers for the actions surface: /query, /tools, /health and the published documents
// ABOUTME: Every failure is classified with apierror and written as a JSON error body

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
	"github.com/ambivo-corp/ambivo-gpt/internal/query"
	"github.com/ambivo-corp/ambivo-gpt/internal/tools"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error"`
	Kind           apierror.Kind `json:"kind"`
	ToolName       string        `json:"tool_name,omitempty"`
	UpstreamStatus int           `json:"upstream_status,omitempty"`
	UpstreamBody   string        `json:"upstream_body,omitempty"`
}

// ToolCallResponse is the JSON response for POST /tools.
type ToolCallResponse struct {
	Result   string `json:"result"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
}

// ServerSummary is the server_info block of GET /tools.
type ServerSummary struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// ToolListResponse is the JSON response for GET /tools.
type ToolListResponse struct {
	Tools      []tools.Descriptor `json:"tools"`
	ServerInfo ServerSummary      `json:"server_info"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status         string   `json:"status"`
	Timestamp      string   `json:"timestamp"`
	AvailableTools []string `json:"available_tools"`
	ServerType     string   `json:"server_type"`
	Version        string   `json:"version"`
}

// endpoints is the directory served at / and /debug.
var endpoints = map[string]string{
	"GET /":                           "API directory",
	"GET /.well-known/ai-plugin.json": "AI plugin manifest",
	"GET /openapi.json":               "OpenAPI specification (JSON)",
	"GET /gpt-schema.json":            "OpenAPI specification (JSON, alias)",
	"GET /openapi.yaml":               "OpenAPI specification (YAML)",
	"GET /gpt-clean.json":             "GPT action schema, query only, bearer auth",
	"GET /gpt-store-ready.json":       "GPT Store action schema, per-user API key",
	"GET /docs":                       "Usage guide",
	"GET /debug":                      "Build information",
	"GET /health":                     "Health check",
	"GET /tools":                      "List available tools",
	"POST /tools":                     "Execute a specific tool",
	"POST /query":                     "Natural language query",
	"POST /mcp":                       "Model Context Protocol (JSON-RPC)",
}

// registerRoutes mounts every handler on mux. Methods are checked inside the
// handlers so mismatches get a JSON 405 instead of the mux's plain text.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/{$}", g.handleIndex)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/query", g.handleQuery)
	mux.HandleFunc("/tools", g.handleTools)
	mux.HandleFunc("/openapi.json", g.handleOpenAPIJSON)
	mux.HandleFunc("/gpt-schema.json", g.handleOpenAPIJSON)
	mux.HandleFunc("/openapi.yaml", g.handleOpenAPIYAML)
	mux.HandleFunc("/gpt-clean.json", serveDocument("application/json", g.docs.GPTCleanJSON))
	mux.HandleFunc("/gpt-store-ready.json", serveDocument("application/json", g.docs.GPTStoreJSON))
	mux.HandleFunc("/.well-known/ai-plugin.json", g.handleManifest)
	mux.HandleFunc("/docs", g.handleDocs)
	mux.HandleFunc("/debug", g.handleDebug)
	g.mcpServer.RegisterRoutes(mux)
	mux.HandleFunc("/", g.handleNotFound)
}

// handleQuery handles POST /query.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req query.Request
	if err := decodeBody(r.Body, &req); err != nil {
		g.sendJSONError(w, r, err, "")
		return
	}

	env, err := g.dispatcher.Query(r.Context(), &req, r.Header.Get("Authorization"))
	if err != nil {
		g.sendJSONError(w, r, err, "")
		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleTools handles GET /tools (listing) and POST /tools (execution).
func (g *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListTools(w)
	case http.MethodPost:
		g.handleCallTool(w, r)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleListTools needs no credential and never touches the CRM.
func (g *Gateway) handleListTools(w http.ResponseWriter) {
	info := g.dispatcher.Info()
	writeJSON(w, http.StatusOK, ToolListResponse{
		Tools: g.dispatcher.Registry().Descriptors(),
		ServerInfo: ServerSummary{
			Name:         info.Name,
			Version:      info.Version,
			Capabilities: info.Capabilities,
		},
	})
}

func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var inv tools.Invocation
	if err := decodeBody(r.Body, &inv); err != nil {
		g.sendJSONError(w, r, err, "")
		return
	}

	res, err := g.dispatcher.Call(r.Context(), inv, r.Header.Get("Authorization"))
	if err != nil {
		g.sendJSONError(w, r, err, inv.Name)
		return
	}

	writeJSON(w, http.StatusOK, ToolCallResponse{
		Result:   res.Text,
		ToolName: res.ToolName,
		Success:  true,
	})
}

// handleHealth reports liveness. It makes no CRM call.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		AvailableTools: g.dispatcher.Registry().Names(),
		ServerType:     ServerType,
		Version:        g.version,
	})
}

func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Ambivo GPT Actions API",
		"version":     g.version,
		"description": "Natural language access to Ambivo CRM data for GPT actions and MCP clients",
		"endpoints":   endpoints,
		"authentication": map[string]string{
			"type":        "Bearer Token",
			"description": "Send the CRM JWT in the Authorization header, or as api_key in the request body",
		},
	})
}

func (g *Gateway) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeRaw(w, "application/json", g.docs.OpenAPIJSON)
}

func (g *Gateway) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeRaw(w, "application/x-yaml", g.docs.OpenAPIYAML)
}

// serveDocument serves a prerendered GET-only document.
func serveDocument(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeRaw(w, contentType, body)
	}
}

func (g *Gateway) handleManifest(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeRaw(w, "application/json", g.docs.ManifestJSON)
}

func (g *Gateway) handleDocs(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeRaw(w, "text/html; charset=utf-8", g.docs.DocsHTML)
}

// handleDebug reports build information. It reveals no configuration values.
func (g *Gateway) handleDebug(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	build := map[string]string{}
	if bi, ok := debug.ReadBuildInfo(); ok {
		build["go_version"] = bi.GoVersion
		build["module"] = bi.Main.Path
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision", "vcs.time", "vcs.modified":
				build[s.Key] = s.Value
			}
		}
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "gateway running",
		"version":        g.version,
		"timestamp":      now.UTC().Format(time.RFC3339Nano),
		"uptime_seconds": int64(now.Sub(g.startedAt).Seconds()),
		"build":          build,
		"endpoints":      endpoints,
	})
}

func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	g.sendJSONError(w, r, apierror.New(apierror.KindNotFound, "no route for "+r.URL.Path), "")
}

// sendJSONError logs err at the boundary and writes it as JSON.
func (g *Gateway) sendJSONError(w http.ResponseWriter, r *http.Request, err error, toolName string) {
	apiErr := apierror.From(err)
	status := apiErr.HTTPStatus()

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", apiErr.Kind,
		"request_id", requestIDFrom(r.Context()),
	}
	if toolName != "" {
		attrs = append(attrs, "tool_name", toolName)
	}
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", append(attrs, "error", err)...)
	} else {
		g.logger.Info("request rejected", append(attrs, "error", apiErr.Message)...)
	}

	writeError(w, apiErr, toolName)
}

// writeError writes an already classified error.
func writeError(w http.ResponseWriter, apiErr *apierror.Error, toolName string) {
	writeJSON(w, apiErr.HTTPStatus(), ErrorResponse{
		Success:        false,
		Error:          apiErr.Message,
		Kind:           apiErr.Kind,
		ToolName:       toolName,
		UpstreamStatus: apiErr.UpstreamStatus,
		UpstreamBody:   apiErr.UpstreamBody,
	})
}

// allowMethods reports whether r uses one of methods, writing a 405 if not.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, apierror.New(apierror.KindMethodNotAllowed,
		"method "+r.Method+" not allowed; use "+strings.Join(methods, " or ")), "")
	return false
}

// decodeBody parses a JSON request body into v. Unknown fields are ignored.
func decodeBody(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil {
		return nil
	}

	var maxErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return apierror.Validationf("request body is required")
	case errors.As(err, &maxErr):
		return apierror.Validationf("request body exceeds %d bytes", maxErr.Limit)
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return apierror.Validationf("%s must be a %s", typeErr.Field, jsonTypeName(typeErr.Type.Kind().String()))
	default:
		return apierror.Wrap(apierror.KindValidation, "invalid JSON body", err)
	}
}

func jsonTypeName(goKind string) string {
	switch goKind {
	case "bool":
		return "boolean"
	case "map", "struct":
		return "object"
	case "slice", "array":
		return "array"
	case "string", "ptr":
		return "string"
	default:
		return goKind
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
