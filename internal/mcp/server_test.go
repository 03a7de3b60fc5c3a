// ABOUTME: Tests for the MCP HTTP endpoint including tool listing and execution.
// ABOUTME: Runs a real dispatcher over a fake CRM forwarder.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
	"github.com/ambivo-corp/ambivo-gpt/internal/auth"
	"github.com/ambivo-corp/ambivo-gpt/internal/crm"
	"github.com/ambivo-corp/ambivo-gpt/internal/query"
	"github.com/ambivo-corp/ambivo-gpt/internal/tools"
)

type stubForwarder struct {
	tokens []string
	body   string
	err    error
}

func (f *stubForwarder) NaturalQuery(_ context.Context, token string, _ crm.Payload) (*crm.Response, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return &crm.Response{Status: 200, Body: []byte(f.body), Attempts: 1}, nil
}

func newTestServer(t *testing.T, fwd *stubForwarder) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := tools.NewDispatcher(tools.Options{
		Forwarder: fwd,
		Resolver:  auth.NewResolver(""),
		Validator: query.Validator{MinLength: 1, MaxLength: 1000},
		Info:      tools.Info{Name: "ambivo-gpt", Version: "test"},
		Logger:    logger,
	})
	s, err := NewServer(Config{Dispatcher: d, Logger: logger})
	require.NoError(t, err)
	return s
}

func rpc(t *testing.T, s *Server, body string, header http.Header) (*httptest.ResponseRecorder, JSONRPCResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp JSONRPCResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func resultInto(t *testing.T, resp JSONRPCResponse, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestNewServer_RequiresDispatcher(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t, &stubForwarder{})

	rec, resp := rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Mcp-Session-Id"))

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Capabilities map[string]any `json:"capabilities"`
	}
	resultInto(t, resp, &result)
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	assert.Equal(t, "ambivo-gpt", result.ServerInfo.Name)
	assert.Contains(t, result.Capabilities, "tools")
}

func TestInitialize_UnknownVersionGetsLatest(t *testing.T) {
	_, resp := rpc(t, newTestServer(t, &stubForwarder{}), `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`, nil)

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	resultInto(t, resp, &result)
	assert.Equal(t, latestProtocolVersion, result.ProtocolVersion)
}

func TestPing(t *testing.T) {
	_, resp := rpc(t, newTestServer(t, &stubForwarder{}), `{"jsonrpc":"2.0","id":"p","method":"ping"}`, nil)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
	assert.JSONEq(t, `"p"`, string(resp.ID))
}

func TestToolsList(t *testing.T) {
	_, resp := rpc(t, newTestServer(t, &stubForwarder{}), `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)

	var result MCPListToolsResult
	resultInto(t, resp, &result)
	require.Len(t, result.Tools, 3)
	assert.Equal(t, tools.NaturalQuery, result.Tools[0].Name)
	assert.True(t, json.Valid(result.Tools[0].InputSchema))
}

func TestToolsCall_NaturalQuery(t *testing.T) {
	fwd := &stubForwarder{body: `{"natural_response":"12 leads this week."}`}
	s := newTestServer(t, fwd)

	header := http.Header{"Authorization": []string{"Bearer header-token"}}
	_, resp := rpc(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"natural_query","arguments":{"query":"leads this week","response_format":"natural"}}}`, header)

	var result MCPCallToolResult
	resultInto(t, resp, &result)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "12 leads this week.", result.Content[0].Text)
	assert.Equal(t, []string{"header-token"}, fwd.tokens)
}

func TestToolsCall_MissingCredentialIsToolError(t *testing.T) {
	fwd := &stubForwarder{}
	_, resp := rpc(t, newTestServer(t, fwd), `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"natural_query","arguments":{"query":"q"}}}`, nil)

	var result MCPCallToolResult
	resultInto(t, resp, &result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "authentication required")
	assert.Empty(t, fwd.tokens)
}

func TestToolsCall_UpstreamErrorIncludesBody(t *testing.T) {
	fwd := &stubForwarder{err: apierror.Upstream(422, `{"detail":"unknown entity"}`, crm.ErrUpstreamStatus)}
	header := http.Header{"Authorization": []string{"Bearer t"}}
	_, resp := rpc(t, newTestServer(t, fwd), `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"natural_query","arguments":{"query":"q"}}}`, header)

	var result MCPCallToolResult
	resultInto(t, resp, &result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "CRM returned HTTP 422")
	assert.Contains(t, result.Content[0].Text, "unknown entity")
}

func TestToolsCall_UnknownTool(t *testing.T) {
	_, resp := rpc(t, newTestServer(t, &stubForwarder{}), `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nonexistent_tool"}}`, nil)

	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "nonexistent_tool")
}

func TestToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t, &stubForwarder{})

	tests := map[string]string{
		"missing name":   `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{}}`,
		"params not obj": `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":[1,2]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, resp := rpc(t, s, body, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	s := newTestServer(t, &stubForwarder{})

	t.Run("invalid JSON", func(t *testing.T) {
		_, resp := rpc(t, s, `{not json`, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCParseError, resp.Error.Code)
	})

	t.Run("wrong version", func(t *testing.T) {
		_, resp := rpc(t, s, `{"jsonrpc":"1.0","id":1,"method":"ping"}`, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, resp := rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	})

	t.Run("unsupported protocol header", func(t *testing.T) {
		rec, _ := rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			http.Header{"Mcp-Protocol-Version": []string{"2020-01-01"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNotificationAccepted(t *testing.T) {
	rec, _ := rpc(t, newTestServer(t, &stubForwarder{}), `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestNonPostRejected(t *testing.T) {
	s := newTestServer(t, &stubForwarder{})
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
	}
}
