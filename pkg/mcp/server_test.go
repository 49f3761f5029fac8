package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/mcp/tools"
)

func TestNewServer(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	require.NotNil(t, s)
	require.NotNil(t, s.mcp)
	assert.Same(t, s.mcp, s.MCP())
	assert.NotNil(t, s.logger)
}

func TestServer_RegisterTool(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	tool := mcp.NewTool("echo", mcp.WithDescription("A test tool"))
	handlerCalled := false
	s.RegisterTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		handlerCalled = true
		return mcp.NewToolResultText("success"), nil
	})
	assert.False(t, handlerCalled, "handler should not be called during registration")

	raw, err := json.Marshal(s.MCP().HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name":"echo"`)
}

func TestServer_StreamableHTTPCarriesClientIP(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	var gotIP string
	s.RegisterTool(mcp.NewTool("whoami"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gotIP = tools.ClientIP(ctx)
		return mcp.NewToolResultText("ok"), nil
	})

	httpServer := s.NewStreamableHTTPServer()
	require.NotNil(t, httpServer)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"whoami","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()

	httpServer.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "203.0.113.9", gotIP)
}
