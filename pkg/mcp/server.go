package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-gateway/pkg/middleware"
)

// Server wraps the mcp-go MCPServer that exposes the analytics tools.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance. Extra options (hooks,
// instructions) are passed through to mcp-go.
func NewServer(name, version string, logger *zap.Logger, opts ...server.ServerOption) *Server {
	opts = append([]server.ServerOption{server.WithToolCapabilities(true)}, opts...)
	mcpServer := server.NewMCPServer(name, version, opts...)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
// The caller's address is copied into the tool context for the audit trail.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return tools.WithClientIP(ctx, middleware.ClientIP(r))
		}),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
