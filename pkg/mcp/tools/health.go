package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// ReadyFunc reports whether the gateway can serve queries. nil means ready.
type ReadyFunc func(ctx context.Context) error

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status and version; with ready set it also
// runs the readiness check.
func RegisterHealthTool(s *server.MCPServer, version string, ready ReadyFunc) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns gateway health status and version"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if ready != nil {
			if err := ready(ctx); err != nil {
				res.Status = "not_ready"
				res.Error = err.Error()
			}
		}
		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
