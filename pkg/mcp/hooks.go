package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
)

// ToolCallLogger records every MCP tool call with its caller, duration and
// outcome. Query-level auditing happens in the workbench and pivot runner;
// this covers the protocol layer, including calls that never reach them.
type ToolCallLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallLogger creates a ToolCallLogger. m may be nil.
func NewToolCallLogger(logger *zap.Logger, m *metrics.Metrics) *ToolCallLogger {
	return &ToolCallLogger{
		logger:  logger.Named("mcp-tools"),
		metrics: m,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (l *ToolCallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(l.beforeCallTool)
	hooks.AddAfterCallTool(l.afterCallTool)
	hooks.AddOnError(l.onError)
	return hooks
}

func (l *ToolCallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	l.startTimes.Store(id, time.Now())
}

func (l *ToolCallLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	outcome := "ok"
	if result != nil && result.IsError {
		outcome = "tool_error"
	}
	l.metrics.ToolCall(req.Params.Name, outcome)
	l.logger.Info("Tool call",
		append(l.fields(ctx, id, req), zap.String("outcome", outcome))...)
}

func (l *ToolCallLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	l.metrics.ToolCall(req.Params.Name, "error")
	l.logger.Warn("Tool call failed",
		append(l.fields(ctx, id, req),
			zap.String("outcome", "error"),
			zap.String("error", logging.SanitizeError(err)))...)
}

func (l *ToolCallLogger) fields(ctx context.Context, id any, req *mcplib.CallToolRequest) []zap.Field {
	started := time.Now()
	if v, ok := l.startTimes.LoadAndDelete(id); ok {
		started = v.(time.Time)
	}

	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	}
	if qc, ok := auth.GetQueryContext(ctx); ok {
		fields = append(fields, zap.String("user_id", qc.UserID))
		if qc.OrganizationID != "" {
			fields = append(fields, zap.String("organization_id", qc.OrganizationID))
		}
	}
	return fields
}
