package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/pivot"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

// BIToolDeps contains dependencies for the analytics tools.
type BIToolDeps struct {
	Workbench workbench.Service
	Pivot     pivot.Runner
	Catalog   *dataset.Catalog
	Logger    *zap.Logger
}

// runSQLArgs are the run_sql arguments. Agents often send numbers and
// booleans as strings.
type runSQLArgs struct {
	SQL        string                `json:"sql"`
	Parameters map[string]any        `json:"parameters"`
	DatasetID  string                `json:"dataset_id"`
	MaxRows    jsonutil.FlexibleInt  `json:"max_rows"`
	Export     jsonutil.FlexibleBool `json:"export"`
}

type runPivotArgs struct {
	models.PivotQuery
	Limit jsonutil.FlexibleInt `json:"limit"`
}

type clientIPKey struct{}

// WithClientIP records the caller's address for the security audit trail.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address recorded by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// RegisterBITools registers run_sql, run_pivot and list_datasets.
func RegisterBITools(s *server.MCPServer, deps *BIToolDeps) {
	registerRunSQLTool(s, deps)
	registerRunPivotTool(s, deps)
	registerListDatasetsTool(s, deps)
}

func registerRunSQLTool(s *server.MCPServer, deps *BIToolDeps) {
	tool := mcp.NewTool(
		"run_sql",
		mcp.WithDescription(
			"Run a single read-only SELECT against the analytics datasets. "+
				"Reference datasets by id (e.g. FROM events); they are rewritten to tenant-scoped views. "+
				"Use {{name}} placeholders with the parameters object for values. "+
				"PII columns are not queryable and results are capped."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("sql", mcp.Required(), mcp.Description("A single SELECT statement")),
		mcp.WithObject("parameters", mcp.Description("Values for {{name}} placeholders")),
		mcp.WithString("dataset_id", mcp.Description("Restrict the query to one dataset")),
		mcp.WithNumber("max_rows", mcp.Description("Row limit, capped by the gateway")),
		mcp.WithBoolean("export", mcp.Description("Use the larger export row ceiling")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qc, ok := auth.GetQueryContext(ctx)
		if !ok {
			return nil, fmt.Errorf("authentication required")
		}

		var args runSQLArgs
		if err := req.BindArguments(&args); err != nil {
			return NewErrorResult("invalid_request", "invalid arguments: "+err.Error()), nil
		}
		wreq := workbench.Request{
			SQL:        strings.TrimSpace(args.SQL),
			Parameters: args.Parameters,
			DatasetID:  args.DatasetID,
			MaxRows:    int(args.MaxRows),
			Export:     bool(args.Export),
			ClientIP:   ClientIP(ctx),
		}
		if wreq.SQL == "" {
			return NewErrorResult("invalid_request", "sql is required"), nil
		}

		result, err := deps.Workbench.Execute(ctx, qc, &wreq)
		if err != nil {
			return ResultForError(err)
		}
		return jsonResult(result)
	})
}

func registerRunPivotTool(s *server.MCPServer, deps *BIToolDeps) {
	tool := mcp.NewTool(
		"run_pivot",
		mcp.WithDescription(
			"Aggregate a dataset into a pivot table. Rows and columns are field ids that allow grouping; "+
				"measures aggregate fields (count needs no field). Call list_datasets for field ids and filter operators."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("dataset_id", mcp.Required(), mcp.Description("Dataset id")),
		mcp.WithArray("rows", mcp.Description("Row dimension field ids"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("columns", mcp.Description("Column dimension field ids"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("measures",
			mcp.Description("Measures to compute"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field": map[string]any{"type": "string"},
					"aggregation": map[string]any{
						"type": "string",
						"enum": []string{"count", "count_distinct", "sum", "avg", "min", "max", "median", "stddev", "variance"},
					},
					"label": map[string]any{"type": "string"},
				},
				"required": []string{"aggregation"},
			})),
		mcp.WithArray("filters",
			mcp.Description("Filters applied before aggregation"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field":    map[string]any{"type": "string"},
					"operator": map[string]any{"type": "string"},
					"value":    map[string]any{},
				},
				"required": []string{"field", "operator"},
			})),
		mcp.WithString("organization_id", mcp.Description("Target organization (global admins only)")),
		mcp.WithNumber("limit", mcp.Description("Raw row limit for the in-memory fallback")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qc, ok := auth.GetQueryContext(ctx)
		if !ok {
			return nil, fmt.Errorf("authentication required")
		}

		var args runPivotArgs
		if err := req.BindArguments(&args); err != nil {
			return NewErrorResult("invalid_request", "invalid arguments: "+err.Error()), nil
		}
		q := args.PivotQuery
		q.Limit = int(args.Limit)

		result, err := deps.Pivot.Run(ctx, qc, &q)
		if err != nil {
			return ResultForError(err)
		}
		return jsonResult(result)
	})
}

func registerListDatasetsTool(s *server.MCPServer, deps *BIToolDeps) {
	tool := mcp.NewTool(
		"list_datasets",
		mcp.WithDescription("List the datasets and fields available to the caller, with masking flags and allowed filter operators"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qc, ok := auth.GetQueryContext(ctx)
		if !ok {
			return nil, fmt.Errorf("authentication required")
		}
		return jsonResult(map[string]any{"datasets": dataset.Describe(deps.Catalog.List(), qc)})
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
