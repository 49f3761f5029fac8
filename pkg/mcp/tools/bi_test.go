package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/pivot"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	return callToolWithContext(t, context.Background(), s, name, args)
}

// callToolWithContext sends a tools/call request through the server and
// returns the first text content and whether the call failed. Protocol
// errors are reported as failures carrying the JSON-RPC error message.
func callToolWithContext(t *testing.T, ctx context.Context, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()

	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(ctx, request))
	require.NoError(t, err)

	var response struct {
		Result *struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	if response.Error != nil {
		return response.Error.Message, true
	}
	require.NotNil(t, response.Result, "expected result in response: %s", raw)
	require.NotEmpty(t, response.Result.Content)
	return response.Result.Content[0].Text, response.Result.IsError
}

type stubWorkbench struct {
	got    workbench.Request
	gotQC  *models.QueryContext
	result *workbench.Result
	err    error
}

func (s *stubWorkbench) Execute(_ context.Context, qc *models.QueryContext, req *workbench.Request) (*workbench.Result, error) {
	s.got, s.gotQC = *req, qc
	return s.result, s.err
}

type stubRunner struct {
	got    *models.PivotQuery
	result *pivot.Result
	err    error
}

func (s *stubRunner) Run(_ context.Context, _ *models.QueryContext, q *models.PivotQuery) (*pivot.Result, error) {
	s.got = q
	return s.result, s.err
}

func newBIServer(t *testing.T, wb workbench.Service, runner pivot.Runner) *server.MCPServer {
	t.Helper()
	catalog, err := dataset.DefaultCatalog()
	require.NoError(t, err)

	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterBITools(s, &BIToolDeps{Workbench: wb, Pivot: runner, Catalog: catalog, Logger: zap.NewNop()})
	return s
}

func analystContext(orgRole string) context.Context {
	qc := &models.QueryContext{UserID: "user-1", OrganizationID: "org-1", OrgRole: orgRole}
	return auth.WithQueryContext(context.Background(), qc)
}

func TestRunSQLTool_Success(t *testing.T) {
	wb := &stubWorkbench{result: &workbench.Result{
		Columns:  []string{"status", "n"},
		Rows:     []map[string]any{{"status": "approved", "n": 3}},
		RowCount: 1,
	}}
	s := newBIServer(t, wb, &stubRunner{})

	ctx := WithClientIP(analystContext("admin"), "10.0.0.7")
	text, isError := callToolWithContext(t, ctx, s, "run_sql", map[string]any{
		"sql":        "  SELECT status, count(*) AS n FROM events WHERE type = {{type}} GROUP BY status  ",
		"parameters": map[string]any{"type": "login"},
		"max_rows":   "50",
		"export":     "true",
	})
	require.False(t, isError, text)

	assert.Equal(t, "SELECT status, count(*) AS n FROM events WHERE type = {{type}} GROUP BY status", wb.got.SQL)
	assert.Equal(t, "login", wb.got.Parameters["type"])
	assert.Equal(t, 50, wb.got.MaxRows)
	assert.True(t, wb.got.Export)
	assert.Equal(t, "10.0.0.7", wb.got.ClientIP)
	assert.Equal(t, "user-1", wb.gotQC.UserID)

	var got workbench.Result
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, []string{"status", "n"}, got.Columns)
	assert.Equal(t, 1, got.RowCount)
}

func TestRunSQLTool_EmptySQL(t *testing.T) {
	wb := &stubWorkbench{}
	s := newBIServer(t, wb, &stubRunner{})

	text, isError := callToolWithContext(t, analystContext("admin"), s, "run_sql", map[string]any{"sql": "   "})
	require.True(t, isError)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "invalid_request", resp.Code)
	assert.Empty(t, wb.got.SQL, "workbench should not be called")
}

func TestRunSQLTool_ClassifiedError(t *testing.T) {
	wb := &stubWorkbench{err: apperrors.Authorization(`Column "email" is not accessible`)}
	s := newBIServer(t, wb, &stubRunner{})

	text, isError := callToolWithContext(t, analystContext("admin"), s, "run_sql", map[string]any{"sql": "SELECT email FROM events"})
	require.True(t, isError)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "authorization_error", resp.Code)
	assert.Equal(t, `Column "email" is not accessible`, resp.Message)
}

func TestRunSQLTool_SystemErrorIsProtocolError(t *testing.T) {
	wb := &stubWorkbench{err: fmt.Errorf("connection reset")}
	s := newBIServer(t, wb, &stubRunner{})

	text, isError := callToolWithContext(t, analystContext("admin"), s, "run_sql", map[string]any{"sql": "SELECT 1"})
	assert.True(t, isError)
	assert.Contains(t, text, "connection reset")
}

func TestRunSQLTool_RequiresAuthentication(t *testing.T) {
	wb := &stubWorkbench{}
	s := newBIServer(t, wb, &stubRunner{})

	text, isError := callTool(t, s, "run_sql", map[string]any{"sql": "SELECT 1"})
	assert.True(t, isError)
	assert.Contains(t, text, "authentication required")
	assert.Nil(t, wb.gotQC)
}

func TestRunPivotTool_Success(t *testing.T) {
	runner := &stubRunner{result: &pivot.Result{
		Pivot:    &models.PivotResult{RowFields: []string{"status"}},
		RowCount: 4,
		Strategy: pivot.StrategyCompiledSQL,
	}}
	s := newBIServer(t, &stubWorkbench{}, runner)

	text, isError := callToolWithContext(t, analystContext("admin"), s, "run_pivot", map[string]any{
		"dataset_id": "reporting_submissions",
		"rows":       []any{"status"},
		"measures":   []any{map[string]any{"aggregation": "count"}},
		"filters":    []any{map[string]any{"field": "status", "operator": "in", "value": []any{"approved", "rejected"}}},
		"limit":      "2000",
	})
	require.False(t, isError, text)

	require.NotNil(t, runner.got)
	assert.Equal(t, "reporting_submissions", runner.got.DatasetID)
	assert.Equal(t, []string{"status"}, runner.got.Rows)
	require.Len(t, runner.got.Measures, 1)
	assert.Nil(t, runner.got.Measures[0].Field)
	assert.Equal(t, models.AggCount, runner.got.Measures[0].Aggregation)
	require.Len(t, runner.got.Filters, 1)
	assert.Equal(t, "status", runner.got.Filters[0].Field)
	assert.Equal(t, 2000, runner.got.Limit)

	var got pivot.Result
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, pivot.StrategyCompiledSQL, got.Strategy)
	assert.Equal(t, 4, got.RowCount)
}

func TestRunPivotTool_UnknownDataset(t *testing.T) {
	runner := &stubRunner{err: apperrors.Wrap(apperrors.KindInvalidRequest, "Unknown dataset: nope", apperrors.ErrNotFound)}
	s := newBIServer(t, &stubWorkbench{}, runner)

	text, isError := callToolWithContext(t, analystContext("admin"), s, "run_pivot", map[string]any{"dataset_id": "nope"})
	require.True(t, isError)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "not_found", resp.Code)
}

func TestListDatasetsTool_FiltersByRole(t *testing.T) {
	s := newBIServer(t, &stubWorkbench{}, &stubRunner{})

	ids := func(ctx context.Context) []string {
		text, isError := callToolWithContext(t, ctx, s, "list_datasets", nil)
		require.False(t, isError, text)
		var got struct {
			Datasets []dataset.DatasetView `json:"datasets"`
		}
		require.NoError(t, json.Unmarshal([]byte(text), &got))
		out := make([]string, 0, len(got.Datasets))
		for _, ds := range got.Datasets {
			out = append(out, ds.ID)
		}
		return out
	}

	assert.Contains(t, ids(analystContext("reporter")), "form_submissions")
	assert.NotContains(t, ids(analystContext("viewer")), "form_submissions")
	assert.Contains(t, ids(analystContext("viewer")), "events")
}
