package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

func jsonAuditor(buf *bytes.Buffer) *QueryAuditor {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(buf), zapcore.InfoLevel)
	logger := zap.New(core).Named("gateway")
	// Unrelated lines share the stream.
	logger.Info("Starting BI gateway")

	a := NewQueryAuditor(logger, testSecret)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(1500 * time.Millisecond)
		return clock
	}
	return a
}

func TestReadLogEntries_RoundTripVerifies(t *testing.T) {
	var buf bytes.Buffer
	a := jsonAuditor(&buf)
	ctx := context.Background()
	orgA := &models.QueryContext{UserID: "u1", OrganizationID: "org-a"}
	admin := &models.QueryContext{UserID: "root", IsGlobalAdmin: true}

	a.LogQuery(ctx, QueryRecord{Context: orgA, QueryType: QueryTypeSQL, SQLQuery: "SELECT 1", RowsReturned: 1})
	a.LogQuery(ctx, QueryRecord{Context: admin, QueryType: QueryTypeExport, SQLQuery: "SELECT 2", RowsReturned: 10})
	a.LogQuery(ctx, QueryRecord{Context: orgA, QueryType: QueryTypePivot, PivotQuery: &models.PivotQuery{DatasetID: "events"}})

	buf.WriteString("not json\n")

	chains, err := ReadLogEntries(&buf)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	require.Len(t, chains["org-a"], 2)
	require.Len(t, chains[""], 1)

	for org, entries := range chains {
		assert.Nil(t, VerifyChain(testSecret, entries), "chain for %q should verify", org)
	}
	require.NotNil(t, chains["org-a"][1].PreviousLogID)
	assert.Equal(t, chains["org-a"][0].ID, *chains["org-a"][1].PreviousLogID)
}

func TestReadLogEntries_DetectsEditedLine(t *testing.T) {
	var buf bytes.Buffer
	a := jsonAuditor(&buf)
	qc := &models.QueryContext{UserID: "u1", OrganizationID: "org-a"}
	for i := 0; i < 3; i++ {
		a.LogQuery(context.Background(), QueryRecord{Context: qc, QueryType: QueryTypeSQL, SQLQuery: "SELECT 1", RowsReturned: 5})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	lines[2] = strings.Replace(lines[2], `"rows_returned":5`, `"rows_returned":0`, 1)

	chains, err := ReadLogEntries(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	bad := VerifyChain(testSecret, chains["org-a"])
	require.NotNil(t, bad)
	assert.Equal(t, chains["org-a"][1].ID, *bad)
}

func TestReadLogEntries_InvalidTimestamp(t *testing.T) {
	line := `{"logger":"bi_query_log","id":"8f8b0a4e-2f5c-4a51-9d7e-0a4b7f3f1c11","created_at":"yesterday"}`
	_, err := ReadLogEntries(strings.NewReader(line))
	assert.ErrorContains(t, err, "line 1")
}

func TestIsQueryLogger(t *testing.T) {
	assert.True(t, isQueryLogger("bi_query_log"))
	assert.True(t, isQueryLogger("gateway.bi_query_log"))
	assert.False(t, isQueryLogger("gatewaybi_query_log"))
	assert.False(t, isQueryLogger("workbench"))
	assert.False(t, isQueryLogger(""))
}
