package guard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := NewConfig(Config{StatementTimeout: 15 * time.Second, MaxEstimatedCost: 1000})
	return NewExecutor(db, cfg, zaptest.NewLogger(t)), mock
}

func expectSession(mock sqlmock.Sqlmock, orgID, admin string) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL ROLE bi_readonly").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT set_config('app.org_id', $1, true)").WithArgs(orgID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT set_config('app.is_global_admin', $1, true)").WithArgs(admin).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET LOCAL statement_timeout = 15000").WillReturnResult(sqlmock.NewResult(0, 0))
}

const limitedSQL = "SELECT * FROM (SELECT id, name FROM bi_v_organizations AS organizations WHERE active = {{active}} AND name = {{name}}) AS limited LIMIT 10"

func TestExecuteGuarded_SessionOrderCostThenQuery(t *testing.T) {
	exec, mock := newMockExecutor(t)

	expectSession(mock, "org-1", "false")
	mock.ExpectQuery("EXPLAIN (FORMAT JSON) SELECT * FROM (SELECT id, name FROM bi_v_organizations AS organizations WHERE active = TRUE AND name = 'O''Neil') AS limited LIMIT 10").
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(`[{"Plan":{"Node Type":"Limit","Total Cost":42.5}}]`))
	mock.ExpectQuery("SELECT * FROM (SELECT id, name FROM bi_v_organizations AS organizations WHERE active = $1 AND name = $2) AS limited LIMIT 10").
		WithArgs(true, "O'Neil").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("a1", []byte("O'Neil Club")).
			AddRow("a2", "Other"))
	mock.ExpectCommit()

	result, err := exec.ExecuteGuarded(context.Background(), Session{OrganizationID: "org-1"}, Statement{
		SQL:        limitedSQL,
		Parameters: map[string]any{"active": true, "name": "O'Neil"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "O'Neil Club", result.Rows[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteGuarded_CostExceededRollsBack(t *testing.T) {
	exec, mock := newMockExecutor(t)

	expectSession(mock, "", "true")
	mock.ExpectQuery("EXPLAIN (FORMAT JSON) SELECT * FROM (SELECT id, name FROM bi_v_organizations AS organizations WHERE active = FALSE AND name = 'x') AS limited LIMIT 10").
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(`[{"Plan":{"Total Cost":5000000}}]`))
	mock.ExpectRollback()

	_, err := exec.ExecuteGuarded(context.Background(), Session{IsGlobalAdmin: true}, Statement{
		SQL:        limitedSQL,
		Parameters: map[string]any{"active": false, "name": "x"},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCostExceeded, apperrors.KindOf(err))
	assert.Equal(t, "SQL query exceeds cost limits", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteGuarded_MissingParameterNeverTouchesDatabase(t *testing.T) {
	exec, mock := newMockExecutor(t)

	_, err := exec.ExecuteGuarded(context.Background(), Session{}, Statement{
		SQL:        limitedSQL,
		Parameters: map[string]any{"active": true},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMissingParameter, apperrors.KindOf(err))
	assert.Equal(t, "Missing SQL parameter: name", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteGuarded_SessionFailureRollsBack(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL ROLE bi_readonly").WillReturnError(&pgconn.PgError{Code: "22023", Message: `role "bi_readonly" does not exist`})
	mock.ExpectRollback()

	_, err := exec.ExecuteGuarded(context.Background(), Session{}, Statement{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply session role")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_MissingViewIsClassified(t *testing.T) {
	exec, mock := newMockExecutor(t)

	expectSession(mock, "org-9", "false")
	mock.ExpectQuery(`SELECT COUNT(*) AS "m0" FROM "bi_v_events" AS "base" LIMIT 25001`).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "bi_v_events" does not exist`})
	mock.ExpectRollback()

	_, err := exec.Query(context.Background(), Session{OrganizationID: "org-9"}, `SELECT COUNT(*) AS "m0" FROM "bi_v_events" AS "base" LIMIT 25001`)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMissingView)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_InsufficientPrivilegeIsAuthorization(t *testing.T) {
	exec, mock := newMockExecutor(t)

	expectSession(mock, "org-9", "false")
	mock.ExpectQuery("SELECT 1").WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied"})
	mock.ExpectRollback()

	_, err := exec.Query(context.Background(), Session{OrganizationID: "org-9"}, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRows_DecodesJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name, payload, tags, note FROM bi_v_events").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("name").OfType("TEXT", ""),
			sqlmock.NewColumn("payload").OfType("JSONB", []byte(nil)),
			sqlmock.NewColumn("tags").OfType("JSON", ""),
			sqlmock.NewColumn("note").OfType("JSONB", []byte(nil)),
		).AddRow([]byte("signup"), []byte(`{"plan":{"tier":"pro"},"seats":12}`), `["a","b"]`, []byte(`not json`)))

	res, err := QueryRows(context.Background(), db, "SELECT name, payload, tags, note FROM bi_v_events")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "signup", row["name"])
	assert.Equal(t, map[string]any{
		"plan":  map[string]any{"tier": "pro"},
		"seats": json.Number("12"),
	}, row["payload"])
	assert.Equal(t, []any{"a", "b"}, row["tags"])
	assert.Equal(t, "not json", row["note"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEstimateCost_EmptyPlan(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("EXPLAIN (FORMAT JSON) SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(`[]`))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	cost, err := EstimateCost(context.Background(), tx, "SELECT 1")
	require.NoError(t, err)
	assert.Zero(t, cost)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
