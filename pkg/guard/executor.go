package guard

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-gateway/pkg/sql"
)

// SQLSTATE codes the executor classifies.
const (
	pgUndefinedTable        = "42P01"
	pgInvalidSchemaName     = "3F000"
	pgInsufficientPrivilege = "42501"
	pgQueryCanceled         = "57014"
)

// Session is the tenant context a guarded transaction runs under.
type Session struct {
	OrganizationID string
	IsGlobalAdmin  bool
}

// SessionFor derives the session from a caller's query context.
func SessionFor(qc *models.QueryContext) Session {
	if qc == nil {
		return Session{}
	}
	return Session{OrganizationID: qc.OrganizationID, IsGlobalAdmin: qc.IsGlobalAdmin}
}

// Statement is a workbench statement ready for execution. SQL still carries
// {{name}} placeholders; Parameters supplies their values.
type Statement struct {
	SQL        string
	Parameters map[string]any
}

// Result holds rows scanned into column-keyed maps, in result order.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Executor runs statements inside session-scoped, read-only transactions.
type Executor struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

func NewExecutor(db *sql.DB, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		db:     db,
		cfg:    cfg,
		logger: logger.Named("guard_executor"),
	}
}

// Config returns the guardrails the executor enforces.
func (e *Executor) Config() Config {
	return e.cfg
}

// InSession opens a read-only transaction, applies the session settings in
// order and runs fn. The transaction is committed when fn succeeds and
// rolled back otherwise; the settings are transaction-local either way.
func (e *Executor) InSession(ctx context.Context, s Session, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin guarded transaction: %w", classifyDBError(err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	if err := e.applySession(ctx, tx, s); err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit guarded transaction: %w", classifyDBError(err))
	}
	return nil
}

func (e *Executor) applySession(ctx context.Context, tx *sql.Tx, s Session) error {
	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{"role", "SET LOCAL ROLE " + ReadOnlyRole, nil},
		{"organization", "SELECT set_config('" + OrgIDSetting + "', $1, true)", []any{s.OrganizationID}},
		{"global admin", "SELECT set_config('" + GlobalAdminSetting + "', $1, true)", []any{formatBool(s.IsGlobalAdmin)}},
		{"statement timeout", fmt.Sprintf("SET LOCAL %s = %d", StatementTimeoutVar, e.cfg.StatementTimeout.Milliseconds()), nil},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			e.logger.Error("Failed to apply session setting",
				zap.String("setting", step.name),
				zap.String("error", logging.SanitizeError(err)))
			return fmt.Errorf("apply session %s: %w", step.name, classifyDBError(err))
		}
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ExecuteGuarded runs a workbench statement: session settings, a cost check
// over the statement with parameters inlined as literals, then the same
// statement with bound parameters.
func (e *Executor) ExecuteGuarded(ctx context.Context, s Session, stmt Statement) (*Result, error) {
	inlined, err := sqlpkg.InlineParameters(stmt.SQL, stmt.Parameters)
	if err != nil {
		return nil, err
	}
	bound, args, err := sqlpkg.BindParameters(stmt.SQL, stmt.Parameters)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = e.InSession(ctx, s, func(ctx context.Context, tx *sql.Tx) error {
		cost, err := EstimateCost(ctx, tx, inlined)
		if err != nil {
			return err
		}
		if cost > e.cfg.MaxEstimatedCost {
			e.logger.Info("Rejected statement over cost limit",
				zap.Float64("estimated_cost", cost),
				zap.Float64("max_cost", e.cfg.MaxEstimatedCost),
				zap.String("sql", logging.SanitizeQuery(inlined)))
			return apperrors.CostExceeded()
		}
		result, err = QueryRows(ctx, tx, bound, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Query runs an already-bound statement under the session without a cost
// check. The pivot compiler bounds its own output with a row cap.
func (e *Executor) Query(ctx context.Context, s Session, query string, args ...any) (*Result, error) {
	var result *Result
	err := e.InSession(ctx, s, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		result, err = QueryRows(ctx, tx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type explainPlan struct {
	Plan struct {
		TotalCost float64 `json:"Total Cost"`
	} `json:"Plan"`
}

// EstimateCost returns the planner's total cost estimate for query.
func EstimateCost(ctx context.Context, tx *sql.Tx, query string) (float64, error) {
	var raw []byte
	if err := tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&raw); err != nil {
		return 0, fmt.Errorf("estimate cost: %w", classifyDBError(err))
	}
	var plans []explainPlan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return 0, fmt.Errorf("decode query plan: %w", err)
	}
	if len(plans) == 0 {
		return 0, nil
	}
	return plans[0].Plan.TotalCost, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryRows runs query and scans every row into a column-keyed map.
// Byte slices are returned as strings.
func QueryRows(ctx context.Context, q queryer, query string, args ...any) (*Result, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	jsonColumns := make([]bool, len(columns))
	for i, ct := range types {
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "JSON", "JSONB":
			jsonColumns[i] = true
		}
	}

	result := &Result{Columns: columns, Rows: make([]map[string]any, 0)}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if jsonColumns[i] {
				row[col] = decodeJSONColumn(values[i])
				continue
			}
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err)
	}
	return result, nil
}

// decodeJSONColumn turns a json/jsonb value into nested maps and slices.
// Numbers keep their text form. Undecodable input is returned as a string.
func decodeJSONColumn(v any) any {
	var raw []byte
	switch val := v.(type) {
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return string(raw)
	}
	return out
}

// classifyDBError maps Postgres error codes onto the gateway taxonomy.
// Unrecognized errors are returned unchanged.
func classifyDBError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUndefinedTable, pgInvalidSchemaName:
		return fmt.Errorf("%w: %w", apperrors.ErrMissingView, err)
	case pgInsufficientPrivilege:
		return apperrors.Wrap(apperrors.KindAuthorization, "Permission denied for the requested data", err)
	case pgQueryCanceled:
		return fmt.Errorf("query cancelled by statement timeout: %w", err)
	}
	return err
}

// Elapsed reports the milliseconds since start, for result metadata.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
