// Package workbench runs caller-supplied SQL against the secured view layer.
//
// A statement is admitted through the concurrency limiter, validated as a
// single SELECT, checked by the readiness gate, rewritten from base tables
// to secured views, validated again against the dataset allow-list, wrapped
// in a row limit and executed under the read-only session with a cost check.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/audit"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-gateway/pkg/sql"
)

// Request is a workbench statement from an analyst.
type Request struct {
	SQL        string         `json:"sql"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DatasetID  string         `json:"dataset_id,omitempty"`
	MaxRows    int            `json:"max_rows,omitempty"`
	Export     bool           `json:"export,omitempty"`
	ClientIP   string         `json:"-"`
}

// Result is a normalized, JSON-safe workbench result. SQL is the rewritten
// statement that actually ran, before the row limit was applied.
type Result struct {
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	Truncated       bool             `json:"truncated"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	SQL             string           `json:"sql"`
}

// StatementExecutor runs a limited statement under the caller's session.
type StatementExecutor interface {
	ExecuteGuarded(ctx context.Context, s guard.Session, stmt guard.Statement) (*guard.Result, error)
	Config() guard.Config
}

// Admitter hands out concurrency slots.
type Admitter interface {
	Acquire(ctx context.Context, userID, orgID string) (guard.ReleaseFunc, error)
}

// ReadinessChecker verifies the database security objects exist.
type ReadinessChecker interface {
	AssertReady(ctx context.Context, s guard.Session, datasetIDs []string) error
}

// Service executes workbench statements.
type Service interface {
	Execute(ctx context.Context, qc *models.QueryContext, req *Request) (*Result, error)
}

type service struct {
	catalog  *dataset.Catalog
	executor StatementExecutor
	limiter  Admitter
	gate     ReadinessChecker
	auditor  audit.QueryLogger
	security *audit.SecurityAuditor
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService wires the workbench. gate may be nil when readiness checks
// are disabled by configuration.
func NewService(
	catalog *dataset.Catalog,
	executor StatementExecutor,
	limiter Admitter,
	gate ReadinessChecker,
	auditor audit.QueryLogger,
	security *audit.SecurityAuditor,
	m *metrics.Metrics,
	logger *zap.Logger,
) Service {
	return &service{
		catalog:  catalog,
		executor: executor,
		limiter:  limiter,
		gate:     gate,
		auditor:  auditor,
		security: security,
		metrics:  m,
		logger:   logger.Named("workbench"),
	}
}

var _ Service = (*service)(nil)

func (s *service) Execute(ctx context.Context, qc *models.QueryContext, req *Request) (*Result, error) {
	start := time.Now()
	queryType := audit.QueryTypeSQL
	if req.Export {
		queryType = audit.QueryTypeExport
	}
	res, err := s.execute(ctx, qc, req, queryType)
	s.metrics.ObserveQuery(string(queryType), outcomeOf(err), time.Since(start))
	return res, err
}

func (s *service) execute(ctx context.Context, qc *models.QueryContext, req *Request, queryType audit.QueryType) (*Result, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, apperrors.InvalidRequest("SQL query is required")
	}

	datasets, err := s.datasets(qc, req.DatasetID)
	if err != nil {
		return nil, err
	}

	release, err := s.limiter.Acquire(ctx, qc.UserID, qc.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer release()

	parsed := sqlpkg.ParseAndValidate(req.SQL)
	if !parsed.IsValid {
		s.security.LogQueryRejected(qc, parsed.ErrorMessage(), req.ClientIP)
		return nil, apperrors.Parse(parsed.ErrorMessage())
	}

	session := guard.SessionFor(qc)
	if s.gate != nil {
		if err := s.gate.AssertReady(ctx, session, datasetIDs(datasets)); err != nil {
			return nil, err
		}
	}

	stripped := sqlpkg.StripTrailingSemicolons(req.SQL)
	rewritten := sqlpkg.RewriteTables(stripped, dataset.TableMapping(datasets)).SQL

	reparsed := sqlpkg.ParseAndValidate(rewritten)
	if !reparsed.IsValid {
		return nil, apperrors.Parse(reparsed.ErrorMessage())
	}
	if errs := sqlpkg.ValidateAgainstDataset(reparsed, dataset.AllowedTables(datasets), dataset.AllowedColumns(datasets)); len(errs) > 0 {
		msg := strings.Join(errs, "; ")
		s.security.LogQueryRejected(qc, msg, req.ClientIP)
		return nil, apperrors.Authorization(msg)
	}

	if err := s.screenParameters(qc, req); err != nil {
		return nil, err
	}

	limit := s.executor.Config().RowCeiling(req.MaxRows, req.Export)
	limited := sqlpkg.BuildLimitedQuery(rewritten, limit)

	start := time.Now()
	raw, err := s.executor.ExecuteGuarded(ctx, session, guard.Statement{SQL: limited, Parameters: req.Parameters})
	if err != nil {
		s.logFailure(qc, rewritten, err)
		return nil, err
	}
	elapsed := guard.Elapsed(start)

	rows := NormalizeRows(raw.Rows)
	result := &Result{
		Columns:         raw.Columns,
		Rows:            rows,
		Truncated:       len(rows) >= limit,
		RowCount:        len(rows),
		ExecutionTimeMs: elapsed,
		SQL:             rewritten,
	}

	s.auditor.LogQuery(ctx, audit.QueryRecord{
		Context:         qc,
		QueryType:       queryType,
		DatasetID:       req.DatasetID,
		SQLQuery:        rewritten,
		Parameters:      req.Parameters,
		RowsReturned:    result.RowCount,
		ExecutionTimeMs: elapsed,
	})

	return result, nil
}

// datasets resolves the datasets a statement may reference: the requested
// one, or every dataset the caller can see.
func (s *service) datasets(qc *models.QueryContext, id string) ([]*models.Dataset, error) {
	selected, err := s.catalog.Select(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.KindInvalidRequest, "Unknown dataset: "+id, err)
		}
		return nil, err
	}

	visible := make([]*models.Dataset, 0, len(selected))
	for _, ds := range selected {
		if dataset.CanAccessDataset(ds, qc) {
			visible = append(visible, ds)
		}
	}
	if len(visible) == 0 {
		if id != "" {
			s.security.LogAccessDenied(qc, id, "dataset role restriction", "")
			return nil, apperrors.Forbidden("Dataset access denied")
		}
		return nil, apperrors.InvalidRequest("No datasets available for SQL workbench")
	}
	return visible, nil
}

func (s *service) screenParameters(qc *models.QueryContext, req *Request) error {
	results := sqlpkg.CheckAllParameters(req.Parameters)
	if len(results) == 0 {
		return nil
	}
	for _, r := range results {
		s.security.LogInjectionAttempt(qc, audit.InjectionDetails{
			ParamName:   r.ParamName,
			ParamValue:  fmt.Sprint(r.ParamValue),
			Fingerprint: r.Fingerprint,
			DatasetID:   req.DatasetID,
		}, req.ClientIP)
		s.metrics.InjectionRejected()
	}
	return sqlpkg.InjectionError(results)
}

func (s *service) logFailure(qc *models.QueryContext, sqlText string, err error) {
	if apperrors.KindOf(err) != "" {
		return
	}
	s.logger.Error("Workbench statement failed",
		zap.String("user_id", qc.UserID),
		zap.String("organization_id", qc.OrganizationID),
		zap.String("sql", logging.SanitizeQuery(sqlText)),
		zap.String("error", logging.SanitizeError(err)))
}

func datasetIDs(datasets []*models.Dataset) []string {
	ids := make([]string, len(datasets))
	for i, ds := range datasets {
		ids[i] = ds.ID
	}
	return ids
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
