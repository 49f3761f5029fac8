package pivot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/audit"
	"github.com/ekaya-inc/ekaya-gateway/pkg/cache"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// Strategy names how a pivot was computed.
type Strategy string

const (
	StrategyCompiledSQL      Strategy = "compiled_sql"
	StrategyInMemoryFallback Strategy = "in_memory_fallback"
	StrategyCache            Strategy = "cache"
)

// Result is a computed or cached pivot.
type Result struct {
	Pivot           *models.PivotResult `json:"pivot"`
	RowCount        int                 `json:"row_count"`
	ExecutionTimeMs int64               `json:"execution_time_ms"`
	Strategy        Strategy            `json:"strategy"`
}

// QueryExecutor runs bound statements under the read-only session.
type QueryExecutor interface {
	Query(ctx context.Context, s guard.Session, query string, args ...any) (*guard.Result, error)
	Config() guard.Config
}

// Admitter hands out concurrency slots.
type Admitter interface {
	Acquire(ctx context.Context, userID, orgID string) (guard.ReleaseFunc, error)
}

// Runner executes pivot requests for a caller.
type Runner interface {
	Run(ctx context.Context, qc *models.QueryContext, q *models.PivotQuery) (*Result, error)
}

type runner struct {
	catalog  *dataset.Catalog
	executor QueryExecutor
	limiter  Admitter
	cache    cache.Store
	cacheTTL time.Duration
	loader   RowLoader
	auditor  audit.QueryLogger
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRunner wires a pivot runner. store and loader may be nil: without a
// store nothing is cached, and without a loader a missing view is an error.
func NewRunner(
	catalog *dataset.Catalog,
	executor QueryExecutor,
	limiter Admitter,
	store cache.Store,
	cacheTTL time.Duration,
	loader RowLoader,
	auditor audit.QueryLogger,
	m *metrics.Metrics,
	logger *zap.Logger,
) Runner {
	return &runner{
		catalog:  catalog,
		executor: executor,
		limiter:  limiter,
		cache:    store,
		cacheTTL: cacheTTL,
		loader:   loader,
		auditor:  auditor,
		metrics:  m,
		logger:   logger.Named("pivot"),
	}
}

func (r *runner) Run(ctx context.Context, qc *models.QueryContext, q *models.PivotQuery) (*Result, error) {
	started := time.Now()
	res, err := r.run(ctx, qc, q)
	r.metrics.ObserveQuery(string(audit.QueryTypePivot), outcomeOf(err), time.Since(started))
	return res, err
}

// outcomeOf labels a finished query for metrics.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func (r *runner) run(ctx context.Context, qc *models.QueryContext, q *models.PivotQuery) (*Result, error) {
	ds, err := r.catalog.Get(q.DatasetID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidRequest, "Unknown dataset: "+q.DatasetID, err)
	}
	if !dataset.CanAccessDataset(ds, qc) {
		return nil, apperrors.Forbidden("Dataset access denied")
	}

	orgID, err := ResolveOrgScope(ds, qc, q.OrganizationID, q.Filters)
	if err != nil {
		return nil, err
	}
	scopedCtx := qc.WithOrganization(orgID)
	scoped := &scopedCtx

	cfg, err := NormalizeConfig(ds, q)
	if err != nil {
		return nil, err
	}
	accessible, err := checkFieldAccess(ds, scoped, cfg.RequestedFields())
	if err != nil {
		return nil, err
	}
	filters := scopeFilters(ds, orgID, cfg.Filters)
	masked := dataset.FieldsToMask(accessible, scoped)
	limits := r.executor.Config()
	rawLimit := limits.RowCeiling(q.Limit, false)

	key, keyErr := cache.KeyFor(qc.UserID, orgID, q)
	if keyErr != nil {
		r.logger.Warn("Skipping pivot cache", zap.Error(keyErr))
	}
	if r.cache != nil && keyErr == nil {
		entry, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("Pivot cache read failed", zap.String("dataset_id", ds.ID), zap.Error(err))
		}
		r.metrics.CacheLookup(ok)
		if ok {
			r.auditor.LogQuery(ctx, audit.QueryRecord{
				Context:      scoped,
				QueryType:    audit.QueryTypePivot,
				DatasetID:    ds.ID,
				PivotQuery:   q,
				RowsReturned: entry.RowCount,
				CacheStatus:  audit.CacheHit,
			})
			return &Result{Pivot: entry.Pivot, RowCount: entry.RowCount, Strategy: StrategyCache}, nil
		}
	}

	started := time.Now()
	pivot, rowCount, strategy, err := r.computeWithSlot(ctx, qc.UserID, orgID, func() (*models.PivotResult, int, Strategy, error) {
		return r.compute(ctx, scoped, ds, cfg, filters, masked, rawLimit, limits)
	})
	if err != nil {
		return nil, err
	}

	if err := limits.CheckPivotCardinality(len(pivot.Rows), len(pivot.ColumnKeys)); err != nil {
		return nil, err
	}

	elapsed := guard.Elapsed(started)
	if r.cache != nil && keyErr == nil {
		entry := &cache.Entry{DatasetID: ds.ID, Pivot: pivot, RowCount: rowCount}
		if err := r.cache.Set(ctx, key, entry, r.cacheTTL); err != nil {
			r.logger.Warn("Pivot cache write failed", zap.String("dataset_id", ds.ID), zap.Error(err))
		}
	}
	r.auditor.LogQuery(ctx, audit.QueryRecord{
		Context:         scoped,
		QueryType:       audit.QueryTypePivot,
		DatasetID:       ds.ID,
		PivotQuery:      q,
		RowsReturned:    rowCount,
		ExecutionTimeMs: elapsed,
		CacheStatus:     audit.CacheMiss,
	})

	return &Result{Pivot: pivot, RowCount: rowCount, ExecutionTimeMs: elapsed, Strategy: strategy}, nil
}

// computeWithSlot holds a concurrency slot for the duration of fn.
func (r *runner) computeWithSlot(
	ctx context.Context,
	userID, orgID string,
	fn func() (*models.PivotResult, int, Strategy, error),
) (*models.PivotResult, int, Strategy, error) {
	release, err := r.limiter.Acquire(ctx, userID, orgID)
	if err != nil {
		return nil, 0, "", err
	}
	defer release()
	return fn()
}

// compute runs the compiled statement against the secured view. When the
// view does not exist it loads raw rows and aggregates them in-process.
func (r *runner) compute(
	ctx context.Context,
	qc *models.QueryContext,
	ds *models.Dataset,
	cfg *Config,
	filters []models.FilterConfig,
	masked map[string]bool,
	rawLimit int,
	limits guard.Config,
) (*models.PivotResult, int, Strategy, error) {
	plan, err := Compile(CompileRequest{
		Dataset:      ds,
		RowFields:    cfg.RowFields,
		ColumnFields: cfg.ColumnFields,
		Measures:     cfg.Measures,
		Filters:      filters,
		Limit:        limits.PivotQueryLimit(),
		Masked:       masked,
	})
	if err != nil {
		return nil, 0, "", err
	}

	result, err := r.executor.Query(ctx, guard.SessionFor(qc), plan.SQL, plan.Args...)
	if err == nil {
		if err := limits.CheckPivotRows(len(result.Rows)); err != nil {
			return nil, 0, "", err
		}
		return plan.Decode(result.Rows, cfg.Measures), len(result.Rows), StrategyCompiledSQL, nil
	}
	if !errors.Is(err, apperrors.ErrMissingView) || r.loader == nil {
		return nil, 0, "", err
	}

	r.logger.Warn("Secured view missing, aggregating in memory",
		zap.String("dataset_id", ds.ID),
		zap.String("view", dataset.ViewName(ds.ID)))
	r.metrics.PivotFallback()

	rows, err := r.loader.LoadRows(ctx, LoadRequest{
		Dataset: ds,
		Fields:  cfg.SelectedFields,
		Filters: filters,
		Masked:  masked,
		Limit:   rawLimit + 1,
	})
	if err != nil {
		return nil, 0, "", err
	}
	if len(rows) > rawLimit {
		return nil, 0, "", apperrors.CardinalityExceeded("Query returned too many rows; add filters.")
	}
	return Aggregate(rows, cfg.RowFields, cfg.ColumnFields, cfg.Measures), len(rows), StrategyInMemoryFallback, nil
}
