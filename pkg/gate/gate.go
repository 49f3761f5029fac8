// Package gate checks that the database-side security objects the
// workbench depends on exist before any workbench statement runs: the
// read-only role, a security-barrier view per dataset, SELECT grants on the
// views and no grants on their base tables. Verdicts are cached, failures
// included, so a misconfigured environment fails fast.
package gate

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

const (
	keyPrefix          = "bi:sql-gate:"
	DefaultTTL         = time.Minute
	DefaultNegativeTTL = 15 * time.Second
)

// Config controls verdict caching.
type Config struct {
	TTL         time.Duration
	NegativeTTL time.Duration
}

// SessionRunner runs a function inside the read-only session.
type SessionRunner interface {
	InSession(ctx context.Context, s guard.Session, fn func(ctx context.Context, tx *sql.Tx) error) error
}

// Gate verifies workbench readiness.
type Gate struct {
	db       *sql.DB
	sessions SessionRunner
	catalog  *dataset.Catalog
	cache    OutcomeCache
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a gate. db is the service connection used for catalog
// metadata; sessions runs the sample query under the read-only role.
func New(db *sql.DB, sessions SessionRunner, catalog *dataset.Catalog, cache OutcomeCache, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultNegativeTTL
	}
	if cache == nil {
		cache = NewMemoryCache(max(cfg.TTL, cfg.NegativeTTL))
	}
	return &Gate{
		db:       db,
		sessions: sessions,
		catalog:  catalog,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("gate"),
	}
}

// Key identifies a verdict: the dataset set, the organization (or
// "global") and whether the caller is a global admin.
func Key(datasetIDs []string, s guard.Session) string {
	ids := slices.Clone(datasetIDs)
	slices.Sort(ids)
	h, err := hashstructure.Hash(ids, hashstructure.FormatV2, nil)
	if err != nil {
		h = 0
	}
	org := s.OrganizationID
	if org == "" {
		org = "global"
	}
	role := "user"
	if s.IsGlobalAdmin {
		role = "admin"
	}
	return keyPrefix + strconv.FormatUint(h, 16) + ":" + org + ":" + role
}

// AssertReady returns nil when the workbench may run for datasetIDs under
// s, or a ReadinessFailure listing every problem found. An empty
// datasetIDs checks the whole catalog.
func (g *Gate) AssertReady(ctx context.Context, s guard.Session, datasetIDs []string) error {
	if len(datasetIDs) == 0 {
		datasetIDs = g.catalog.IDs()
	}
	key := Key(datasetIDs, s)

	cached, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("Gate cache read failed", zap.Error(err))
	}
	if ok {
		return verdict(cached)
	}

	issues, err := g.check(ctx, s, datasetIDs)
	if err != nil {
		return fmt.Errorf("check workbench readiness: %w", err)
	}

	outcome := Outcome{OK: len(issues) == 0, CheckedAt: time.Now()}
	ttl := g.cfg.TTL
	if !outcome.OK {
		outcome.Message = fmt.Sprintf("SQL Workbench is not configured (%s).", strings.Join(issues, "; "))
		ttl = g.cfg.NegativeTTL
		g.logger.Error("Workbench readiness check failed",
			zap.Strings("issues", issues),
			zap.Strings("datasets", datasetIDs))
	}
	g.metrics.GateCheck(outcome.OK)
	if err := g.cache.Set(ctx, key, outcome, ttl); err != nil {
		g.logger.Warn("Gate cache write failed", zap.Error(err))
	}
	return verdict(&outcome)
}

func verdict(o *Outcome) error {
	if o.OK {
		return nil
	}
	msg := o.Message
	if msg == "" {
		msg = "SQL Workbench is not configured. Contact support."
	}
	return apperrors.ReadinessFailure(msg)
}

// check collects every readiness problem. A returned error means the
// metadata itself could not be read.
func (g *Gate) check(ctx context.Context, s guard.Session, datasetIDs []string) ([]string, error) {
	datasets := make([]*models.Dataset, 0, len(datasetIDs))
	for _, id := range datasetIDs {
		if ds, err := g.catalog.Get(id); err == nil {
			datasets = append(datasets, ds)
		}
	}
	views, baseTables := dataset.ViewNames(datasets)

	var issues []string

	roleRows, err := g.query(ctx, sq.Select("1").From("pg_roles").Where(sq.Eq{"rolname": guard.ReadOnlyRole}))
	if err != nil {
		return nil, err
	}
	if len(roleRows) == 0 {
		issues = append(issues, "missing role "+guard.ReadOnlyRole)
	}

	if len(views) > 0 {
		viewRows, err := g.query(ctx, sq.Select("table_name").
			From("information_schema.views").
			Where(sq.Eq{"table_schema": "public"}).
			Where(sq.Eq{"table_name": views}))
		if err != nil {
			return nil, err
		}
		if missing := missingFrom(views, column(viewRows, "table_name")); len(missing) > 0 {
			issues = append(issues, "missing views: "+strings.Join(missing, ", "))
		}

		relRows, err := g.query(ctx, sq.Select("relname", "COALESCE(array_to_string(reloptions, ','), '') AS options").
			From("pg_class").
			Where(sq.Eq{"relkind": "v"}).
			Where(sq.Eq{"relname": views}))
		if err != nil {
			return nil, err
		}
		var barriers []string
		for _, row := range relRows {
			if strings.Contains(fmt.Sprint(row["options"]), "security_barrier=true") {
				barriers = append(barriers, fmt.Sprint(row["relname"]))
			}
		}
		if missing := missingFrom(views, barriers); len(missing) > 0 {
			issues = append(issues, "missing security_barrier: "+strings.Join(missing, ", "))
		}

		grantRows, err := g.query(ctx, privileges(views))
		if err != nil {
			return nil, err
		}
		var selectable []string
		for _, row := range grantRows {
			if fmt.Sprint(row["privilege_type"]) == "SELECT" {
				selectable = append(selectable, fmt.Sprint(row["table_name"]))
			}
		}
		if missing := missingFrom(views, selectable); len(missing) > 0 {
			issues = append(issues, "missing SELECT grants: "+strings.Join(missing, ", "))
		}
	}

	if len(baseTables) > 0 {
		baseRows, err := g.query(ctx, privileges(baseTables))
		if err != nil {
			return nil, err
		}
		if granted := dedupe(column(baseRows, "table_name")); len(granted) > 0 {
			issues = append(issues, "unexpected base table grants: "+strings.Join(granted, ", "))
		}
	}

	if len(views) > 0 && g.sessions != nil {
		sample := `SELECT 1 FROM "` + views[0] + `" LIMIT 1`
		err := g.sessions.InSession(ctx, s, func(ctx context.Context, tx *sql.Tx) error {
			_, err := guard.QueryRows(ctx, tx, sample)
			return err
		})
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s role check failed: %s", guard.ReadOnlyRole, err.Error()))
		}
	}

	return issues, nil
}

func privileges(tables []string) sq.SelectBuilder {
	return sq.Select("table_name", "privilege_type").
		From("information_schema.table_privileges").
		Where(sq.Eq{"grantee": guard.ReadOnlyRole}).
		Where(sq.Eq{"table_schema": "public"}).
		Where(sq.Eq{"table_name": tables})
}

func (g *Gate) query(ctx context.Context, b sq.SelectBuilder) ([]map[string]any, error) {
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	res, err := guard.QueryRows(ctx, g.db, query, args...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func column(rows []map[string]any, name string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, fmt.Sprint(row[name]))
	}
	return out
}

// missingFrom returns the wanted names absent from have, in wanted order.
func missingFrom(wanted, have []string) []string {
	var missing []string
	for _, w := range wanted {
		if !slices.Contains(have, w) {
			missing = append(missing, w)
		}
	}
	return missing
}

func dedupe(names []string) []string {
	var out []string
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
