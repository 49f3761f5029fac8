package pivot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// LoadRequest describes the raw rows the in-memory fallback needs.
type LoadRequest struct {
	Dataset *models.Dataset
	Fields  []string
	Filters []models.FilterConfig
	Masked  map[string]bool
	Limit   int
}

// RowLoader loads raw dataset rows keyed by field id, with time grains
// applied and masked fields replaced.
type RowLoader interface {
	LoadRows(ctx context.Context, req LoadRequest) ([]map[string]any, error)
}

// SQLLoader reads the dataset's base table directly. It runs on the
// service connection, outside the bi_readonly session, so org isolation
// relies on the org filter the runner injects.
type SQLLoader struct {
	db *sql.DB
}

func NewSQLLoader(db *sql.DB) *SQLLoader {
	return &SQLLoader{db: db}
}

// BuildLoadQuery renders the raw-row statement for req.
func BuildLoadQuery(req LoadRequest) (string, []any, error) {
	ds := req.Dataset
	if len(req.Fields) == 0 {
		return "", nil, fmt.Errorf("no fields selected for dataset '%s'", ds.ID)
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).Select()
	var first string
	for _, id := range req.Fields {
		f, ok := ds.Field(id)
		if !ok {
			return "", nil, unknownField(ds, id)
		}
		ref := columnReference(f.SourceColumn)
		if first == "" {
			first = ref
		}
		builder = builder.Column(ref + " AS " + quoteIdentifier(id))
	}
	builder = builder.From(quoteIdentifier(ds.BaseTable) + " AS " + quoteIdentifier(baseAlias))

	for _, f := range req.Filters {
		pred, err := filterPredicate(ds, f)
		if err != nil {
			return "", nil, err
		}
		builder = builder.Where(pred)
	}
	builder = builder.OrderBy(first)
	if req.Limit > 0 {
		builder = builder.Limit(uint64(req.Limit))
	}
	return builder.ToSql()
}

func (l *SQLLoader) LoadRows(ctx context.Context, req LoadRequest) ([]map[string]any, error) {
	query, args, err := BuildLoadQuery(req)
	if err != nil {
		return nil, err
	}
	result, err := guard.QueryRows(ctx, l.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load dataset rows: %w", err)
	}
	return ShapeRows(req.Dataset, result.Rows, req.Masked), nil
}

// ShapeRows applies time grains to derived fields and then masks.
func ShapeRows(ds *models.Dataset, rows []map[string]any, masked map[string]bool) []map[string]any {
	for _, row := range rows {
		for id, v := range row {
			f, ok := ds.Field(id)
			if !ok || f.TimeGrain == "" {
				continue
			}
			row[id] = truncateToGrain(v, f.TimeGrain)
		}
		dataset.MaskRow(row, masked)
	}
	return rows
}

// truncateToGrain floors a temporal value to its grain and formats it as
// YYYY-MM-DD. Weeks start on Monday. Unparseable values pass through.
func truncateToGrain(v any, grain models.TimeGrain) any {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x.UTC()
	case string:
		parsed, err := parseTime(x)
		if err != nil {
			return v
		}
		t = parsed.UTC()
	default:
		return v
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch grain {
	case models.TimeGrainWeek:
		offset := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -offset)
	case models.TimeGrainMonth:
		day = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case models.TimeGrainQuarter:
		firstMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		day = time.Date(t.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC)
	}
	return day.Format(time.DateOnly)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
