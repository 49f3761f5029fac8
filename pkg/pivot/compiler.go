package pivot

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

const baseAlias = "base"

// Dimension is a row or column field with its result alias.
type Dimension struct {
	FieldID  string
	Alias    string
	Column   string
	IsMasked bool
}

// MeasureAlias ties a measure key to its result alias.
type MeasureAlias struct {
	Key         string
	Alias       string
	Aggregation models.AggregationType
	FieldID     string
}

// Plan is a compiled pivot statement plus the alias bookkeeping needed to decode it.
type Plan struct {
	SQL              string
	Args             []any
	RowDimensions    []Dimension
	ColumnDimensions []Dimension
	Measures         []MeasureAlias
}

// GroupBy returns the aliases of the dimensions the statement groups by.
func (p *Plan) GroupBy() []string {
	var aliases []string
	for _, d := range append(append([]Dimension{}, p.RowDimensions...), p.ColumnDimensions...) {
		if !d.IsMasked {
			aliases = append(aliases, d.Alias)
		}
	}
	return aliases
}

// CompileRequest carries the normalized inputs of Compile.
type CompileRequest struct {
	Dataset      *models.Dataset
	RowFields    []string
	ColumnFields []string
	Measures     []models.MeasureMeta
	Filters      []models.FilterConfig
	Limit        int
	Masked       map[string]bool
}

// Compile builds the grouped statement over the dataset's secured view.
// Aliases r0..rN, c0..cN and m0..mN follow input order. A masked dimension
// selects the mask marker and is left out of GROUP BY and ORDER BY.
func Compile(req CompileRequest) (*Plan, error) {
	ds := req.Dataset
	plan := &Plan{}

	var err error
	if plan.RowDimensions, err = dimensions(ds, req.RowFields, "r", req.Masked); err != nil {
		return nil, err
	}
	if plan.ColumnDimensions, err = dimensions(ds, req.ColumnFields, "c", req.Masked); err != nil {
		return nil, err
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).Select()

	var groupBy []string
	for _, dim := range append(append([]Dimension{}, plan.RowDimensions...), plan.ColumnDimensions...) {
		if dim.IsMasked {
			builder = builder.Column(sq.Expr("? AS "+quoteIdentifier(dim.Alias), dataset.MaskedValue))
			continue
		}
		expr, err := fieldExpression(ds, dim.FieldID)
		if err != nil {
			return nil, err
		}
		builder = builder.Column(expr + " AS " + quoteIdentifier(dim.Alias))
		groupBy = append(groupBy, expr)
	}

	for i, m := range req.Measures {
		alias := MeasureAlias{
			Key:         m.Key,
			Alias:       fmt.Sprintf("m%d", i),
			Aggregation: m.Aggregation,
			FieldID:     m.Field,
		}
		columnRef := ""
		if m.Field != "" {
			f, ok := ds.Field(m.Field)
			if !ok {
				return nil, unknownField(ds, m.Field)
			}
			columnRef = columnReference(f.SourceColumn)
		}
		builder = builder.Column(measureExpression(m.Aggregation, columnRef) + " AS " + quoteIdentifier(alias.Alias))
		plan.Measures = append(plan.Measures, alias)
	}

	builder = builder.From(quoteIdentifier(dataset.ViewName(ds.ID)) + " AS " + quoteIdentifier(baseAlias))

	for _, f := range req.Filters {
		pred, err := filterPredicate(ds, f)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(pred)
	}

	if len(groupBy) > 0 {
		builder = builder.GroupBy(groupBy...).OrderBy(groupBy...)
	}
	if req.Limit > 0 {
		builder = builder.Limit(uint64(req.Limit))
	}

	plan.SQL, plan.Args, err = builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pivot statement: %w", err)
	}
	return plan, nil
}

func dimensions(ds *models.Dataset, fields []string, prefix string, masked map[string]bool) ([]Dimension, error) {
	dims := make([]Dimension, 0, len(fields))
	for i, id := range fields {
		f, ok := ds.Field(id)
		if !ok {
			return nil, unknownField(ds, id)
		}
		dims = append(dims, Dimension{
			FieldID:  id,
			Alias:    fmt.Sprintf("%s%d", prefix, i),
			Column:   f.SourceColumn,
			IsMasked: masked[id],
		})
	}
	return dims, nil
}

func unknownField(ds *models.Dataset, id string) error {
	return fmt.Errorf("unknown field '%s' for dataset '%s'", id, ds.ID)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnReference(column string) string {
	return quoteIdentifier(baseAlias) + "." + quoteIdentifier(column)
}

// fieldExpression renders a field as a column reference, truncated to its
// time grain when it has one.
func fieldExpression(ds *models.Dataset, id string) (string, error) {
	f, ok := ds.Field(id)
	if !ok {
		return "", unknownField(ds, id)
	}
	ref := columnReference(f.SourceColumn)
	if f.TimeGrain != "" {
		return fmt.Sprintf("DATE_TRUNC('%s', %s)::date", f.TimeGrain, ref), nil
	}
	return ref, nil
}

func measureExpression(agg models.AggregationType, columnRef string) string {
	if columnRef == "" && agg != models.AggCount {
		return "NULL"
	}
	switch agg {
	case models.AggCount:
		return "COUNT(*)"
	case models.AggCountDistinct:
		return "COUNT(DISTINCT " + columnRef + ")"
	case models.AggSum:
		return "SUM(" + columnRef + ")"
	case models.AggAvg:
		return "AVG(" + columnRef + ")"
	case models.AggMin:
		return "MIN(" + columnRef + ")"
	case models.AggMax:
		return "MAX(" + columnRef + ")"
	case models.AggMedian:
		return "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY " + columnRef + ")"
	case models.AggStddev:
		return "STDDEV_POP(" + columnRef + ")"
	case models.AggVariance:
		return "VAR_POP(" + columnRef + ")"
	default:
		return "NULL"
	}
}

var comparisonOperators = map[models.FilterOperator]string{
	models.OpEq:  "=",
	models.OpNeq: "!=",
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// filterPredicate translates one normalized filter into a WHERE predicate.
func filterPredicate(ds *models.Dataset, f models.FilterConfig) (sq.Sqlizer, error) {
	col, err := fieldExpression(ds, f.Field)
	if err != nil {
		return nil, err
	}
	return predicate(col, f), nil
}

func predicate(col string, f models.FilterConfig) sq.Sqlizer {
	switch f.Operator {
	case models.OpIsNull:
		return sq.Expr(col + " IS NULL")
	case models.OpIsNotNull:
		return sq.Expr(col + " IS NOT NULL")
	case models.OpIn, models.OpNotIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			if f.Operator == models.OpIn {
				return sq.Expr("1 = 0")
			}
			return sq.Expr("1 = 1")
		}
		keyword := "IN"
		if f.Operator == models.OpNotIn {
			keyword = "NOT IN"
		}
		return sq.Expr(fmt.Sprintf("%s %s (%s)", col, keyword, sq.Placeholders(len(values))), values...)
	case models.OpBetween:
		values, _ := f.Value.([]any)
		if len(values) != 2 {
			return sq.Expr("1 = 0")
		}
		return sq.Expr(col+" BETWEEN ? AND ?", values[0], values[1])
	case models.OpContains:
		return sq.Expr(col+" ILIKE ?", "%"+escapeLike(f.Value)+"%")
	case models.OpStartsWith:
		return sq.Expr(col+" ILIKE ?", escapeLike(f.Value)+"%")
	case models.OpEndsWith:
		return sq.Expr(col+" ILIKE ?", "%"+escapeLike(f.Value))
	}

	if f.Value == nil {
		switch f.Operator {
		case models.OpEq:
			return sq.Expr(col + " IS NULL")
		case models.OpNeq:
			return sq.Expr(col + " IS NOT NULL")
		}
	}
	op, ok := comparisonOperators[f.Operator]
	if !ok {
		op = "="
	}
	return sq.Expr(col+" "+op+" ?", f.Value)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(v any) string {
	return likeEscaper.Replace(fmt.Sprint(v))
}
