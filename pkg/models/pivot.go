package models

// AggregationType is the aggregation applied by a pivot measure.
type AggregationType string

const (
	AggCount         AggregationType = "count"
	AggSum           AggregationType = "sum"
	AggAvg           AggregationType = "avg"
	AggMin           AggregationType = "min"
	AggMax           AggregationType = "max"
	AggCountDistinct AggregationType = "count_distinct"
	AggMedian        AggregationType = "median"
	AggStddev        AggregationType = "stddev"
	AggVariance      AggregationType = "variance"
)

// FilterOperator is a comparison applied by a pivot filter.
type FilterOperator string

const (
	OpEq         FilterOperator = "eq"
	OpNeq        FilterOperator = "neq"
	OpGt         FilterOperator = "gt"
	OpGte        FilterOperator = "gte"
	OpLt         FilterOperator = "lt"
	OpLte        FilterOperator = "lte"
	OpIn         FilterOperator = "in"
	OpNotIn      FilterOperator = "not_in"
	OpBetween    FilterOperator = "between"
	OpContains   FilterOperator = "contains"
	OpStartsWith FilterOperator = "starts_with"
	OpEndsWith   FilterOperator = "ends_with"
	OpIsNull     FilterOperator = "is_null"
	OpIsNotNull  FilterOperator = "is_not_null"
)

// FilterConfig is a filter as submitted by the caller.
type FilterConfig struct {
	Field    string         `json:"field" hash:"field"`
	Operator FilterOperator `json:"operator" hash:"operator"`
	Value    any            `json:"value,omitempty" hash:"value"`
}

// PivotMeasure is a measure as submitted by the caller. Field is nil for count.
type PivotMeasure struct {
	Field       *string         `json:"field" hash:"field"`
	Aggregation AggregationType `json:"aggregation" hash:"aggregation"`
	MetricID    string          `json:"metric_id,omitempty" hash:"metric_id"`
	Label       string          `json:"label,omitempty" hash:"label"`
}

// PivotQuery is a declarative pivot request.
type PivotQuery struct {
	DatasetID      string         `json:"dataset_id" hash:"dataset_id"`
	OrganizationID string         `json:"organization_id,omitempty" hash:"organization_id"`
	Rows           []string       `json:"rows" hash:"rows"`
	Columns        []string       `json:"columns" hash:"columns"`
	Measures       []PivotMeasure `json:"measures" hash:"measures"`
	Filters        []FilterConfig `json:"filters" hash:"filters"`
	Limit          int            `json:"limit,omitempty" hash:"limit"`
}

// MeasureMeta is a normalized measure with its stable key and display label.
type MeasureMeta struct {
	Field       string          `json:"field,omitempty"`
	Aggregation AggregationType `json:"aggregation"`
	Key         string          `json:"key"`
	Label       string          `json:"label"`
}

// PivotColumnKey is one observed combination of column-dimension values.
type PivotColumnKey struct {
	Key    string            `json:"key"`
	Label  string            `json:"label"`
	Values map[string]string `json:"values"`
}

// PivotRow is one distinct combination of row-dimension values.
// Cells maps column key to measure key to value; absent combinations are explicit nils.
type PivotRow struct {
	Key    string                         `json:"key"`
	Values map[string]string              `json:"values"`
	Cells  map[string]map[string]*float64 `json:"cells"`
}

// PivotResult is the dense pivot matrix returned to callers.
type PivotResult struct {
	RowFields    []string         `json:"row_fields"`
	ColumnFields []string         `json:"column_fields"`
	Measures     []MeasureMeta    `json:"measures"`
	ColumnKeys   []PivotColumnKey `json:"column_keys"`
	Rows         []PivotRow       `json:"rows"`
}
