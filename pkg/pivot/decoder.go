package pivot

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

const totalKey = "__total__"

// matrix accumulates rows and column keys in first-seen order. The decoder
// and the in-memory aggregator both fill it so their output is identical.
type matrix struct {
	columnFields []string
	measures     []models.MeasureMeta
	columnKeys   []models.PivotColumnKey
	columnIndex  map[string]bool
	rows         []*models.PivotRow
	rowIndex     map[string]*models.PivotRow
}

func newMatrix(columnFields []string, measures []models.MeasureMeta) *matrix {
	return &matrix{
		columnFields: columnFields,
		measures:     measures,
		columnIndex:  make(map[string]bool),
		rowIndex:     make(map[string]*models.PivotRow),
	}
}

// cell registers the row and column keys and returns the row with an
// initialized cell map for colKey.
func (m *matrix) cell(rowKey string, rowValues map[string]string, colKey string, colValues map[string]string) *models.PivotRow {
	if !m.columnIndex[colKey] {
		m.columnIndex[colKey] = true
		m.columnKeys = append(m.columnKeys, models.PivotColumnKey{
			Key:    colKey,
			Label:  columnLabel(m.columnFields, colValues),
			Values: colValues,
		})
	}
	row, ok := m.rowIndex[rowKey]
	if !ok {
		row = &models.PivotRow{Key: rowKey, Values: rowValues, Cells: make(map[string]map[string]*float64)}
		m.rowIndex[rowKey] = row
		m.rows = append(m.rows, row)
	}
	if row.Cells[colKey] == nil {
		row.Cells[colKey] = make(map[string]*float64, len(m.measures))
	}
	return row
}

// result back-fills every (column key, measure) pair a row never saw with
// an explicit nil.
func (m *matrix) result(rowFields []string) *models.PivotResult {
	out := &models.PivotResult{
		RowFields:    nonNil(rowFields),
		ColumnFields: nonNil(m.columnFields),
		Measures:     m.measures,
		ColumnKeys:   m.columnKeys,
		Rows:         make([]models.PivotRow, 0, len(m.rows)),
	}
	if out.ColumnKeys == nil {
		out.ColumnKeys = []models.PivotColumnKey{}
	}
	for _, row := range m.rows {
		cells := make(map[string]map[string]*float64, len(m.columnKeys))
		for _, ck := range m.columnKeys {
			have := row.Cells[ck.Key]
			filled := make(map[string]*float64, len(m.measures))
			for _, meas := range m.measures {
				filled[meas.Key] = have[meas.Key]
			}
			cells[ck.Key] = filled
		}
		out.Rows = append(out.Rows, models.PivotRow{Key: row.Key, Values: row.Values, Cells: cells})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func columnLabel(fields []string, values map[string]string) string {
	if len(fields) == 0 {
		return "Total"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := values[f]
		if v == "" {
			v = "-"
		}
		parts = append(parts, f+": "+v)
	}
	return strings.Join(parts, " / ")
}

// pivotKey joins the stringified values of the given columns, or returns the
// total sentinel when there are none.
func pivotKey(columns []string, row map[string]any) string {
	if len(columns) == 0 {
		return totalKey
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = stringify(row[c])
	}
	return strings.Join(parts, "||")
}

func pivotValues(columns, fields []string, row map[string]any) map[string]string {
	values := make(map[string]string, len(columns))
	for i, c := range columns {
		values[fields[i]] = stringify(row[c])
	}
	return values
}

// stringify renders a dimension value. Dates at midnight UTC render as
// YYYY-MM-DD so truncated time grains read naturally.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case time.Time:
		if x.Equal(x.Truncate(24*time.Hour)) && x.Location() == time.UTC {
			return x.Format(time.DateOnly)
		}
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(encoded)
}

// toNumber coerces a measure value. Numeric strings and big integers become
// float64; non-finite or non-numeric values become nil.
func toNumber(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		f, _ = new(big.Float).SetInt(x).Float64()
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	case []byte:
		return toNumber(string(x))
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Decode folds the flat rows of a compiled plan into a dense pivot result.
func Decode(rows []map[string]any, rowDims, columnDims []Dimension, measures []models.MeasureMeta, aliases []MeasureAlias) *models.PivotResult {
	rowAliases, rowFields := splitDimensions(rowDims)
	colAliases, colFields := splitDimensions(columnDims)

	m := newMatrix(colFields, measures)
	for _, r := range rows {
		row := m.cell(
			pivotKey(rowAliases, r), pivotValues(rowAliases, rowFields, r),
			pivotKey(colAliases, r), pivotValues(colAliases, colFields, r),
		)
		colKey := pivotKey(colAliases, r)
		for _, a := range aliases {
			row.Cells[colKey][a.Key] = toNumber(r[a.Alias])
		}
	}
	return m.result(rowFields)
}

// Decode folds rows produced by this plan.
func (p *Plan) Decode(rows []map[string]any, measures []models.MeasureMeta) *models.PivotResult {
	return Decode(rows, p.RowDimensions, p.ColumnDimensions, measures, p.Measures)
}

func splitDimensions(dims []Dimension) (aliases, fields []string) {
	aliases = make([]string, len(dims))
	fields = make([]string, len(dims))
	for i, d := range dims {
		aliases[i] = d.Alias
		fields[i] = d.FieldID
	}
	return aliases, fields
}
