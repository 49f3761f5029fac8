// Package pivot compiles declarative pivot requests into a single grouped
// query over a secured view and decodes the flat result into a dense
// row/column matrix. When the view is missing it computes the same matrix
// in-process from raw rows.
package pivot

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// Config is a pivot request validated against its dataset.
type Config struct {
	RowFields      []string
	ColumnFields   []string
	Measures       []models.MeasureMeta
	SelectedFields []string
	Filters        []models.FilterConfig
}

// RequestedFields returns the fields the caller reads: dimensions and measure fields.
func (c *Config) RequestedFields() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, f := range c.RowFields {
		add(f)
	}
	for _, f := range c.ColumnFields {
		add(f)
	}
	for _, m := range c.Measures {
		add(m.Field)
	}
	return out
}

// NormalizeConfig de-duplicates dimensions, checks every field against the
// dataset, derives measure keys and labels, and normalizes filters. All
// problems are reported together in one InvalidRequest error.
func NormalizeConfig(ds *models.Dataset, q *models.PivotQuery) (*Config, error) {
	var errs []string

	rowFields := dedupe(q.Rows)
	columnFields := dedupe(q.Columns)

	for _, id := range rowFields {
		errs = append(errs, checkDimension("Row", ds, id)...)
	}
	for _, id := range columnFields {
		errs = append(errs, checkDimension("Column", ds, id)...)
	}

	measures := make([]models.MeasureMeta, 0, len(q.Measures))
	for _, m := range q.Measures {
		field := ""
		if m.Field != nil {
			field = *m.Field
		}
		if m.Aggregation != models.AggCount && field == "" {
			errs = append(errs, "Measures require a field for non-count aggregations.")
		}
		if field != "" {
			def, ok := ds.Field(field)
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("Measure field '%s' is not in dataset", field))
			case !def.AllowAggregate:
				errs = append(errs, fmt.Sprintf("Measure field '%s' does not allow aggregation", field))
			}
		}
		measures = append(measures, measureMeta(m, field))
	}

	cfg := &Config{
		RowFields:    rowFields,
		ColumnFields: columnFields,
		Measures:     measures,
	}
	cfg.SelectedFields = cfg.RequestedFields()
	if len(cfg.SelectedFields) == 0 {
		if len(ds.Fields) > 0 {
			cfg.SelectedFields = []string{ds.Fields[0].ID}
		} else {
			errs = append(errs, "No fields available for pivot query.")
		}
	}

	filters, filterErrs := dataset.NormalizeFilters(ds, q.Filters)
	errs = append(errs, filterErrs...)
	cfg.Filters = filters

	if len(errs) > 0 {
		return nil, apperrors.InvalidRequest(strings.Join(errs, " "))
	}
	return cfg, nil
}

func checkDimension(kind string, ds *models.Dataset, id string) []string {
	def, ok := ds.Field(id)
	if !ok {
		return []string{fmt.Sprintf("%s field '%s' is not in dataset '%s'", kind, id, ds.ID)}
	}
	if !def.AllowGroupBy {
		return []string{fmt.Sprintf("%s field '%s' does not support grouping", kind, id)}
	}
	return nil
}

// measureMeta derives the stable key (aggregation:field, or aggregation:count
// without a field) and the default label.
func measureMeta(m models.PivotMeasure, field string) models.MeasureMeta {
	keyField := field
	if keyField == "" {
		keyField = "count"
	}
	label := m.Label
	if label == "" {
		if m.Aggregation == models.AggCount {
			label = "Count"
		} else {
			labelField := field
			if labelField == "" {
				labelField = "-"
			}
			label = fmt.Sprintf("%s(%s)", strings.ToUpper(string(m.Aggregation)), labelField)
		}
	}
	return models.MeasureMeta{
		Field:       field,
		Aggregation: m.Aggregation,
		Key:         fmt.Sprintf("%s:%s", m.Aggregation, keyField),
		Label:       label,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
