package dataset

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// FilterType groups data types that share an operator table.
type FilterType string

const (
	FilterString  FilterType = "string"
	FilterEnum    FilterType = "enum"
	FilterUUID    FilterType = "uuid"
	FilterNumber  FilterType = "number"
	FilterDate    FilterType = "date"
	FilterBoolean FilterType = "boolean"
)

var operatorsByType = map[FilterType][]models.FilterOperator{
	FilterString: {
		models.OpEq, models.OpNeq, models.OpIn, models.OpNotIn,
		models.OpContains, models.OpStartsWith, models.OpEndsWith,
		models.OpIsNull, models.OpIsNotNull,
	},
	FilterEnum: {models.OpEq, models.OpNeq, models.OpIn, models.OpNotIn, models.OpIsNull, models.OpIsNotNull},
	FilterUUID: {models.OpEq, models.OpNeq, models.OpIn, models.OpNotIn, models.OpIsNull, models.OpIsNotNull},
	FilterNumber: {
		models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
		models.OpBetween, models.OpIn, models.OpNotIn, models.OpIsNull, models.OpIsNotNull,
	},
	FilterDate: {
		models.OpEq, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
		models.OpBetween, models.OpIsNull, models.OpIsNotNull,
	},
	FilterBoolean: {models.OpEq, models.OpNeq, models.OpIsNull, models.OpIsNotNull},
}

// FilterTypeOf maps a field data type to its filter type, or "" when the type is not filterable.
func FilterTypeOf(dt models.DataType) FilterType {
	switch dt {
	case models.DataTypeDate, models.DataTypeDatetime:
		return FilterDate
	case models.DataTypeNumber:
		return FilterNumber
	case models.DataTypeBoolean:
		return FilterBoolean
	case models.DataTypeEnum:
		return FilterEnum
	case models.DataTypeUUID:
		return FilterUUID
	case models.DataTypeString:
		return FilterString
	default:
		return ""
	}
}

// AllowedFilter lists the operators a field accepts.
type AllowedFilter struct {
	Type      FilterType              `json:"type"`
	Operators []models.FilterOperator `json:"operators"`
}

// AllowedFilters returns the filterable fields of ds keyed by field id.
func AllowedFilters(ds *models.Dataset) map[string]AllowedFilter {
	out := make(map[string]AllowedFilter)
	for _, f := range ds.Fields {
		if !f.AllowFilter {
			continue
		}
		ft := FilterTypeOf(f.DataType)
		if ft == "" {
			continue
		}
		out[f.ID] = AllowedFilter{Type: ft, Operators: operatorsByType[ft]}
	}
	return out
}

// NormalizeFilter checks a caller filter against the allowed set and coerces
// its value shape: lists for in/not_in, a pair for between, nothing for null checks.
func NormalizeFilter(filter models.FilterConfig, allowed map[string]AllowedFilter) (models.FilterConfig, error) {
	rule, ok := allowed[filter.Field]
	if !ok {
		return models.FilterConfig{}, fmt.Errorf("Filter field '%s' is not allowed", filter.Field)
	}
	if !slices.Contains(rule.Operators, filter.Operator) {
		return models.FilterConfig{}, fmt.Errorf("Operator '%s' is not allowed for field '%s'", filter.Operator, filter.Field)
	}

	out := models.FilterConfig{Field: filter.Field, Operator: filter.Operator}
	switch filter.Operator {
	case models.OpIsNull, models.OpIsNotNull:
		return out, nil
	case models.OpIn, models.OpNotIn:
		list, ok := toList(filter.Value)
		if !ok {
			return models.FilterConfig{}, fmt.Errorf("Filter '%s' requires a list of values", filter.Field)
		}
		out.Value = list
	case models.OpBetween:
		list, ok := toList(filter.Value)
		if !ok || len(list) != 2 {
			return models.FilterConfig{}, fmt.Errorf("Filter '%s' requires exactly two values for between", filter.Field)
		}
		out.Value = list
	default:
		if _, isList := toList(filter.Value); isList {
			return models.FilterConfig{}, fmt.Errorf("Filter '%s' requires a single value", filter.Field)
		}
		out.Value = filter.Value
	}
	return out, nil
}

// NormalizeFilters normalizes every filter, collecting one message per failure.
func NormalizeFilters(ds *models.Dataset, filters []models.FilterConfig) ([]models.FilterConfig, []string) {
	allowed := AllowedFilters(ds)
	out := make([]models.FilterConfig, 0, len(filters))
	var errs []string
	for _, f := range filters {
		nf, err := NormalizeFilter(f, allowed)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, nf)
	}
	return out, errs
}

func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
