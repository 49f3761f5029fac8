package sql

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

// InlineParameters replaces every {{param}} placeholder with an escaped SQL
// literal. The result is only ever handed to EXPLAIN for cost estimation,
// which needs literal values to produce a realistic plan; execution always
// goes through BindParameters.
//
// Example:
//
//	sql, err := InlineParameters("SELECT * FROM orgs WHERE active = {{active}} AND name = {{name}}",
//	    map[string]any{"active": true, "name": "O'Brien"})
//	// sql == "SELECT * FROM orgs WHERE active = TRUE AND name = 'O''Brien'"
func InlineParameters(sqlQuery string, values map[string]any) (string, error) {
	var missing string
	result := parameterRegex.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		name := parameterRegex.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return InlineLiteral(value)
	})
	if missing != "" {
		return "", apperrors.MissingParameter(missing)
	}
	return result, nil
}

// InlineLiteral renders a single value as a SQL literal.
func InlineLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return "0"
			}
			return v.String()
		}
		return quoteLiteral(v.String())
	case time.Time:
		return quoteLiteral(v.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if v == nil {
			return "NULL"
		}
		return quoteLiteral(v.UTC().Format(time.RFC3339Nano))
	case string:
		return quoteLiteral(v)
	case []byte:
		return quoteLiteral(string(v))
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = InlineLiteral(rv.Index(i).Interface())
		}
		return "ARRAY[" + strings.Join(parts, ", ") + "]"
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL"
		}
		return InlineLiteral(rv.Elem().Interface())
	case reflect.Map, reflect.Struct:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "NULL"
		}
		return quoteLiteral(string(encoded))
	default:
		return quoteLiteral(fmt.Sprint(value))
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
