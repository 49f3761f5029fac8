package workbench

import (
	"math"
	"math/big"
	"strconv"
	"time"
)

// maxSafeInteger is the largest integer a JSON number can carry without
// losing precision in a JavaScript client.
const maxSafeInteger = 1<<53 - 1

// NormalizeRows converts every row into JSON-safe values. See NormalizeValue.
func NormalizeRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = normalizeMap(row)
	}
	return out
}

// NormalizeValue coerces a scanned value into something a JSON client reads
// back unchanged: times become RFC 3339 strings, integers outside the
// float64-safe range and arbitrary-precision numbers become decimal strings,
// non-finite floats become null. Maps and slices are normalized recursively.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case int64:
		if val > maxSafeInteger || val < -maxSafeInteger {
			return strconv.FormatInt(val, 10)
		}
		return val
	case uint64:
		if val > maxSafeInteger {
			return strconv.FormatUint(val, 10)
		}
		return val
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case *big.Float:
		if val == nil {
			return nil
		}
		return val.Text('f', -1)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		return NormalizeValue(float64(val))
	case []byte:
		return string(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = NormalizeValue(v)
	}
	return out
}
