// Package jsonutil decodes tool arguments that agents do not always type
// consistently, such as numbers sent as strings.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleInt accepts 50, 50.0, "50" or null (zero).
type FlexibleInt int

func (f *FlexibleInt) UnmarshalJSON(raw []byte) error {
	s := FlexibleStringValue(raw)
	if s == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexibleInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != float64(int64(v)) {
		return fmt.Errorf("expected an integer, got %s", raw)
	}
	*f = FlexibleInt(int64(v))
	return nil
}

// FlexibleBool accepts true, "true", "1", "yes" and their negatives, or null (false).
type FlexibleBool bool

func (f *FlexibleBool) UnmarshalJSON(raw []byte) error {
	switch strings.ToLower(FlexibleStringValue(raw)) {
	case "", "false", "0", "no":
		*f = false
	case "true", "1", "yes":
		*f = true
	default:
		return fmt.Errorf("expected a boolean, got %s", raw)
	}
	return nil
}

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// agents send numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strings.TrimSpace(strVal)
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return strconv.FormatInt(int64(numVal), 10)
		}
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}
