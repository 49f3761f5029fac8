package sql

import (
	"fmt"
	"sort"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	ParamName   string // Name of the parameter that failed the check
	ParamValue  any    // The value that was checked
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a parameter value. Strings are checked directly and string elements of
// lists one by one; other types cannot carry SQL text and return nil.
//
// Example:
//
//	result := CheckParameterForInjection("search", "'; DROP TABLE users--")
//	// result.ParamName == "search"
//	// result.Fingerprint == "s&1c" (or similar)
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	switch v := value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionCheckResult{
				ParamName:   paramName,
				ParamValue:  value,
				Fingerprint: string(fingerprint),
			}
		}
	case []any:
		for _, item := range v {
			if r := CheckParameterForInjection(paramName, item); r != nil {
				return r
			}
		}
	case []string:
		for _, item := range v {
			if r := CheckParameterForInjection(paramName, item); r != nil {
				return r
			}
		}
	}
	return nil
}

// CheckAllParameters validates all parameter values for SQL injection attempts.
// Results are ordered by parameter name.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if result := CheckParameterForInjection(name, params[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}

// InjectionError converts failed checks into an InvalidParameter error.
// It returns nil when results is empty.
func InjectionError(results []*InjectionCheckResult) error {
	if len(results) == 0 {
		return nil
	}
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.ParamName
	}
	return apperrors.New(apperrors.KindInvalidParameter,
		fmt.Sprintf("Parameter value rejected: %s", strings.Join(names, ", ")))
}
