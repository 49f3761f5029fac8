package sql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

// BindParameters replaces {{param}} placeholders with PostgreSQL positional
// parameters ($1, $2, etc.) and returns the prepared SQL along with ordered
// parameter values for binding. This is the only path whose output is executed.
//
// The function:
//  1. Replaces each unique {{param}} with $N (where N is the position)
//  2. Reuses the same $N for parameters that appear multiple times
//  3. Fails with a MissingParameter error for a placeholder without a value
//
// Example:
//
//	sql := "SELECT * FROM transactions WHERE sender_id = {{user_id}} OR receiver_id = {{user_id}}"
//	preparedSQL, orderedValues, err := BindParameters(sql, map[string]any{"user_id": "550e8400"})
//	// preparedSQL == "SELECT * FROM transactions WHERE sender_id = $1 OR receiver_id = $1"
//	// orderedValues == []any{"550e8400"}
func BindParameters(sqlQuery string, suppliedValues map[string]any) (string, []any, error) {
	var (
		orderedValues  []any
		missing        string
		paramPositions = make(map[string]int)
	)

	result := parameterRegex.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		name := parameterRegex.FindStringSubmatch(match)[1]

		if pos, exists := paramPositions[name]; exists {
			return fmt.Sprintf("$%d", pos)
		}

		value, supplied := suppliedValues[name]
		if !supplied {
			if missing == "" {
				missing = name
			}
			return match
		}

		orderedValues = append(orderedValues, value)
		pos := len(orderedValues)
		paramPositions[name] = pos
		return fmt.Sprintf("$%d", pos)
	})

	if missing != "" {
		return "", nil, apperrors.MissingParameter(missing)
	}
	return result, orderedValues, nil
}
