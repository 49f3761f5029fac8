package guard

import "github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"

const tooManyCategories = "Too many categories; add filters or fewer dimensions."

// CheckPivotRows rejects a compiled pivot whose raw result exceeded the cell
// ceiling. The compiler asks for MaxPivotCells+1 rows so overflow is visible.
func (c Config) CheckPivotRows(n int) error {
	if n > c.MaxPivotCells {
		return apperrors.CardinalityExceeded(tooManyCategories)
	}
	return nil
}

// CheckPivotCardinality rejects a decoded pivot whose distinct row count,
// distinct column count or cell count exceeds the ceilings.
func (c Config) CheckPivotCardinality(rows, columns int) error {
	if rows > c.MaxPivotRows || columns > c.MaxPivotColumns || rows*columns > c.MaxPivotCells {
		return apperrors.CardinalityExceeded(tooManyCategories)
	}
	return nil
}

// PivotQueryLimit is the row cap placed on a compiled pivot statement.
func (c Config) PivotQueryLimit() int {
	return c.MaxPivotCells + 1
}
