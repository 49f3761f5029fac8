package sql

import (
	"fmt"
	"strings"
)

// ValidateAgainstDataset reports one error per table or column reference that
// is not on the allow-list. Keys of allowedTables and allowedColumns are
// compared case-insensitively; a column set containing "*" allows every column
// of that table. It never fails on statement shape, which ParseAndValidate
// has already checked.
func ValidateAgainstDataset(
	parsed *ParsedQuery,
	allowedTables map[string]bool,
	allowedColumns map[string]map[string]bool,
) []string {
	var errs []string

	tables := make(map[string]bool, len(allowedTables))
	for t, ok := range allowedTables {
		if ok {
			tables[lower(t)] = true
		}
	}
	columns := make(map[string]map[string]bool, len(allowedColumns))
	for t, cols := range allowedColumns {
		set := make(map[string]bool, len(cols))
		for c, ok := range cols {
			if ok {
				set[lower(c)] = true
			}
		}
		columns[lower(t)] = set
	}
	ctes := toSet(parsed.CTENames)
	selectAliases := toSet(parsed.SelectAliases)

	for _, table := range parsed.Tables {
		if ctes[lower(table)] {
			continue
		}
		if !tables[lower(table)] {
			errs = append(errs, fmt.Sprintf("Table %q is not in the allowed dataset", table))
		}
	}

	for _, column := range parsed.Columns {
		if column == "*" {
			continue
		}

		idx := strings.LastIndex(column, ".")
		if idx < 0 {
			name := lower(column)
			if selectAliases[name] || inAnyTable(columns, name) {
				continue
			}
			errs = append(errs, fmt.Sprintf("Column %q is not accessible", column))
			continue
		}

		qualifier, name := lower(column[:idx]), lower(column[idx+1:])
		if name == "*" || ctes[qualifier] {
			continue
		}

		resolved, aliased := parsed.TableAliases[qualifier]
		if !aliased {
			resolved = qualifier
		}
		if resolved == "" {
			// alias of a CTE, derived table or join
			continue
		}

		cols, ok := columns[resolved]
		if !ok || (!cols[name] && !cols["*"]) {
			errs = append(errs, fmt.Sprintf("Column %q is not accessible", column))
		}
	}

	return errs
}

func inAnyTable(columns map[string]map[string]bool, name string) bool {
	for _, cols := range columns {
		if cols[name] {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[lower(v)] = true
	}
	return set
}
