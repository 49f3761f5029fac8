package sql

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// StripTrailingSemicolons removes trailing statement terminators, comments
// and whitespace so the statement can be embedded as a subquery.
// Terminators inside literals or comments earlier in the text are kept.
func StripTrailingSemicolons(sqlText string) string {
	sanitized, _ := NormalizePlaceholders(sqlText)
	scan, err := pg_query.Scan(sanitized)
	if err != nil {
		return strings.TrimRight(strings.TrimSpace(sqlText), "; \t\r\n")
	}

	end := -1
	for i := len(scan.Tokens) - 1; i >= 0; i-- {
		switch scan.Tokens[i].Token {
		case pg_query.Token_ASCII_59, pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
			continue
		}
		end = int(scan.Tokens[i].End)
		break
	}
	if end < 0 {
		return ""
	}
	return RestorePlaceholders(strings.TrimSpace(sanitized[:end]))
}

// BuildLimitedQuery wraps a statement so at most limit rows are returned
// regardless of any LIMIT the statement carries itself.
func BuildLimitedQuery(sqlText string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS limited LIMIT %d", StripTrailingSemicolons(sqlText), limit)
}
