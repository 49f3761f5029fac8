package sql

import (
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// RewriteResult is the output of RewriteTables.
// Rewritten is true only if at least one table reference was substituted.
type RewriteResult struct {
	SQL       string `json:"sql"`
	Rewritten bool   `json:"rewritten"`
}

var simpleIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// RewriteTables substitutes every base-table reference that matches a key of
// tableMap (case-insensitive, bare or schema-qualified) with the mapped view.
// A reference without an alias gets one equal to its original table name so
// qualified column references such as orders.id keep resolving.
//
// Text that does not parse to exactly one statement is returned unchanged.
//
// Example:
//
//	res := RewriteTables("SELECT o.name FROM organizations o", map[string]string{"organizations": "bi_v_organizations"})
//	// res.SQL == "SELECT o.name FROM bi_v_organizations AS o"
func RewriteTables(sqlText string, tableMap map[string]string) RewriteResult {
	unchanged := RewriteResult{SQL: sqlText}
	if len(tableMap) == 0 {
		return unchanged
	}

	mapping := make(map[string]string, len(tableMap))
	for k, v := range tableMap {
		mapping[lower(k)] = v
	}

	sanitized, _ := NormalizePlaceholders(sqlText)
	tree, err := pg_query.Parse(sanitized)
	if err != nil || len(tree.Stmts) != 1 {
		return unchanged
	}
	scan, err := pg_query.Scan(sanitized)
	if err != nil {
		return unchanged
	}

	root := tree.Stmts[0].Stmt
	ctes := collectCTENames(root)

	var edits []splice
	inspect(root, func(n *pg_query.Node) bool {
		rv, ok := n.Node.(*pg_query.Node_RangeVar)
		if !ok {
			return true
		}
		if edit, ok := rewriteRangeVar(sanitized, scan.Tokens, rv.RangeVar, mapping, ctes); ok {
			edits = append(edits, edit)
		}
		return false
	})
	if len(edits) == 0 {
		return unchanged
	}

	// apply right to left so earlier offsets stay valid
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := sanitized
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return RewriteResult{SQL: RestorePlaceholders(out), Rewritten: true}
}

type splice struct {
	start, end int
	text       string
}

func rewriteRangeVar(
	text string,
	tokens []*pg_query.ScanToken,
	rv *pg_query.RangeVar,
	mapping map[string]string,
	ctes map[string]bool,
) (splice, bool) {
	if rv.Schemaname == "" && ctes[lower(rv.Relname)] {
		return splice{}, false
	}
	view, ok := mapping[lower(qualifiedName(rv.Schemaname, rv.Relname))]
	if !ok && rv.Schemaname != "" {
		view, ok = mapping[lower(rv.Relname)]
	}
	if !ok {
		return splice{}, false
	}

	first := tokenAt(tokens, rv.Location)
	if first < 0 {
		return splice{}, false
	}

	// extend over schema.table
	last := first
	for last+2 < len(tokens) && tokens[last+1].Token == pg_query.Token_ASCII_46 {
		last += 2
	}
	end := int(tokens[last].End)
	alias := text[tokens[last].Start:tokens[last].End]

	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		next := last + 1
		if next < len(tokens) && tokens[next].Token == pg_query.Token_AS {
			next++
		}
		if next >= len(tokens) {
			return splice{}, false
		}
		alias = text[tokens[next].Start:tokens[next].End]
		end = int(tokens[next].End)
	}

	return splice{
		start: int(rv.Location),
		end:   end,
		text:  quoteIdentifier(view) + " AS " + alias,
	}, true
}

func tokenAt(tokens []*pg_query.ScanToken, location int32) int {
	i := sort.Search(len(tokens), func(i int) bool { return tokens[i].Start >= location })
	if i < len(tokens) && tokens[i].Start == location {
		return i
	}
	return -1
}

// quoteIdentifier leaves simple lower-case identifiers bare and double-quotes
// everything else, keeping dotted schema qualification.
func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if !simpleIdentifier.MatchString(p) {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}
