// Package sql parses, authorizes and rewrites caller-supplied SQL before it
// reaches the database, and renders the two parameter forms used to execute it.
package sql

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

const (
	msgSingleStatement = "SQL must contain a single SELECT statement"
	msgSelectOnly      = "Only SELECT statements are allowed"
)

// ParsedQuery describes a validated SELECT-shaped statement.
// When IsValid is false only Errors and Parameters are meaningful.
type ParsedQuery struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`

	// Tables holds normalized base-table references ("schema.table" or "table").
	Tables []string `json:"tables"`
	// Columns holds "qualifier.column" or bare "column" references.
	Columns    []string    `json:"columns"`
	Parameters []Parameter `json:"parameters"`
	// TableAliases maps alias to the underlying base table. The empty string
	// marks aliases of CTEs, derived subqueries and joins, which are not
	// validated against dataset columns.
	TableAliases  map[string]string `json:"table_aliases"`
	CTENames      []string          `json:"cte_names"`
	SelectAliases []string          `json:"select_aliases"`

	SanitizedSQL string `json:"-"`
}

// ErrorMessage joins the validation errors into one message.
func (p *ParsedQuery) ErrorMessage() string {
	return strings.Join(p.Errors, " ")
}

// ParseAndValidate parses sqlText and accepts it only if it is exactly one
// SELECT-shaped statement. {{name}} placeholders are replaced with synthetic
// literals before parsing and recorded in Parameters.
//
// Example:
//
//	parsed := ParseAndValidate("SELECT o.name FROM organizations o WHERE o.id = {{org_id}}")
//	// parsed.IsValid == true
//	// parsed.Tables == []string{"organizations"}
//	// parsed.Columns == []string{"o.id", "o.name"}
//	// parsed.TableAliases == map[string]string{"o": "organizations"}
func ParseAndValidate(sqlText string) *ParsedQuery {
	sanitized, params := NormalizePlaceholders(sqlText)
	result := &ParsedQuery{
		IsValid:      true,
		Parameters:   params,
		TableAliases: map[string]string{},
		SanitizedSQL: sanitized,
	}

	if quoted := FindParametersInStringLiterals(sqlText); len(quoted) > 0 {
		for _, name := range quoted {
			result.fail(fmt.Sprintf("Parameter {{%s}} must not appear inside a string literal", name))
		}
		return result
	}

	tree, err := pg_query.Parse(sanitized)
	if err != nil {
		result.fail(fmt.Sprintf("SQL parse error: %s", err.Error()))
		return result
	}

	if len(tree.Stmts) != 1 {
		result.fail(msgSingleStatement)
		return result
	}

	root := tree.Stmts[0].Stmt
	if !isSelectShaped(root.GetSelectStmt()) {
		result.fail(msgSelectOnly)
		return result
	}

	c := newCollector(collectCTENames(root))
	inspect(root, c.visit)
	if len(c.errors) > 0 {
		for _, e := range c.errors {
			result.fail(e)
		}
		return result
	}

	result.Tables = sortedKeys(c.tables)
	result.Columns = sortedKeys(c.columns)
	result.TableAliases = c.aliases
	result.CTENames = sortedKeys(c.cteNames)
	result.SelectAliases = sortedKeys(c.selectAliases)
	return result
}

func (p *ParsedQuery) fail(msg string) {
	p.IsValid = false
	p.Errors = append(p.Errors, msg)
}

// collector gathers references while the tree is inspected.
type collector struct {
	cteNames      map[string]bool
	tables        map[string]bool
	columns       map[string]bool
	aliases       map[string]string
	selectAliases map[string]bool
	errors        []string
}

func newCollector(cteNames map[string]bool) *collector {
	return &collector{
		cteNames:      cteNames,
		tables:        make(map[string]bool),
		columns:       make(map[string]bool),
		aliases:       make(map[string]string),
		selectAliases: make(map[string]bool),
	}
}

func (c *collector) visit(n *pg_query.Node) bool {
	switch v := n.Node.(type) {
	case *pg_query.Node_RangeVar:
		c.addRangeVar(v.RangeVar)
		return false
	case *pg_query.Node_RangeFunction:
		c.addRangeFunction(v.RangeFunction)
		return true
	case *pg_query.Node_RangeSubselect:
		if a := v.RangeSubselect.Alias; a != nil {
			c.aliases[lower(a.Aliasname)] = ""
		}
		return true
	case *pg_query.Node_JoinExpr:
		if a := v.JoinExpr.Alias; a != nil {
			c.aliases[lower(a.Aliasname)] = ""
		}
		return true
	case *pg_query.Node_ColumnRef:
		c.addColumnRef(v.ColumnRef)
		return false
	case *pg_query.Node_ResTarget:
		if v.ResTarget.Name != "" {
			c.selectAliases[lower(v.ResTarget.Name)] = true
		}
		return true
	case *pg_query.Node_FuncCall:
		if name := lower(funcName(v.FuncCall)); isRestrictedFunction(name) {
			c.errors = append(c.errors, fmt.Sprintf("Function %s is not allowed", name))
		}
		return true
	case *pg_query.Node_ParamRef:
		c.errors = append(c.errors, "Positional parameters are not allowed; use {{name}} placeholders")
		return false
	default:
		return true
	}
}

func (c *collector) addRangeVar(rv *pg_query.RangeVar) {
	table := lower(qualifiedName(rv.Schemaname, rv.Relname))
	isCTE := rv.Schemaname == "" && c.cteNames[table]

	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		target := table
		if isCTE {
			target = ""
		}
		c.aliases[lower(rv.Alias.Aliasname)] = target
	}
	if table != "" && !isCTE {
		c.tables[table] = true
	}
}

// addRangeFunction treats a table-valued function call as a table reference,
// so it fails dataset validation unless explicitly allowed.
func (c *collector) addRangeFunction(rf *pg_query.RangeFunction) {
	name := ""
	for _, item := range rf.Functions {
		list := item.GetList()
		if list == nil || len(list.Items) == 0 {
			continue
		}
		if fn := funcName(list.Items[0].GetFuncCall()); fn != "" {
			name = lower(fn)
			c.tables[name] = true
		}
	}
	if rf.Alias != nil && rf.Alias.Aliasname != "" {
		c.aliases[lower(rf.Alias.Aliasname)] = name
	}
}

func (c *collector) addColumnRef(ref *pg_query.ColumnRef) {
	parts := make([]string, 0, len(ref.Fields))
	for _, f := range ref.Fields {
		switch {
		case f.GetString_() != nil:
			parts = append(parts, f.GetString_().Sval)
		case f.GetAStar() != nil:
			parts = append(parts, "*")
		}
	}
	if len(parts) == 0 {
		return
	}

	column := parts[len(parts)-1]
	if len(parts) == 1 {
		c.columns[column] = true
		return
	}
	qualifier := lower(qualifiedName(parts[:len(parts)-1]...))
	c.columns[qualifier+"."+column] = true
}

// restrictedFunctionPrefixes name server administration and session
// functions. Matched against the unqualified, lower-cased function name.
var restrictedFunctionPrefixes = []string{"pg_", "set_config", "current_setting", "dblink", "lo_"}

func isRestrictedFunction(name string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	for _, p := range restrictedFunctionPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(s)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
