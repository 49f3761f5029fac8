package sql

import (
	"regexp"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// PlaceholderPrefix starts every synthetic literal substituted for a {{name}} placeholder.
const PlaceholderPrefix = "__bi_param__"

// parameterRegex matches {{parameter_name}} placeholders in SQL templates.
// Parameter names must start with a letter or underscore, followed by any
// number of alphanumeric characters or underscores.
var parameterRegex = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// placeholderLiteralRegex matches the synthetic literal produced by NormalizePlaceholders.
var placeholderLiteralRegex = regexp.MustCompile(`'` + PlaceholderPrefix + `([a-zA-Z_]\w*)__'`)

// Parameter is a named placeholder found in SQL text.
// Position is the byte offset of the opening braces in the original text.
type Parameter struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// NormalizePlaceholders replaces every {{name}} with the quoted literal
// '__bi_param__name__' so the text becomes valid SQL for the parser.
// Every occurrence is recorded, including repeats, in order of appearance.
//
// Example:
//
//	sanitized, params := NormalizePlaceholders("SELECT * FROM orgs WHERE id = {{org_id}}")
//	// sanitized == "SELECT * FROM orgs WHERE id = '__bi_param__org_id__'"
//	// params == []Parameter{{Name: "org_id", Position: 30}}
func NormalizePlaceholders(sqlText string) (string, []Parameter) {
	matches := parameterRegex.FindAllStringSubmatchIndex(sqlText, -1)
	if len(matches) == 0 {
		return sqlText, nil
	}

	params := make([]Parameter, 0, len(matches))
	out := make([]byte, 0, len(sqlText)+len(matches)*len(PlaceholderPrefix))
	last := 0
	for _, m := range matches {
		name := sqlText[m[2]:m[3]]
		params = append(params, Parameter{Name: name, Position: m[0]})
		out = append(out, sqlText[last:m[0]]...)
		out = append(out, placeholderLiteral(name)...)
		last = m[1]
	}
	out = append(out, sqlText[last:]...)
	return string(out), params
}

// RestorePlaceholders inverts NormalizePlaceholders on any SQL derived from the
// sanitized text. Text without synthetic literals is returned unchanged.
func RestorePlaceholders(sqlText string) string {
	return placeholderLiteralRegex.ReplaceAllString(sqlText, "{{$1}}")
}

// FindParametersInStringLiterals returns {{param}} placeholders written inside
// string constants (quoted, escape or dollar-quoted). Such placeholders cannot
// be bound and would corrupt the literal when inlined. Comments and quoted
// identifiers are ignored. Text the scanner rejects yields nil; the parser
// reports it.
//
// Example:
//
//	problems := FindParametersInStringLiterals("SELECT 'Hello {{name}}' FROM users")
//	// problems == []string{"name"}
func FindParametersInStringLiterals(sqlQuery string) []string {
	scan, err := pg_query.Scan(sqlQuery)
	if err != nil {
		return nil
	}

	var problems []string
	seen := make(map[string]bool)
	for _, tok := range scan.Tokens {
		if tok.Token != pg_query.Token_SCONST && tok.Token != pg_query.Token_USCONST {
			continue
		}
		for _, match := range parameterRegex.FindAllStringSubmatch(sqlQuery[tok.Start:tok.End], -1) {
			name := match[1]
			if !seen[name] {
				seen[name] = true
				problems = append(problems, name)
			}
		}
	}
	return problems
}

func placeholderLiteral(name string) string {
	return "'" + PlaceholderPrefix + name + "__'"
}
