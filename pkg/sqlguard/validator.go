package sqlguard

import (
	"regexp"
	"strings"
)

const defaultMaxQueryLength = 10000

// forbiddenKeywords are statement keywords rejected under the read-only
// policy, matched on word boundaries.
var forbiddenKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|copy|merge|vacuum|call|do|execute|exec)\b`)

// identPattern matches a plain or schema-qualified identifier.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// tableRefPattern captures identifiers following FROM or JOIN.
var tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// AllowListValidator implements Validator with a fixed schema allow-list.
type AllowListValidator struct {
	schema  *Schema
	tables  map[string]struct{}
	columns map[string]struct{}
}

// New creates a validator for the given schema. A zero MaxQueryLength
// falls back to the default; an empty AllowedStatements list means
// SELECT and WITH.
func New(schema *Schema) *AllowListValidator {
	if schema.Policy.MaxQueryLength == 0 {
		schema.Policy.MaxQueryLength = defaultMaxQueryLength
	}
	if len(schema.Policy.AllowedStatements) == 0 {
		schema.Policy.AllowedStatements = []string{"SELECT", "WITH"}
	}
	schema.Policy.ReadOnly = true

	v := &AllowListValidator{
		schema:  schema,
		tables:  make(map[string]struct{}),
		columns: make(map[string]struct{}),
	}
	for _, t := range schema.Tables {
		v.tables[strings.ToLower(t.Name)] = struct{}{}
		for _, c := range t.Columns {
			v.columns[strings.ToLower(t.Name+"."+c.Name)] = struct{}{}
		}
	}
	return v
}

// Schema returns the queryable schema and active policy.
func (v *AllowListValidator) Schema() *Schema {
	return v.schema
}

// Validate checks query text against the policy and allow-list. It never
// executes anything and never returns an error: every failure is a
// Problem in the verdict.
func (v *AllowListValidator) Validate(query string) *Verdict {
	verdict := &Verdict{}

	sanitized := strings.TrimSpace(query)
	sanitized = strings.TrimSuffix(sanitized, ";")
	sanitized = strings.TrimSpace(sanitized)

	if sanitized == "" {
		verdict.Problems = append(verdict.Problems, Problem{
			Field:   "query",
			Message: "query must not be empty",
		})
		return verdict
	}
	if len(sanitized) > v.schema.Policy.MaxQueryLength {
		verdict.Problems = append(verdict.Problems, Problem{
			Field:   "query",
			Message: "query exceeds maximum length",
		})
		return verdict
	}

	v.checkStructure(sanitized, verdict)
	tables := v.checkTables(sanitized, verdict)

	if len(verdict.Problems) > 0 {
		return verdict
	}

	verdict.Valid = true
	verdict.SanitizedSQL = sanitized
	verdict.Tables = tables
	verdict.Columns = v.referencedColumns(sanitized, tables)
	return verdict
}

// checkStructure applies the statement-level policy checks.
func (v *AllowListValidator) checkStructure(sql string, verdict *Verdict) {
	if strings.Contains(sql, ";") {
		verdict.Problems = append(verdict.Problems, Problem{
			Message: "multiple statements are not allowed",
		})
	}
	if strings.Contains(sql, "--") || strings.Contains(sql, "/*") {
		verdict.Problems = append(verdict.Problems, Problem{
			Message: "SQL comments are not allowed",
		})
	}

	allowed := false
	upper := strings.ToUpper(sql)
	for _, stmt := range v.schema.Policy.AllowedStatements {
		if strings.HasPrefix(upper, strings.ToUpper(stmt)+" ") || strings.HasPrefix(upper, strings.ToUpper(stmt)+"\n") {
			allowed = true
			break
		}
	}
	if !allowed {
		verdict.Problems = append(verdict.Problems, Problem{
			Message: "only " + strings.Join(v.schema.Policy.AllowedStatements, "/") + " statements are allowed",
		})
	}

	if m := forbiddenKeywords.FindString(sql); m != "" {
		verdict.Problems = append(verdict.Problems, Problem{
			Message: "forbidden keyword: " + strings.ToUpper(m),
		})
	}

	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		verdict.Problems = append(verdict.Problems, Problem{
			Message: "unbalanced parentheses",
		})
	}
}

// checkTables verifies every referenced table is allow-listed and
// returns the referenced tables in first-seen order.
func (v *AllowListValidator) checkTables(sql string, verdict *Verdict) []string {
	var tables []string
	seen := make(map[string]struct{})

	for _, m := range tableRefPattern.FindAllStringSubmatch(sql, -1) {
		ref := strings.ToLower(m[1])
		if !identPattern.MatchString(ref) {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		// A qualified name resolves on its final segment.
		name := ref
		if i := strings.LastIndex(ref, "."); i >= 0 {
			name = ref[i+1:]
		}
		if _, ok := v.tables[name]; !ok {
			verdict.Problems = append(verdict.Problems, Problem{
				Field:   "query",
				Message: "table not allowed: " + ref,
			})
			continue
		}
		tables = append(tables, name)
	}
	return tables
}

// referencedColumns reports which allow-listed columns of the referenced
// tables appear in the query text.
func (v *AllowListValidator) referencedColumns(sql string, tables []string) []string {
	lower := strings.ToLower(sql)
	var cols []string
	for _, t := range v.schema.Tables {
		referenced := false
		for _, name := range tables {
			if name == strings.ToLower(t.Name) {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		for _, c := range t.Columns {
			if containsWord(lower, strings.ToLower(c.Name)) {
				cols = append(cols, t.Name+"."+c.Name)
			}
		}
	}
	return cols
}

// containsWord reports whether word occurs in s on identifier boundaries.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isIdentChar(s[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isIdentChar(s[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Verify interface compliance.
var _ Validator = (*AllowListValidator)(nil)
