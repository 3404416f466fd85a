package validator

import (
	"regexp"
	"strings"

	"github.com/TFMV/fedra/pkg/models"
)

// Document-store payloads are rejected when they smuggle server-side
// code execution, system-namespace references, or script-like syntax.
// SQL statements are rejected on administrative keywords, multiple
// statements, or comment syntax. Table and collection names are
// rewritten rather than rejected where possible.

var (
	nameSanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_]`)

	// Table references after FROM/JOIN/INTO. A pattern match, not a
	// SQL parser: the upstream generator emits a constrained statement
	// shape, but this can over- and under-match table references
	// inside string literals or quoted identifiers.
	tableRefRe = regexp.MustCompile(`(?i)\b(FROM|JOIN|INTO)\s+([A-Za-z0-9_.]+)`)

	systemNamespaceRe = regexp.MustCompile(`(?:system|admin|config|local)\.`)

	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`function\s*\(`),
		regexp.MustCompile(`=>`),
		regexp.MustCompile(`new\s+\w`),
		regexp.MustCompile(`this\.`),
		regexp.MustCompile(`prototype`),
		regexp.MustCompile(`constructor`),
	}

	sqlDangerous = []struct {
		re     *regexp.Regexp
		reason string
	}{
		{regexp.MustCompile(`\bDROP\b`), "DROP operation"},
		{regexp.MustCompile(`\bTRUNCATE\b`), "TRUNCATE operation"},
		{regexp.MustCompile(`\bALTER\b`), "ALTER operation"},
		{regexp.MustCompile(`\bGRANT\b`), "GRANT operation"},
		{regexp.MustCompile(`\bREVOKE\b`), "REVOKE operation"},
		{regexp.MustCompile(`\bSYSTEM\b`), "SYSTEM command"},
		{regexp.MustCompile(`\bSHUTDOWN\b`), "SHUTDOWN operation"},
		{regexp.MustCompile(`\bKILL\b`), "KILL operation"},
		{regexp.MustCompile(`\bOUTFILE\b`), "OUTFILE operation"},
	}

	sqlWriteRe = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)\b`)
)

// dangerous document-store operators enabling server-side code.
var dangerousMongoOps = []string{"$where", "$function", "$eval", "mapReduce"}

// CanonicalizeName strips every character outside [A-Za-z0-9_] and
// rewrites system/admin namespace prefixes with "user_". Idempotent.
func CanonicalizeName(name string) string {
	sanitized := nameSanitizeRe.ReplaceAllString(name, "")
	lower := strings.ToLower(sanitized)
	if strings.HasPrefix(lower, "system") || strings.HasPrefix(lower, "_system") || strings.HasPrefix(lower, "admin") {
		sanitized = "user_" + sanitized
	}
	return sanitized
}

// RewriteTableNames replaces every table name following FROM, JOIN or
// INTO with its canonical form, preserving the rest of the statement
// verbatim.
func RewriteTableNames(sql string) string {
	return tableRefRe.ReplaceAllStringFunc(sql, func(match string) string {
		table := tableRefRe.FindStringSubmatch(match)[2]
		canonical := CanonicalizeName(table)
		if canonical == table {
			return match
		}
		// Keyword text and spacing stay untouched.
		return match[:len(match)-len(table)] + canonical
	})
}

// scanMongoPayload returns a rejection reason for an unsafe
// document-store payload, or "".
func scanMongoPayload(payload models.Value) string {
	for _, op := range dangerousMongoOps {
		if containsKey(payload, op) {
			return "query contains dangerous operation: " + op
		}
	}
	serialized := payload.String()
	if systemNamespaceRe.MatchString(serialized) {
		return "query attempts to access system collections"
	}
	for _, re := range scriptPatterns {
		if re.MatchString(serialized) {
			return "query contains JavaScript code execution"
		}
	}
	return ""
}

// scanSQL returns a rejection reason for an unsafe SQL statement,
// or "".
func scanSQL(sql string) string {
	upper := strings.ToUpper(sql)
	for _, d := range sqlDangerous {
		if d.re.MatchString(upper) {
			return "query contains dangerous operation: " + d.reason
		}
	}
	if countStatements(sql) > 1 {
		return "multi-statement queries are not allowed"
	}
	if strings.Contains(sql, "--") || strings.Contains(sql, "/*") {
		return "query contains comment syntax that may be used for SQL injection"
	}
	return ""
}

// matchSQLWriteKeyword returns the first gated DML/DDL keyword found in
// the statement, or "".
func matchSQLWriteKeyword(sql string) string {
	return sqlWriteRe.FindString(strings.ToUpper(sql))
}

// countStatements counts non-empty statements separated by ';'.
func countStatements(sql string) int {
	n := 0
	for _, part := range strings.Split(sql, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

// containsKey recursively checks whether an object anywhere in the
// payload carries the given key.
func containsKey(v models.Value, key string) bool {
	switch v.Kind() {
	case models.KindObject:
		for k, child := range v.Object() {
			if k == key || containsKey(child, key) {
				return true
			}
		}
	case models.KindArray:
		for _, child := range v.Array() {
			if containsKey(child, key) {
				return true
			}
		}
	}
	return false
}
