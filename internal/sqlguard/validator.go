package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// Safety limits for incoming SQL.
const (
	MaxQueryLength = 10000
	maxOpenParens  = 100
)

// writeKeywords are rejected anywhere in the statement, matched on word
// boundaries so column names like created_at pass.
var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "REPLACE", "MERGE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "CALL", "DO",
}

var writeKeywordPatterns = compileKeywordPatterns(writeKeywords)

func compileKeywordPatterns(keywords []string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(keywords))
	for _, kw := range keywords {
		patterns[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return patterns
}

// dangerousPatterns screen for injection primitives that survive the keyword
// denylist. Matched case-insensitively against the raw query.
var dangerousPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?i);\s*SELECT`), "multiple statements detected"},
	{regexp.MustCompile(`(?i);\s*WITH`), "multiple statements detected"},
	{regexp.MustCompile(`(?i)pg_sleep`), "sleep functions not allowed"},
	{regexp.MustCompile(`(?i)dblink`), "database links not allowed"},
	{regexp.MustCompile(`(?i)copy\s+`), "COPY command not allowed"},
	{regexp.MustCompile(`(?i)lo_import`), "large object functions not allowed"},
	{regexp.MustCompile(`(?i)lo_export`), "large object functions not allowed"},
	{regexp.MustCompile(`(?i)\binto\s+outfile\b`), "file operations not allowed"},
	{regexp.MustCompile(`(?i)\bload_file\b`), "file operations not allowed"},
	{regexp.MustCompile(`(?i)xp_cmdshell`), "command execution not allowed"},
}

var (
	lineCommentPattern  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	tablePattern        = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([a-zA-Z0-9_.]+)`)
)

// stripComments removes line and block comments so commented-out keywords
// cannot smuggle a write operation past the prefix check.
func stripComments(query string) string {
	query = lineCommentPattern.ReplaceAllString(query, "")
	return blockCommentPattern.ReplaceAllString(query, "")
}

// CheckReadOnly verifies the statement is a bare SELECT or WITH and contains
// no write keywords once comments are stripped.
func CheckReadOnly(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query cannot be empty")
	}

	normalized := strings.ToUpper(strings.TrimSpace(stripComments(query)))

	for _, kw := range writeKeywords {
		if writeKeywordPatterns[kw].MatchString(normalized) {
			return fmt.Errorf("only SELECT queries are allowed: %s is a write operation", kw)
		}
	}

	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed (statement must begin with SELECT or WITH)")
	}
	return nil
}

// Validate screens a query for dangerous patterns, multiple statements,
// excessive length and pathological nesting. It does not check read-only
// status; callers combine it with CheckReadOnly via Check.
func Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", MaxQueryLength)
	}

	for _, p := range dangerousPatterns {
		if p.re.MatchString(query) {
			return fmt.Errorf("%s", p.message)
		}
	}

	if n := countStatements(query); n > 1 {
		return fmt.Errorf("multiple statements not allowed, only a single SELECT is permitted")
	}

	opens := strings.Count(query, "(")
	closes := strings.Count(query, ")")
	if opens != closes {
		return fmt.Errorf("unbalanced parentheses in query")
	}
	if opens > maxOpenParens {
		return fmt.Errorf("query too complex (too many nested subqueries)")
	}

	return nil
}

// Check runs the full gate and returns the tables the statement touches.
func Check(query string) ([]string, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}
	if err := Validate(query); err != nil {
		return nil, err
	}
	return ExtractTables(query), nil
}

// countStatements splits on semicolons outside single- and double-quoted
// strings and counts the non-empty pieces.
func countStatements(query string) int {
	count := 0
	var current strings.Builder
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ';':
			if strings.TrimSpace(current.String()) != "" {
				count++
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		count++
	}
	return count
}

// ExtractTables pulls identifiers following FROM/JOIN for audit logging and
// error messages. Best-effort lexical extraction, deduplicated in order of
// first appearance.
func ExtractTables(query string) []string {
	matches := tablePattern.FindAllStringSubmatch(query, -1)
	seen := make(map[string]struct{}, len(matches))
	var tables []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
