package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/schema"
)

// Sanitizer validates and normalizes candidate queries before execution.
// It is the single enforcement point keeping destructive or unbounded
// statements away from the executor: one statement, read-only, every
// identifier present in the schema descriptor, row limit always bounded.
// Sanitizing an already-sanitized query yields the same string.
type Sanitizer struct {
	desc *schema.Descriptor
}

// NewSanitizer creates a sanitizer bound to a schema descriptor
func NewSanitizer(desc *schema.Descriptor) *Sanitizer {
	return &Sanitizer{desc: desc}
}

var (
	multiStmtRe  = regexp.MustCompile(`;\s*[^;\s]`)
	selectOnlyRe = regexp.MustCompile(`(?is)^\s*(with|select)\b`)
	sqlPrefixRe  = regexp.MustCompile(`(?i)^sql\s*:?\s*`)
	forbiddenRe  = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|replace|truncate|attach|detach|pragma|vacuum|reindex|merge)\b`)
	stringLitRe  = regexp.MustCompile(`'(?:[^']|'')*'`)
	limitRe      = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)
	identRe      = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_.]*`)
	tableRefRe   = regexp.MustCompile(`(?i)\b(from|join)\s+([a-zA-Z_]\w*)(?:\s+(?:as\s+)?([a-zA-Z_]\w*))?`)
	cteHeadRe    = regexp.MustCompile(`(?i)\bwith\s+([a-zA-Z_]\w*)\s+as\s*\(`)
	cteMoreRe    = regexp.MustCompile(`(?i),\s*([a-zA-Z_]\w*)\s+as\s*\(`)
	columnAsRe   = regexp.MustCompile(`(?i)\bas\s+([a-zA-Z_]\w*)`)
)

// Sanitize validates the raw candidate and returns the normalized executable
// query plus any normalization warnings. All failures are policy violations.
func (s *Sanitizer) Sanitize(raw string) (string, []string, error) {
	var warnings []string

	query := strings.TrimSpace(raw)
	query = strings.Trim(query, "`")
	query = sqlPrefixRe.ReplaceAllString(query, "")
	query = strings.TrimRight(query, "; \t\r\n")

	if query == "" {
		return "", nil, errors.NewPolicyViolationError("empty query")
	}

	if multiStmtRe.MatchString(query) {
		return "", nil, errors.NewPolicyViolationError("multiple statements detected; a single SELECT statement is required")
	}

	if !s.desc.Limits.AllowNonSelect && !selectOnlyRe.MatchString(query) {
		return "", nil, errors.NewPolicyViolationError("only SELECT and WITH ... SELECT queries are allowed")
	}

	// Scan with string literals blanked so values never trip keyword checks
	stripped := stringLitRe.ReplaceAllString(query, "''")
	if match := forbiddenRe.FindString(stripped); match != "" {
		return "", nil, errors.NewPolicyViolationError(
			fmt.Sprintf("statement contains a data-modifying or schema-modifying operation: %s", strings.ToUpper(match)))
	}

	if err := s.validateIdentifiers(stripped); err != nil {
		return "", nil, err
	}

	query, warnings = s.enforceLimit(query)
	return query, warnings, nil
}

// enforceLimit appends the descriptor's default row limit when absent and
// clamps an excessive one down to the maximum. Only the trailing LIMIT
// bounds the statement; a LIMIT inside a subquery or CTE is left alone and
// does not count as a bound on the outer query.
func (s *Sanitizer) enforceLimit(query string) (string, []string) {
	var warnings []string
	limits := s.desc.Limits

	var last []int
	if locs := limitRe.FindAllStringSubmatchIndex(query, -1); len(locs) > 0 {
		last = locs[len(locs)-1]
	}
	if last == nil || strings.Contains(query[last[1]:], ")") {
		query = fmt.Sprintf("%s LIMIT %d", query, limits.DefaultRowLimit)
		warnings = append(warnings, fmt.Sprintf("LIMIT %d added", limits.DefaultRowLimit))
		return query, warnings
	}

	if n, err := strconv.Atoi(query[last[2]:last[3]]); err == nil && n > limits.MaxRowLimit {
		query = query[:last[0]] + fmt.Sprintf("LIMIT %d", limits.MaxRowLimit) + query[last[1]:]
		warnings = append(warnings, fmt.Sprintf("LIMIT clamped to %d", limits.MaxRowLimit))
	}

	return query, warnings
}

// validateIdentifiers checks every identifier in the statement against the
// descriptor's tables and columns, allowing aliases and CTE names declared
// inside the statement itself
func (s *Sanitizer) validateIdentifiers(stripped string) error {
	// Double quotes only ever wrap identifiers in our dialect
	stripped = strings.ReplaceAll(stripped, `"`, "")

	allowed := make(map[string]bool)

	for _, m := range cteHeadRe.FindAllStringSubmatch(stripped, -1) {
		allowed[strings.ToLower(m[1])] = true
	}
	for _, m := range cteMoreRe.FindAllStringSubmatch(stripped, -1) {
		allowed[strings.ToLower(m[1])] = true
	}

	for _, m := range tableRefRe.FindAllStringSubmatch(stripped, -1) {
		table := strings.ToLower(m[2])
		if !s.desc.HasTable(table) && !allowed[table] {
			return errors.NewPolicyViolationError(fmt.Sprintf("unknown table: %s", table))
		}
		if alias := strings.ToLower(m[3]); alias != "" && !sqlKeywords[alias] {
			allowed[alias] = true
		}
	}

	for _, m := range columnAsRe.FindAllStringSubmatch(stripped, -1) {
		allowed[strings.ToLower(m[1])] = true
	}

	for _, token := range identRe.FindAllString(stripped, -1) {
		name := strings.ToLower(strings.TrimSuffix(token, "."))
		if sqlKeywords[name] || allowed[name] {
			continue
		}

		if qualifier, column, found := strings.Cut(name, "."); found {
			if !s.desc.HasTable(qualifier) && !allowed[qualifier] {
				return errors.NewPolicyViolationError(fmt.Sprintf("unknown table: %s", qualifier))
			}
			if column != "" && !s.columnKnown(qualifier, column, allowed) {
				return errors.NewPolicyViolationError(fmt.Sprintf("unknown column: %s", name))
			}
			continue
		}

		if s.desc.HasTable(name) || s.desc.HasAnyColumn(name) {
			continue
		}
		return errors.NewPolicyViolationError(fmt.Sprintf("unknown column: %s", name))
	}

	return nil
}

func (s *Sanitizer) columnKnown(qualifier, column string, allowed map[string]bool) bool {
	if allowed[column] {
		return true
	}
	if s.desc.HasTable(qualifier) {
		return s.desc.HasColumn(qualifier, column)
	}
	// Alias or CTE qualifier: the best we can resolve is membership anywhere
	return s.desc.HasAnyColumn(column)
}

// sqlKeywords covers keywords, operators and builtin functions that may
// appear in a read-only statement without being schema identifiers
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"order": true, "having": true, "as": true, "and": true, "or": true,
	"not": true, "in": true, "like": true, "between": true, "is": true,
	"null": true, "distinct": true, "limit": true, "offset": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"on": true, "join": true, "left": true, "right": true, "inner": true,
	"outer": true, "full": true, "cross": true, "union": true, "all": true,
	"asc": true, "desc": true, "with": true, "true": true, "false": true,
	"exists": true, "cast": true, "escape": true, "using": true,
	"integer": true, "real": true, "text": true, "numeric": true,
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"total": true, "abs": true, "round": true, "lower": true, "upper": true,
	"substr": true, "coalesce": true, "ifnull": true, "nullif": true,
	"length": true, "trim": true, "ltrim": true, "rtrim": true,
	"date": true, "time": true, "datetime": true, "strftime": true,
	"julianday": true, "instr": true, "printf": true,
	"group_concat": true, "row_number": true, "rank": true, "dense_rank": true,
	"over": true, "partition": true,
}
