package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/querydesk/sql-copilot/internal/dataset"
	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/schema"
)

// Reviewer judges a (request, query, result-or-error) triple and decides
// whether the session is done or needs another turn. The checklist is a
// fixed precedence order: the first rule that fires supplies the feedback,
// later rules are not consulted.
type Reviewer struct {
	desc *schema.Descriptor
	refs *ReferenceCache
}

// NewReviewer creates a reviewer bound to a schema descriptor
func NewReviewer(desc *schema.Descriptor) *Reviewer {
	return &Reviewer{desc: desc}
}

// WithReferences lets feedback on unmatched text literals name the closest
// stored values instead of a generic retry hint
func (r *Reviewer) WithReferences(refs *ReferenceCache) *Reviewer {
	r.refs = refs
	return r
}

// ReviewInput is one turn's evidence for the reviewer
type ReviewInput struct {
	Request  string
	Query    string
	Result   *dataset.Result
	Error    error
	Turn     int
	MaxTurns int
}

// Verdict is the reviewer's judgement for the turn. Exhausted marks a
// forced acceptance on the final turn: the result is returned to the
// caller but did not pass the checklist.
type Verdict struct {
	Decision  Decision
	Feedback  string
	Exhausted bool
}

var (
	aggregateFnRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|total)\s*\(`)
	textEqRe      = regexp.MustCompile(`(?i)\b(?:[a-zA-Z_]\w*\.)?([a-zA-Z_]\w*)\s*=\s*'`)
	textEqValRe   = regexp.MustCompile(`(?i)\b(?:[a-zA-Z_]\w*\.)?([a-zA-Z_]\w*)\s*=\s*'([^']*)'`)
	groupByRe     = regexp.MustCompile(`(?i)\bgroup\s+by\s+(.+?)(?:\border\b|\blimit\b|\bhaving\b|$)`)
	sumAvgArgRe   = regexp.MustCompile(`(?i)\b(?:sum|avg|total)\s*\(\s*(?:[a-zA-Z_]\w*\.)?([a-zA-Z_]\w*)\s*\)`)
	joinRe        = regexp.MustCompile(`(?i)\bjoin\b`)
	wherePartRe   = regexp.MustCompile(`(?i)\bwhere\b(.+?)(?:\bgroup\b|\border\b|\blimit\b|$)`)
)

// Review applies the checklist. On the final permitted turn the decision is
// forced to GOOD so the caller always receives the best attempt, flagged as
// exhausted when the checklist would have asked for another round.
func (r *Reviewer) Review(ctx context.Context, in ReviewInput) Verdict {
	decision, feedback := r.checklist(ctx, in)

	if decision == DecisionRefine && in.Turn >= in.MaxTurns-1 {
		return Verdict{Decision: DecisionGood, Feedback: feedback, Exhausted: true}
	}
	return Verdict{Decision: decision, Feedback: feedback}
}

func (r *Reviewer) checklist(ctx context.Context, in ReviewInput) (Decision, string) {
	if in.Error != nil {
		switch {
		case errors.IsCode(in.Error, errors.ErrCodeGenerationFailed):
			return DecisionRefine, "could not extract a valid query; restate the intent"
		case errors.IsCode(in.Error, errors.ErrCodePolicyViolation):
			reason := in.Error.Error()
			if ee, ok := in.Error.(*errors.EnhancedError); ok && ee.Details != "" {
				reason = ee.Details
			}
			return DecisionRefine, fmt.Sprintf("query rejected: %s; produce a single read-only SELECT using only tables and columns from the schema", reason)
		default:
			return DecisionRefine, fmt.Sprintf("execution failed: %s (%s)", in.Error.Error(), classifyExecutionError(in.Error))
		}
	}

	if fb := r.emptyResultWithTextEquality(ctx, in); fb != "" {
		return DecisionRefine, fb
	}
	if fb := r.missingRequestPredicate(in); fb != "" {
		return DecisionRefine, fb
	}
	if fb := r.filterColumnNotProjected(in); fb != "" {
		return DecisionRefine, fb
	}
	if fb := r.granularityMismatch(in); fb != "" {
		return DecisionRefine, fb
	}
	if fb := r.unnecessaryJoin(in); fb != "" {
		return DecisionRefine, fb
	}
	return DecisionGood, ""
}

// classifyExecutionError buckets engine diagnostics into a fix category the
// next generation turn can act on
func classifyExecutionError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such column") || strings.Contains(msg, "no such table"):
		return "likely a missing or misspelled column or table"
	case strings.Contains(msg, "type") || strings.Contains(msg, "mismatch"):
		return "likely a type mismatch in a comparison"
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return "query too broad; add a narrowing filter"
	default:
		return "likely a syntax error"
	}
}

// Rule: an empty result combined with exact equality against a text column
// usually means the literal does not match any stored value. When reference
// values were sampled for the column, the feedback names the closest ones.
func (r *Reviewer) emptyResultWithTextEquality(ctx context.Context, in ReviewInput) string {
	if in.Result == nil || len(in.Result.Rows) > 0 {
		return ""
	}
	for _, m := range textEqValRe.FindAllStringSubmatch(in.Query, -1) {
		col := strings.ToLower(m[1])
		textColumn := false
		for _, table := range r.desc.TablesWithColumn(col) {
			if r.desc.ColumnType(table, col) != schema.TypeText {
				continue
			}
			textColumn = true
			if r.refs != nil {
				if matches := r.refs.Lookup(ctx, table, col, m[2]); len(matches) > 0 {
					return fmt.Sprintf("no rows matched; no stored %s equals %q exactly, closest known values: %s", col, m[2], strings.Join(matches, ", "))
				}
			}
		}
		if textColumn {
			return fmt.Sprintf("no rows matched; the exact equality on %s may be too strict, try a partial match (LIKE with wildcards) or check the value against known values", col)
		}
	}
	return ""
}

// Rule: a vocabulary term named in the request should show up as a predicate
// in the query
func (r *Reviewer) missingRequestPredicate(in ReviewInput) string {
	request := strings.ToLower(in.Request)
	query := strings.ToLower(in.Query)

	for term, expr := range r.desc.Vocabulary {
		if strings.HasPrefix(term, "_") {
			continue
		}
		if !strings.Contains(request, strings.ToLower(term)) {
			continue
		}
		if predicateReflected(query, expr) {
			continue
		}
		return fmt.Sprintf("the request mentions %q but the query has no matching predicate; expected something like %s", term, expr)
	}
	return ""
}

// predicateReflected reports whether a column from the vocabulary expression
// appears in the query
func predicateReflected(query, expr string) bool {
	for _, ident := range identRe.FindAllString(strings.ToLower(expr), -1) {
		if sqlKeywords[ident] {
			continue
		}
		if strings.Contains(query, ident) {
			return true
		}
	}
	return false
}

// Rule: columns filtered on should appear in the projection so the answer is
// verifiable. Skipped for aggregate queries, where the projection is shaped
// by the aggregation rather than the filters.
func (r *Reviewer) filterColumnNotProjected(in ReviewInput) string {
	if in.Result == nil || aggregateFnRe.MatchString(in.Query) {
		return ""
	}

	stripped := stringLitRe.ReplaceAllString(in.Query, "'x'")
	where := wherePartRe.FindStringSubmatch(stripped)
	if where == nil {
		return ""
	}

	projected := make(map[string]bool)
	for _, c := range in.Result.Columns {
		projected[strings.ToLower(c)] = true
	}

	for _, m := range textEqRe.FindAllStringSubmatch(where[1], -1) {
		col := strings.ToLower(m[1])
		if r.desc.HasAnyColumn(col) && !projected[col] {
			return fmt.Sprintf("the filter column %s is not in the result; include it in the SELECT list so the answer can be verified", col)
		}
	}
	return ""
}

// Rule: summing a value declared at a coarser granularity than the GROUP BY
// key over-counts it once per finer-grained row. Best effort: it needs
// granularity tags in the descriptor and catches only declared cases.
func (r *Reviewer) granularityMismatch(in ReviewInput) string {
	group := groupByRe.FindStringSubmatch(in.Query)
	if group == nil {
		return ""
	}

	var groupGrain string
	var groupCol string
	for _, ident := range identRe.FindAllString(strings.ToLower(group[1]), -1) {
		name := ident[strings.LastIndex(ident, ".")+1:]
		if g := r.desc.ColumnGranularity(name); g != "" {
			groupGrain, groupCol = g, name
			break
		}
	}
	if groupGrain == "" {
		return ""
	}

	for _, m := range sumAvgArgRe.FindAllStringSubmatch(in.Query, -1) {
		col := strings.ToLower(m[1])
		grain := r.desc.ColumnGranularity(col)
		if grain == "" || grain == groupGrain {
			continue
		}
		// Grain tags nest by prefix: "trade_leg" is finer than "trade"
		if strings.HasPrefix(groupGrain, grain) {
			return fmt.Sprintf("%s is recorded per %s but the query groups by %s (per %s); aggregating it this way over-counts, deduplicate at the %s level first", col, grain, groupCol, groupGrain, grain)
		}
	}
	return ""
}

// Rule: a join where every referenced column lives in one table adds cost
// and duplicate-row risk for nothing
func (r *Reviewer) unnecessaryJoin(in ReviewInput) string {
	if !joinRe.MatchString(in.Query) {
		return ""
	}

	stripped := stringLitRe.ReplaceAllString(in.Query, "'x'")

	var tables []string
	for _, m := range tableRefRe.FindAllStringSubmatch(stripped, -1) {
		if r.desc.HasTable(m[2]) {
			tables = append(tables, strings.ToLower(m[2]))
		}
	}
	if len(tables) < 2 {
		return ""
	}

	// Which of the joined tables could, alone, supply every referenced column?
	var referenced []string
	for _, ident := range identRe.FindAllString(stripped, -1) {
		name := strings.ToLower(ident[strings.LastIndex(ident, ".")+1:])
		if sqlKeywords[name] || r.desc.HasTable(name) {
			continue
		}
		if r.desc.HasAnyColumn(name) {
			referenced = append(referenced, name)
		}
	}

	for _, table := range tables {
		all := true
		for _, col := range referenced {
			if !r.desc.HasColumn(table, col) {
				all = false
				break
			}
		}
		if all {
			return fmt.Sprintf("every referenced column exists in %s; the join is unnecessary, query %s alone", table, table)
		}
	}
	return ""
}
