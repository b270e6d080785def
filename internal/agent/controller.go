package agent

import (
	"context"
	"time"

	"github.com/querydesk/sql-copilot/internal/dataset"
	apperrors "github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/observability"
	"github.com/querydesk/sql-copilot/internal/schema"
)

// DefaultMaxTurns bounds the generate/review loop when the caller does not
// configure one
const DefaultMaxTurns = 4

// QueryExecutor runs a sanitized query and returns its result set
type QueryExecutor interface {
	Execute(ctx context.Context, query string) (*dataset.Result, error)
}

// Controller drives one session through the
// generate -> sanitize -> execute -> review loop. The loop is bounded by
// maxTurns; every turn leaves exactly one record in the trace, and the
// caller always gets the best attempt back, whether or not review accepted
// it.
type Controller struct {
	desc      *schema.Descriptor
	generator QueryGenerator
	sanitizer *Sanitizer
	executor  QueryExecutor
	reviewer  *Reviewer
	refs      *ReferenceCache
	maxTurns  int
	logger    *observability.Logger
}

// NewController wires the loop components together. maxTurns <= 0 selects
// DefaultMaxTurns.
func NewController(desc *schema.Descriptor, gen QueryGenerator, exec QueryExecutor, sampler ValueSampler, maxTurns int) *Controller {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	refs := NewReferenceCache(desc, sampler)
	return &Controller{
		desc:      desc,
		generator: gen,
		sanitizer: NewSanitizer(desc),
		executor:  exec,
		reviewer:  NewReviewer(desc).WithReferences(refs),
		refs:      refs,
		maxTurns:  maxTurns,
		logger:    observability.NewLogger("agent"),
	}
}

// MaxTurns returns the configured turn bound
func (c *Controller) MaxTurns() int {
	return c.maxTurns
}

// Run executes one full session for a natural-language request. Examples
// are optional retrieved (request, query) pairs for the prompt. The
// returned response always carries the full trace; a session that never
// produced an accepted result has Error set and Result nil.
func (c *Controller) Run(ctx context.Context, request string, examples []Example) (*Response, error) {
	start := time.Now()
	st := &sessionState{request: request}
	references := c.refs.PromptText(ctx)

	for st.turn < c.maxTurns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.runTurn(ctx, st, references, examples)
		if st.decision == DecisionGood {
			break
		}
	}

	resp := &Response{
		Request:    st.request,
		FinalQuery: st.currentQuery,
		Result:     st.result,
		Turns:      st.turn,
		Trace:      st.trace,
		Warnings:   st.warnings,
		TotalMs:    time.Since(start).Milliseconds(),
		ExecMs:     st.execMs,
	}
	if st.err != nil {
		resp.Error = st.err.Error()
	}
	if n := len(st.trace); n > 0 {
		resp.Exhausted = st.trace[n-1].Exhausted
	}

	c.logger.Info(ctx, "Session finished", map[string]interface{}{
		"turns":     resp.Turns,
		"exhausted": resp.Exhausted,
		"success":   resp.Result != nil,
		"total_ms":  resp.TotalMs,
	})
	observability.RecordAgentSession(resp.Turns, resp.Exhausted, resp.Result != nil)

	return resp, nil
}

// runTurn performs one generate -> sanitize -> execute -> review cycle and
// appends its trace record. Generation and policy failures short-circuit
// the later stages but still consume the turn.
func (c *Controller) runTurn(ctx context.Context, st *sessionState, references string, examples []Example) {
	raw, err := c.generator.Generate(ctx, GenerateInput{
		Request:       st.request,
		References:    references,
		Examples:      examples,
		Turn:          st.turn,
		PreviousQuery: st.previousQuery,
		Feedback:      st.feedback,
	})
	if err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeGenerationFailed) {
			err = apperrors.NewGenerationError(err)
		}
		st.setError(err)
		c.settleTurn(st, "", c.reviewer.Review(ctx, ReviewInput{
			Request:  st.request,
			Error:    err,
			Turn:     st.turn,
			MaxTurns: c.maxTurns,
		}))
		return
	}

	query, warnings, err := c.sanitizer.Sanitize(raw)
	if err != nil {
		observability.GetGlobalMetrics().Inc(observability.MetricSanitizerViolations, nil)
		st.setError(err)
		c.settleTurn(st, raw, c.reviewer.Review(ctx, ReviewInput{
			Request:  st.request,
			Query:    raw,
			Error:    err,
			Turn:     st.turn,
			MaxTurns: c.maxTurns,
		}))
		return
	}

	st.currentQuery = query
	st.warnings = append(st.warnings, warnings...)

	execStart := time.Now()
	result, execErr := c.executor.Execute(ctx, query)
	st.execMs += time.Since(execStart).Milliseconds()

	if execErr != nil {
		st.setError(execErr)
	} else {
		st.setResult(result)
	}

	c.settleTurn(st, query, c.reviewer.Review(ctx, ReviewInput{
		Request:  st.request,
		Query:    query,
		Result:   st.result,
		Error:    st.err,
		Turn:     st.turn,
		MaxTurns: c.maxTurns,
	}))
}

// settleTurn records the verdict in the trace and advances the session by
// one turn
func (c *Controller) settleTurn(st *sessionState, query string, v Verdict) {
	rec := TurnRecord{
		Turn:      st.turn,
		Query:     query,
		Decision:  v.Decision,
		Feedback:  v.Feedback,
		Exhausted: v.Exhausted,
	}
	if st.err != nil {
		rec.Outcome = OutcomeError
		rec.Error = st.err.Error()
	} else if st.result != nil {
		rec.Outcome = OutcomeRows
		rec.RowCount = st.result.RowCount()
	}

	st.trace = append(st.trace, rec)
	st.turn++
	st.decision = v.Decision
	st.feedback = v.Feedback
	if st.currentQuery != "" {
		st.previousQuery = st.currentQuery
	}

	c.logger.Debug(context.Background(), "Turn reviewed", map[string]interface{}{
		"turn":     rec.Turn,
		"outcome":  rec.Outcome,
		"decision": string(rec.Decision),
	})
	observability.RecordAgentTurn(string(rec.Decision), rec.Outcome)
}
