// Package agent implements the self-correcting natural-language-to-SQL loop:
// a bounded generate, sanitize, execute, review cycle that converges on a
// query answering the user's request or gives up within a fixed turn budget.
package agent

import (
	"github.com/querydesk/sql-copilot/internal/dataset"
)

// Decision is the reviewer's verdict on a turn
type Decision string

const (
	DecisionGood   Decision = "GOOD"
	DecisionRefine Decision = "REFINE"
)

// Outcome classifies what a turn produced
const (
	OutcomeRows  = "rows"
	OutcomeError = "error"
)

// TurnRecord is the append-only audit unit for one completed turn. Its shape
// is stable for logging and compliance consumers.
type TurnRecord struct {
	Turn      int      `json:"turn"`
	Query     string   `json:"query"`
	Outcome   string   `json:"outcome"` // "rows" or "error"
	RowCount  int      `json:"row_count"`
	Error     string   `json:"error,omitempty"`
	Decision  Decision `json:"decision"`
	Feedback  string   `json:"feedback,omitempty"`
	Exhausted bool     `json:"exhausted,omitempty"`
}

// Response is what every session yields, clean finish or not. Callers
// distinguish success from giving up via the Exhausted flag and inspect the
// trace for root cause.
type Response struct {
	Request    string          `json:"request"`
	FinalQuery string          `json:"final_query"`
	Result     *dataset.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Exhausted  bool            `json:"exhausted"`
	Turns      int             `json:"turns"`
	Trace      []TurnRecord    `json:"trace"`
	Warnings   []string        `json:"warnings,omitempty"`
	TotalMs    int64           `json:"total_ms"`
	ExecMs     int64           `json:"execution_ms"`
}

// sessionState is the single mutable record threaded through one session's
// loop. The request never changes; result and err are mutually exclusive;
// turn increases by exactly one per completed cycle.
type sessionState struct {
	request       string
	currentQuery  string
	previousQuery string
	result        *dataset.Result
	err           error
	turn          int
	feedback      string
	decision      Decision
	trace         []TurnRecord
	warnings      []string
	execMs        int64
}

// setResult records a successful execution, clearing any prior error
func (s *sessionState) setResult(result *dataset.Result) {
	s.result = result
	s.err = nil
}

// setError records a failed turn, clearing any prior result
func (s *sessionState) setError(err error) {
	s.result = nil
	s.err = err
}
