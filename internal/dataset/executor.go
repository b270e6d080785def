package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querydesk/sql-copilot/internal/errors"
)

// Result is the structured outcome of a successful query: ordered column
// names and ordered row tuples
type Result struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// RowCount returns the number of rows in the result
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// Executor runs sanitizer-approved queries against a store under a timeout
// bound. It is stateless across turns; only the store's registration
// persists for the session.
type Executor struct {
	store   *Store
	timeout time.Duration
}

// NewExecutor creates an executor over a registered store
func NewExecutor(store *Store, timeoutSeconds int) *Executor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Executor{
		store:   store,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}
}

// Execute runs the query and returns its result set. Engine diagnostics are
// preserved verbatim in the returned error; a deadline hit is reported as a
// distinguished execution timeout.
func (e *Executor) Execute(ctx context.Context, query string) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.store.db.QueryContext(execCtx, query)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewExecutionTimeoutError(query, int(e.timeout.Seconds()))
		}
		return nil, errors.NewExecutionError(err, query)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.NewExecutionError(err, query)
	}

	result := &Result{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.NewExecutionError(err, query)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewExecutionTimeoutError(query, int(e.timeout.Seconds()))
		}
		return nil, errors.NewExecutionError(err, query)
	}

	return result, nil
}

// SampleDistinct samples up to limit distinct non-null values of a column,
// used to build the reference cache
func (e *Executor) SampleDistinct(ctx context.Context, table, column string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 25
	}

	query := fmt.Sprintf("SELECT DISTINCT %q FROM %q WHERE %q IS NOT NULL LIMIT %d", column, table, column, limit)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.store.db.QueryContext(execCtx, query)
	if err != nil {
		return nil, errors.NewExecutionError(err, query)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, errors.NewExecutionError(err, query)
		}
		if value.Valid {
			values = append(values, value.String)
		}
	}
	return values, rows.Err()
}
