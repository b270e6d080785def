package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/dataset"
	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/schema"
)

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Tables: map[string]schema.Table{
			"trades": {
				Columns: []string{"trade_id", "product", "counterparty", "notional", "failed_trade", "trade_date"},
				Types: map[string]schema.ColumnType{
					"trade_id":     schema.TypeText,
					"product":      schema.TypeText,
					"counterparty": schema.TypeText,
					"notional":     schema.TypeNumeric,
					"failed_trade": schema.TypeBool,
					"trade_date":   schema.TypeDate,
				},
				Granularity: map[string]string{"trade_id": "counterparty_trade"},
			},
			"counterparties": {
				Columns: []string{"counterparty", "counterparty_limit", "region"},
				Types: map[string]schema.ColumnType{
					"counterparty":       schema.TypeText,
					"counterparty_limit": schema.TypeNumeric,
					"region":             schema.TypeText,
				},
				Granularity: map[string]string{"counterparty_limit": "counterparty"},
			},
		},
		Vocabulary: map[string]string{
			"failed": "failed_trade = 1",
		},
		Limits: schema.Limits{DefaultRowLimit: 100, MaxRowLimit: 1000, TimeoutSeconds: 5},
		Reference: schema.ReferenceConfig{
			Columns: []schema.ReferenceColumn{
				{Table: "trades", Column: "product"},
				{Table: "trades", Column: "counterparty"},
			},
			SampleSize: 25,
		},
		Prompts: schema.Prompts{DialectHint: "SQLite"},
	}
}

func newTestExecutor(t *testing.T, d *schema.Descriptor) *dataset.Executor {
	t.Helper()

	store, err := dataset.NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Register(ctx, d, "trades", &dataset.TableData{
		Columns: []string{"trade_id", "product", "counterparty", "notional", "failed_trade", "trade_date"},
		Rows: [][]interface{}{
			{"T1", "FX FWD", "Aurora Metals", 1000000.0, 1, "2024-01-10"},
			{"T2", "FX FWD", "Aurora Metals", 2500000.0, 0, "2024-01-11"},
			{"T3", "IR SWAP", "Borealis Energy", 500000.0, 1, "2024-01-12"},
			{"T4", "FX SPOT", "Cascade Shipping", 750000.0, 0, "2024-01-13"},
		},
	}))
	require.NoError(t, store.Register(ctx, d, "counterparties", &dataset.TableData{
		Columns: []string{"counterparty", "counterparty_limit", "region"},
		Rows: [][]interface{}{
			{"Aurora Metals", 5000000.0, "EMEA"},
			{"Borealis Energy", 3000000.0, "APAC"},
			{"Cascade Shipping", 2000000.0, "AMER"},
		},
	}))

	return dataset.NewExecutor(store, d.Limits.TimeoutSeconds)
}

// scriptedGenerator returns one scripted output per call, in order. A step
// holds either a query or an error. Calls past the script repeat the last
// step.
type scriptedGenerator struct {
	steps []scriptStep
	calls int
	seen  []GenerateInput
}

type scriptStep struct {
	query string
	err   error
}

func (g *scriptedGenerator) Generate(_ context.Context, in GenerateInput) (string, error) {
	g.seen = append(g.seen, in)
	i := g.calls
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	g.calls++
	step := g.steps[i]
	return step.query, step.err
}

// countingExecutor wraps an executor and counts invocations
type countingExecutor struct {
	inner QueryExecutor
	calls int
}

func (e *countingExecutor) Execute(ctx context.Context, query string) (*dataset.Result, error) {
	e.calls++
	if e.inner == nil {
		return nil, fmt.Errorf("unexpected execute call: %s", query)
	}
	return e.inner.Execute(ctx, query)
}

// timeoutOnceExecutor times out its first call, then delegates
type timeoutOnceExecutor struct {
	inner QueryExecutor
	calls int
}

func (e *timeoutOnceExecutor) Execute(ctx context.Context, query string) (*dataset.Result, error) {
	e.calls++
	if e.calls == 1 {
		return nil, errors.NewExecutionTimeoutError(query, 1)
	}
	return e.inner.Execute(ctx, query)
}

// stubSampler serves canned reference values without a database
type stubSampler struct {
	values map[string][]string
	calls  int
	err    error
}

func (s *stubSampler) SampleDistinct(_ context.Context, table, column string, _ int) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.values[table+"."+column], nil
}
