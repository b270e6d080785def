package dataset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/schema"
)

func tradesDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Tables: map[string]schema.Table{
			"trades": {
				Columns: []string{"trade_id", "product", "notional", "failed_trade"},
				Types: map[string]schema.ColumnType{
					"trade_id":     schema.TypeText,
					"product":      schema.TypeText,
					"notional":     schema.TypeNumeric,
					"failed_trade": schema.TypeBool,
				},
			},
		},
		Limits: schema.Limits{DefaultRowLimit: 100, MaxRowLimit: 1000, TimeoutSeconds: 5},
	}
}

func registeredStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := tradesDescriptor()
	err = store.Register(context.Background(), d, "trades", &TableData{
		Columns: []string{"trade_id", "product", "notional", "failed_trade"},
		Rows: [][]interface{}{
			{"T1", "FX FWD", 1000000.0, 1},
			{"T2", "IR SWAP", 250000.5, 0},
			{"T3", "FX SPOT", nil, 0},
		},
	})
	require.NoError(t, err)
	return store
}

func TestRegisterAndExecute(t *testing.T) {
	store := registeredStore(t)
	exec := NewExecutor(store, 5)

	result, err := exec.Execute(context.Background(), "SELECT trade_id, notional FROM trades ORDER BY trade_id")
	require.NoError(t, err)

	assert.Equal(t, []string{"trade_id", "notional"}, result.Columns)
	require.Equal(t, 3, result.RowCount())
	assert.Equal(t, "T1", result.Rows[0][0])
	assert.EqualValues(t, 1000000.0, result.Rows[0][1])
	assert.Nil(t, result.Rows[2][1])
}

func TestExecuteAggregates(t *testing.T) {
	store := registeredStore(t)
	exec := NewExecutor(store, 5)

	result, err := exec.Execute(context.Background(), "SELECT COUNT(*) AS n, SUM(notional) AS total FROM trades")
	require.NoError(t, err)

	require.Equal(t, 1, result.RowCount())
	assert.EqualValues(t, 3, result.Rows[0][0])
	assert.EqualValues(t, 1250000.5, result.Rows[0][1])
}

func TestExecuteReportsEngineErrors(t *testing.T) {
	store := registeredStore(t)
	exec := NewExecutor(store, 5)

	_, err := exec.Execute(context.Background(), "SELECT * FROM positions")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExecutionFailed))
	// The engine diagnostic must survive for the reviewer to classify
	assert.Contains(t, err.Error(), "positions")

	_, err = exec.Execute(context.Background(), "SELECT missing_col FROM trades")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExecutionFailed))
}

func TestExecuteTimesOut(t *testing.T) {
	store := registeredStore(t)
	exec := NewExecutor(store, 1)

	// Unbounded recursive CTE cannot finish inside the deadline
	_, err := exec.Execute(context.Background(),
		"WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n+1 FROM r) SELECT COUNT(*) FROM r")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExecutionTimeout))
	assert.Contains(t, err.Error(), "1 second limit")
}

func TestRegisterRejectsEmptyColumns(t *testing.T) {
	store, err := NewStore()
	require.NoError(t, err)
	defer store.Close()

	err = store.Register(context.Background(), tradesDescriptor(), "trades", &TableData{})
	assert.Error(t, err)
}

func TestRegisterEmptyTable(t *testing.T) {
	store, err := NewStore()
	require.NoError(t, err)
	defer store.Close()

	err = store.Register(context.Background(), tradesDescriptor(), "trades", &TableData{
		Columns: []string{"trade_id", "product", "notional", "failed_trade"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"trades"}, store.Tables())

	exec := NewExecutor(store, 5)
	result, err := exec.Execute(context.Background(), "SELECT * FROM trades")
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowCount())
}

func TestSampleDistinct(t *testing.T) {
	store := registeredStore(t)
	exec := NewExecutor(store, 5)

	values, err := exec.SampleDistinct(context.Background(), "trades", "product", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"FX FWD", "IR SWAP", "FX SPOT"}, values)

	// Limit bounds the sample
	values, err = exec.SampleDistinct(context.Background(), "trades", "product", 2)
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestPing(t *testing.T) {
	store, err := NewStore()
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}
