package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/errors"
)

func TestSanitizeAcceptsAndNormalizes(t *testing.T) {
	s := NewSanitizer(testDescriptor())

	tests := []struct {
		name        string
		input       string
		want        string
		wantWarning string
	}{
		{
			name:        "plain select gets default limit",
			input:       "SELECT trade_id, product FROM trades",
			want:        "SELECT trade_id, product FROM trades LIMIT 100",
			wantWarning: "LIMIT 100 added",
		},
		{
			name:  "existing limit within bound is kept",
			input: "SELECT trade_id FROM trades LIMIT 10",
			want:  "SELECT trade_id FROM trades LIMIT 10",
		},
		{
			name:        "excessive limit is clamped",
			input:       "SELECT trade_id FROM trades LIMIT 50000",
			want:        "SELECT trade_id FROM trades LIMIT 1000",
			wantWarning: "LIMIT clamped to 1000",
		},
		{
			name:        "trailing semicolon is stripped",
			input:       "SELECT trade_id FROM trades;",
			want:        "SELECT trade_id FROM trades LIMIT 100",
			wantWarning: "LIMIT 100 added",
		},
		{
			name:  "code fence backticks and sql label are stripped",
			input: "`sql: SELECT trade_id FROM trades LIMIT 5`",
			want:  "SELECT trade_id FROM trades LIMIT 5",
		},
		{
			name:  "cte with alias is accepted",
			input: "WITH recent AS (SELECT trade_id, notional FROM trades WHERE trade_date > '2024-01-01') SELECT r.trade_id FROM recent r LIMIT 20",
			want:  "WITH recent AS (SELECT trade_id, notional FROM trades WHERE trade_date > '2024-01-01') SELECT r.trade_id FROM recent r LIMIT 20",
		},
		{
			name:  "join with table aliases is accepted",
			input: "SELECT t.trade_id, c.region FROM trades t JOIN counterparties c ON t.counterparty = c.counterparty LIMIT 50",
			want:  "SELECT t.trade_id, c.region FROM trades t JOIN counterparties c ON t.counterparty = c.counterparty LIMIT 50",
		},
		{
			name:        "excessive outer limit is clamped, subquery limit kept",
			input:       "SELECT trade_id FROM (SELECT trade_id FROM trades LIMIT 5) LIMIT 50000",
			want:        "SELECT trade_id FROM (SELECT trade_id FROM trades LIMIT 5) LIMIT 1000",
			wantWarning: "LIMIT clamped to 1000",
		},
		{
			name:        "limit only inside a subquery does not bound the statement",
			input:       "SELECT trade_id FROM (SELECT trade_id FROM trades LIMIT 5)",
			want:        "SELECT trade_id FROM (SELECT trade_id FROM trades LIMIT 5) LIMIT 100",
			wantWarning: "LIMIT 100 added",
		},
		{
			name:        "limit only inside a cte does not bound the statement",
			input:       "WITH recent AS (SELECT trade_id FROM trades LIMIT 5) SELECT trade_id FROM recent",
			want:        "WITH recent AS (SELECT trade_id FROM trades LIMIT 5) SELECT trade_id FROM recent LIMIT 100",
			wantWarning: "LIMIT 100 added",
		},
		{
			name:  "keywords inside string literals are ignored",
			input: "SELECT trade_id FROM trades WHERE product = 'DROP SHIPMENT' LIMIT 10",
			want:  "SELECT trade_id FROM trades WHERE product = 'DROP SHIPMENT' LIMIT 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings, err := s.Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.wantWarning != "" {
				require.Len(t, warnings, 1)
				assert.Equal(t, tt.wantWarning, warnings[0])
			} else {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestSanitizeRejects(t *testing.T) {
	s := NewSanitizer(testDescriptor())

	tests := []struct {
		name  string
		input string
	}{
		{"empty input", "   "},
		{"multiple statements", "SELECT trade_id FROM trades; SELECT 1"},
		{"delete statement", "DELETE FROM trades WHERE trade_id = 'T1'"},
		{"update statement", "UPDATE trades SET notional = 0"},
		{"drop embedded in select", "SELECT trade_id FROM trades; DROP TABLE trades"},
		{"insert statement", "INSERT INTO trades VALUES ('T9')"},
		{"pragma statement", "PRAGMA table_info(trades)"},
		{"unknown table", "SELECT trade_id FROM positions"},
		{"unknown column", "SELECT settlement_ccy FROM trades"},
		{"unknown qualified column", "SELECT t.settlement_ccy FROM trades t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Sanitize(tt.input)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodePolicyViolation))
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	s := NewSanitizer(testDescriptor())

	inputs := []string{
		"SELECT trade_id, product FROM trades WHERE failed_trade = 1",
		"SELECT trade_id FROM trades LIMIT 99999",
		"SELECT trade_id FROM (SELECT trade_id FROM trades LIMIT 5) LIMIT 99999",
		"SELECT t.trade_id FROM trades t JOIN counterparties c ON t.counterparty = c.counterparty",
	}

	for _, input := range inputs {
		once, _, err := s.Sanitize(input)
		require.NoError(t, err)
		twice, warnings, err := s.Sanitize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
		assert.Empty(t, warnings)
	}
}
