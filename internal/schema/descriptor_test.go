package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/errors"
)

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "form.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeDescriptor(t, `{
		"tables": {
			"trades": {"columns": ["trade_id", "product", "notional"]}
		}
	}`)

	d, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRowLimit, d.Limits.DefaultRowLimit)
	assert.Equal(t, DefaultMaxRowLimit, d.Limits.MaxRowLimit)
	assert.Equal(t, DefaultTimeoutSeconds, d.Limits.TimeoutSeconds)
	assert.Equal(t, DefaultSampleSize, d.Reference.SampleSize)
	assert.Equal(t, "SQLite", d.Prompts.DialectHint)
	assert.False(t, d.Limits.AllowNonSelect)
}

func TestLoadClampsDefaultLimitToMax(t *testing.T) {
	path := writeDescriptor(t, `{
		"tables": {"t": {"columns": ["a"]}},
		"limits": {"default_row_limit": 5000, "max_row_limit": 200}
	}`)

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 200, d.Limits.DefaultRowLimit)
	assert.Equal(t, 200, d.Limits.MaxRowLimit)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemaLoad))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "no tables",
			content: `{"tables": {}}`,
			wantErr: true,
		},
		{
			name:    "table without columns",
			content: `{"tables": {"t": {"columns": []}}}`,
			wantErr: true,
		},
		{
			name:    "type for unknown column",
			content: `{"tables": {"t": {"columns": ["a"], "types": {"b": "numeric"}}}}`,
			wantErr: true,
		},
		{
			name: "reference column not declared",
			content: `{
				"tables": {"t": {"columns": ["a"]}},
				"reference": {"columns": [{"table": "t", "column": "missing"}]}
			}`,
			wantErr: true,
		},
		{
			name: "valid descriptor",
			content: `{
				"tables": {"t": {"columns": ["a", "b"], "types": {"b": "numeric"}}},
				"reference": {"columns": [{"table": "t", "column": "a"}]}
			}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDescriptor(t, tt.content)
			_, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestColumnLookups(t *testing.T) {
	d := &Descriptor{
		Tables: map[string]Table{
			"trades":         {Columns: []string{"trade_id", "counterparty", "notional"}},
			"counterparties": {Columns: []string{"counterparty", "region"}},
		},
	}

	assert.True(t, d.HasTable("trades"))
	assert.True(t, d.HasTable("TRADES"))
	assert.False(t, d.HasTable("positions"))

	assert.True(t, d.HasColumn("trades", "notional"))
	assert.False(t, d.HasColumn("trades", "region"))

	assert.True(t, d.HasAnyColumn("region"))
	assert.False(t, d.HasAnyColumn("missing"))

	assert.Equal(t, []string{"counterparties", "trades"}, d.TablesWithColumn("counterparty"))
}

func TestColumnTypeFallsBackToNaming(t *testing.T) {
	d := &Descriptor{
		Tables: map[string]Table{
			"trades": {
				Columns: []string{"trade_id", "notional", "failed_trade", "trade_date", "comment"},
				Types:   map[string]ColumnType{"trade_id": TypeText},
			},
		},
	}

	assert.Equal(t, TypeText, d.ColumnType("trades", "trade_id"))
	assert.Equal(t, TypeNumeric, d.ColumnType("trades", "notional"))
	assert.Equal(t, TypeBool, d.ColumnType("trades", "failed_trade"))
	assert.Equal(t, TypeDate, d.ColumnType("trades", "trade_date"))
	assert.Equal(t, TypeText, d.ColumnType("trades", "comment"))
}

func TestSchemaText(t *testing.T) {
	d := &Descriptor{
		Tables: map[string]Table{
			"b_table": {Columns: []string{"x"}},
			"a_table": {Columns: []string{"y", "z"}},
		},
	}

	assert.Equal(t, "a_table(y, z)\nb_table(x)", d.SchemaText())
}

func TestVocabularyText(t *testing.T) {
	d := &Descriptor{}
	assert.Empty(t, d.VocabularyText())

	d.Vocabulary = map[string]string{
		"failed":   "failed_trade = 1",
		"_comment": "ignored",
		"breach":   "exposure > counterparty_limit",
	}
	text := d.VocabularyText()
	assert.Equal(t, "- breach -> exposure > counterparty_limit\n- failed -> failed_trade = 1", text)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FORM_API_TOKEN", "secret-token")

	assert.Equal(t, "Bearer secret-token", ExpandEnv("Bearer ${FORM_API_TOKEN}"))
	assert.Equal(t, "plain value", ExpandEnv("plain value"))
	// Unset variables are left as written
	assert.Equal(t, "${NOT_SET_ANYWHERE}", ExpandEnv("${NOT_SET_ANYWHERE}"))
}
