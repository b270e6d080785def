// Package schema holds the externally supplied schema descriptor: the tables
// the agent may query, the business vocabulary, and the execution limits.
// A descriptor is read-only for the lifetime of a session and is passed
// explicitly into every component call, never held as ambient state.
package schema

import (
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/querydesk/sql-copilot/internal/errors"
)

// ColumnType classifies a column for review heuristics
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeNumeric ColumnType = "numeric"
	TypeBool    ColumnType = "bool"
	TypeDate    ColumnType = "date"
)

// Source describes where a table's rows come from
type Source struct {
	Mode     string            `json:"mode"`      // "file" or "api"
	FilePath string            `json:"file_path"` // for mode=file
	URL      string            `json:"url"`       // for mode=api
	Format   string            `json:"format"`    // "array_of_objects", "csv_rows_in_json"
	Headers  map[string]string `json:"headers,omitempty"`
	// csv_rows_in_json keys
	ColumnsKey string `json:"columns_key,omitempty"`
	RowKey     string `json:"row_key,omitempty"`
	FieldKey   string `json:"field_key,omitempty"`
	Delimiter  string `json:"delimiter,omitempty"`
}

// Table describes one queryable table
type Table struct {
	Columns []string              `json:"columns"`
	Types   map[string]ColumnType `json:"types,omitempty"`
	// Granularity optionally tags a column with the entity level it is
	// defined at (e.g. counterparty_limit -> "counterparty"). Used by the
	// reviewer's aggregation check; columns without a tag fall back to
	// naming heuristics.
	Granularity map[string]string `json:"granularity,omitempty"`
	Source      *Source           `json:"source,omitempty"`
}

// Limits bounds query execution
type Limits struct {
	DefaultRowLimit int  `json:"default_row_limit"`
	MaxRowLimit     int  `json:"max_row_limit"`
	TimeoutSeconds  int  `json:"timeout_seconds"`
	AllowNonSelect  bool `json:"allow_non_select"`
}

// ReferenceColumn names a column whose distinct values are sampled for
// entity disambiguation
type ReferenceColumn struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ReferenceConfig controls reference value sampling
type ReferenceConfig struct {
	Columns    []ReferenceColumn `json:"columns"`
	SampleSize int               `json:"sample_size"`
}

// Prompts carries prompt hints from the descriptor file
type Prompts struct {
	DialectHint string `json:"dialect_hint"`
}

// Descriptor is the complete schema descriptor for one dataset
type Descriptor struct {
	Tables     map[string]Table  `json:"tables"`
	Vocabulary map[string]string `json:"vocabulary,omitempty"`
	Limits     Limits            `json:"limits"`
	Reference  ReferenceConfig   `json:"reference,omitempty"`
	Prompts    Prompts           `json:"prompts,omitempty"`
}

const (
	DefaultRowLimit       = 100
	DefaultMaxRowLimit    = 1000
	DefaultTimeoutSeconds = 30
	DefaultSampleSize     = 25
)

// Load reads a descriptor from a JSON form file and applies defaults
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSchemaLoadError(err, path)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.NewSchemaLoadError(err, path)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	d.applyDefaults()
	return &d, nil
}

// Validate checks the descriptor for structural problems
func (d *Descriptor) Validate() error {
	if len(d.Tables) == 0 {
		return errors.New(errors.ErrCodeSchemaLoad, "descriptor declares no tables")
	}
	for name, table := range d.Tables {
		if len(table.Columns) == 0 {
			return errors.New(errors.ErrCodeSchemaLoad, "table declares no columns").
				WithMetadata("table", name)
		}
		for col := range table.Types {
			if !contains(table.Columns, col) {
				return errors.New(errors.ErrCodeSchemaLoad, "type declared for unknown column").
					WithMetadata("table", name).WithMetadata("column", col)
			}
		}
	}
	for _, ref := range d.Reference.Columns {
		if !d.HasColumn(ref.Table, ref.Column) {
			return errors.New(errors.ErrCodeSchemaLoad, "reference column not present in tables").
				WithMetadata("table", ref.Table).WithMetadata("column", ref.Column)
		}
	}
	return nil
}

func (d *Descriptor) applyDefaults() {
	if d.Limits.DefaultRowLimit <= 0 {
		d.Limits.DefaultRowLimit = DefaultRowLimit
	}
	if d.Limits.MaxRowLimit <= 0 {
		d.Limits.MaxRowLimit = DefaultMaxRowLimit
	}
	if d.Limits.DefaultRowLimit > d.Limits.MaxRowLimit {
		d.Limits.DefaultRowLimit = d.Limits.MaxRowLimit
	}
	if d.Limits.TimeoutSeconds <= 0 {
		d.Limits.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if d.Reference.SampleSize <= 0 {
		d.Reference.SampleSize = DefaultSampleSize
	}
	if d.Prompts.DialectHint == "" {
		d.Prompts.DialectHint = "SQLite"
	}
}

// TableNames returns table names in a stable order
func (d *Descriptor) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTable reports whether the descriptor declares the table
func (d *Descriptor) HasTable(name string) bool {
	_, ok := d.Tables[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether the descriptor declares the column on the table
func (d *Descriptor) HasColumn(table, column string) bool {
	t, ok := d.Tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	return contains(t.Columns, strings.ToLower(column))
}

// HasAnyColumn reports whether any table declares the column
func (d *Descriptor) HasAnyColumn(column string) bool {
	column = strings.ToLower(column)
	for _, t := range d.Tables {
		if contains(t.Columns, column) {
			return true
		}
	}
	return false
}

// TablesWithColumn returns the names of all tables declaring the column
func (d *Descriptor) TablesWithColumn(column string) []string {
	column = strings.ToLower(column)
	var tables []string
	for _, name := range d.TableNames() {
		if contains(d.Tables[name].Columns, column) {
			tables = append(tables, name)
		}
	}
	return tables
}

// ColumnType returns the declared type of a column, falling back to naming
// conventions the way the original data loader coerced untyped JSON fields
func (d *Descriptor) ColumnType(table, column string) ColumnType {
	column = strings.ToLower(column)
	if t, ok := d.Tables[strings.ToLower(table)]; ok {
		if ct, ok := t.Types[column]; ok {
			return ct
		}
	}
	return inferColumnType(column)
}

var numericPatterns = []string{"exposure_", "limit_", "_limit", "mtm", "pnl", "notional", "delta", "gamma", "vega", "_pct", "_var", "_stress", "amount", "quantity", "price"}

func inferColumnType(column string) ColumnType {
	for _, pat := range numericPatterns {
		if strings.Contains(column, pat) {
			return TypeNumeric
		}
	}
	if strings.HasSuffix(column, "_flag") || strings.HasPrefix(column, "is_") || strings.HasSuffix(column, "_trade") && strings.HasPrefix(column, "failed") {
		return TypeBool
	}
	if strings.HasSuffix(column, "_date") || strings.HasSuffix(column, "_asof") || strings.Contains(column, "as_of") {
		return TypeDate
	}
	return TypeText
}

// ColumnGranularity returns the declared granularity tag for a column on any
// table, or "" when undeclared
func (d *Descriptor) ColumnGranularity(column string) string {
	column = strings.ToLower(column)
	for _, name := range d.TableNames() {
		if g, ok := d.Tables[name].Granularity[column]; ok {
			return g
		}
	}
	return ""
}

// SchemaText renders the schema as one table(col, col, ...) line per table
// for the generator prompt
func (d *Descriptor) SchemaText() string {
	var sb strings.Builder
	for _, name := range d.TableNames() {
		sb.WriteString(name)
		sb.WriteString("(")
		sb.WriteString(strings.Join(d.Tables[name].Columns, ", "))
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// VocabularyText renders the vocabulary mapping for the generator prompt.
// Returns "" when no terms are declared so the prompt can omit the section.
func (d *Descriptor) VocabularyText() string {
	if len(d.Vocabulary) == 0 {
		return ""
	}
	terms := make([]string, 0, len(d.Vocabulary))
	for term := range d.Vocabulary {
		if strings.HasPrefix(term, "_") {
			continue // comment keys in the form file
		}
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var sb strings.Builder
	for _, term := range terms {
		sb.WriteString("- ")
		sb.WriteString(term)
		sb.WriteString(" -> ")
		sb.WriteString(d.Vocabulary[term])
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv expands ${VAR} references in source header values
func ExpandEnv(text string) string {
	return envVarRe.ReplaceAllStringFunc(text, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
