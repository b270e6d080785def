package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/schema"
)

// TableData holds the rows for one table, aligned to the descriptor's
// column order
type TableData struct {
	Columns []string
	Rows    [][]interface{}
}

// Loader materializes table rows from the sources a descriptor declares
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader with a default HTTP client
func NewLoader() *Loader {
	return &Loader{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadTable loads rows for one table according to its source configuration
func (l *Loader) LoadTable(ctx context.Context, d *schema.Descriptor, table string) (*TableData, error) {
	t, ok := d.Tables[table]
	if !ok {
		return nil, errors.NewDatasetLoadError(fmt.Errorf("table not declared"), table)
	}
	if t.Source == nil {
		// Tables without a source start empty; rows can be registered directly
		return &TableData{Columns: t.Columns}, nil
	}

	var records []map[string]interface{}
	var err error

	switch t.Source.Mode {
	case "file":
		records, err = l.loadFromFile(t.Source)
	case "api":
		records, err = l.loadFromAPI(ctx, t.Source)
	default:
		err = fmt.Errorf("invalid source mode %q, must be 'file' or 'api'", t.Source.Mode)
	}
	if err != nil {
		return nil, errors.NewDatasetLoadError(err, table)
	}

	return alignRows(d, table, t.Columns, records), nil
}

// loadFromFile reads a local JSON file holding an array of objects
func (l *Loader) loadFromFile(src *schema.Source) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(src.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse source file %s: %w", src.FilePath, err)
	}
	return records, nil
}

// loadFromAPI fetches rows from an HTTP endpoint in one of the supported formats
func (l *Loader) loadFromAPI(ctx context.Context, src *schema.Source) ([]map[string]interface{}, error) {
	payload, err := l.fetchJSON(ctx, src)
	if err != nil {
		return nil, err
	}

	format := src.Format
	if format == "" {
		format = "array_of_objects"
	}

	switch format {
	case "array_of_objects":
		return recordsFromPayload(payload)
	case "csv_rows_in_json":
		return recordsFromCSVRows(payload, src)
	default:
		return nil, fmt.Errorf("unsupported API format: %s", format)
	}
}

func (l *Loader) fetchJSON(ctx context.Context, src *schema.Source) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range src.Headers {
		req.Header.Set(key, schema.ExpandEnv(value))
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read source response: %w", err)
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse source response: %w", err)
	}
	return payload, nil
}

func recordsFromPayload(payload interface{}) ([]map[string]interface{}, error) {
	var items []interface{}
	switch p := payload.(type) {
	case []interface{}:
		items = p
	case map[string]interface{}:
		data, ok := p["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("payload object has no 'data' array")
		}
		items = data
	default:
		return nil, fmt.Errorf("unexpected payload shape %T", payload)
	}

	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("payload row is not an object")
		}
		records = append(records, record)
	}
	return records, nil
}

// recordsFromCSVRows parses the header-array-plus-CSV-strings payload shape:
// a "columns" array naming the header and a "rows" array of CSV lines,
// optionally nested under a field key.
func recordsFromCSVRows(payload interface{}, src *schema.Source) ([]map[string]interface{}, error) {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("csv_rows_in_json payload is not an object")
	}

	columnsKey := src.ColumnsKey
	if columnsKey == "" {
		columnsKey = "columns"
	}
	rowKey := src.RowKey
	if rowKey == "" {
		rowKey = "rows"
	}
	delimiter := ','
	if src.Delimiter != "" {
		delimiter = rune(src.Delimiter[0])
	}

	headerRaw, ok := obj[columnsKey].([]interface{})
	if !ok || len(headerRaw) == 0 {
		return nil, fmt.Errorf("missing or invalid %q array in payload", columnsKey)
	}
	header := make([]string, len(headerRaw))
	for i, h := range headerRaw {
		header[i] = fmt.Sprintf("%v", h)
	}

	rowsRaw, _ := obj[rowKey].([]interface{})
	var lines []string
	for _, r := range rowsRaw {
		if src.FieldKey != "" {
			nested, ok := r.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("row is not an object despite field_key %q", src.FieldKey)
			}
			lines = append(lines, fmt.Sprintf("%v", nested[src.FieldKey]))
		} else {
			lines = append(lines, fmt.Sprintf("%v", r))
		}
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	var records []map[string]interface{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV rows: %w", err)
		}

		// Pad short rows, truncate long ones
		for len(row) < len(header) {
			row = append(row, "")
		}
		record := make(map[string]interface{}, len(header))
		for i, name := range header {
			record[name] = row[i]
		}
		records = append(records, record)
	}
	return records, nil
}

// alignRows orders record fields by the descriptor's column list, filling
// missing columns with NULL and coercing values by column type
func alignRows(d *schema.Descriptor, table string, columns []string, records []map[string]interface{}) *TableData {
	data := &TableData{Columns: columns}
	for _, record := range records {
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			row[i] = coerceValue(record[col], d.ColumnType(table, col))
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

func coerceValue(value interface{}, ct schema.ColumnType) interface{} {
	if value == nil {
		return nil
	}

	switch ct {
	case schema.TypeNumeric:
		switch v := value.(type) {
		case float64:
			return v
		case string:
			if v == "" {
				return nil
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
			return nil
		}
	case schema.TypeBool:
		switch v := value.(type) {
		case bool:
			return boolToInt(v)
		case float64:
			return boolToInt(v != 0)
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return 1
			case "false", "0", "no":
				return 0
			}
			return nil
		}
	}

	// Text and date columns keep their string form
	return fmt.Sprintf("%v", value)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
