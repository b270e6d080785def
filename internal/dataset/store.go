// Package dataset owns the in-memory SQL engine the agent executes queries
// against. Tables are registered once per dataset from the sources the schema
// descriptor declares and are read-only afterwards; the only writes are the
// initial bulk inserts.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querydesk/sql-copilot/internal/schema"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding the registered dataset
type Store struct {
	db     *sql.DB
	tables []string
}

// NewStore opens a fresh in-memory SQLite database
func NewStore() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset engine: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping dataset engine: %w", err)
	}

	// A single connection keeps every registered table visible; the
	// in-memory database is per-connection otherwise.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the engine is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tables returns the names of registered tables
func (s *Store) Tables() []string {
	out := make([]string, len(s.tables))
	copy(out, s.tables)
	return out
}

// Register creates a table and bulk-inserts its rows. Column affinity follows
// the descriptor's column types.
func (s *Store) Register(ctx context.Context, d *schema.Descriptor, table string, data *TableData) error {
	if len(data.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", table)
	}

	defs := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		defs[i] = fmt.Sprintf("%q %s", col, sqliteType(d.ColumnType(table, col)))
	}

	createStmt := fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("failed to create table %q: %w", table, err)
	}

	if len(data.Rows) == 0 {
		s.tables = append(s.tables, table)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(data.Columns)), ",")
	insertStmt := fmt.Sprintf("INSERT INTO %q VALUES (%s)", table, placeholders)

	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert for %q: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range data.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row into %q: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inserts for %q: %w", table, err)
	}

	s.tables = append(s.tables, table)
	return nil
}

// RegisterFromDescriptor loads every table the descriptor declares and
// registers it. This is the one-time dataset registration a session reuses.
func (s *Store) RegisterFromDescriptor(ctx context.Context, d *schema.Descriptor) error {
	loader := NewLoader()
	for _, name := range d.TableNames() {
		data, err := loader.LoadTable(ctx, d, name)
		if err != nil {
			return err
		}
		if err := s.Register(ctx, d, name, data); err != nil {
			return err
		}
	}
	return nil
}

func sqliteType(ct schema.ColumnType) string {
	switch ct {
	case schema.TypeNumeric:
		return "REAL"
	case schema.TypeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
