// Package audit persists completed sessions and their turn-by-turn traces.
// The trace is the compliance record for every query the engine ran on a
// user's behalf, including the attempts review rejected.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/querydesk/sql-copilot/internal/agent"
)

// SessionRecord is one persisted session
type SessionRecord struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id,omitempty"`
	Request    string             `json:"request"`
	FinalQuery string             `json:"final_query"`
	Error      string             `json:"error,omitempty"`
	Exhausted  bool               `json:"exhausted"`
	Turns      int                `json:"turns"`
	RowCount   int                `json:"row_count"`
	TotalMs    int64              `json:"total_ms"`
	ExecMs     int64              `json:"execution_ms"`
	CreatedAt  time.Time          `json:"created_at"`
	Trace      []agent.TurnRecord `json:"trace,omitempty"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// Store persists sessions to PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore opens the audit database connection
func NewStore(config PostgresConfig) (*Store, error) {
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection, used by tests
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping tests the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession writes a finished session and its full trace in one
// transaction and returns the session id
func (s *Store) RecordSession(ctx context.Context, userID string, resp *agent.Response) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	rowCount := 0
	if resp.Result != nil {
		rowCount = resp.Result.RowCount()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_sessions
			(id, user_id, request, final_query, error, exhausted, turns, row_count, total_ms, execution_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, nullable(userID), resp.Request, resp.FinalQuery, nullable(resp.Error),
		resp.Exhausted, resp.Turns, rowCount, resp.TotalMs, resp.ExecMs, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to insert audit session: %w", err)
	}

	for _, rec := range resp.Trace {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_turns
				(id, session_id, turn, query, outcome, row_count, error, decision, feedback, exhausted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, uuid.New().String(), id, rec.Turn, rec.Query, rec.Outcome, rec.RowCount,
			nullable(rec.Error), string(rec.Decision), nullable(rec.Feedback), rec.Exhausted)
		if err != nil {
			return "", fmt.Errorf("failed to insert audit turn %d: %w", rec.Turn, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit audit transaction: %w", err)
	}

	return id, nil
}

// GetSession loads one session with its trace
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var userID, errText sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, request, final_query, error, exhausted, turns, row_count, total_ms, execution_ms, created_at
		FROM audit_sessions
		WHERE id = $1
	`, id).Scan(&rec.ID, &userID, &rec.Request, &rec.FinalQuery, &errText,
		&rec.Exhausted, &rec.Turns, &rec.RowCount, &rec.TotalMs, &rec.ExecMs, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to query audit session: %w", err)
	}
	rec.UserID = userID.String
	rec.Error = errText.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT turn, query, outcome, row_count, error, decision, feedback, exhausted
		FROM audit_turns
		WHERE session_id = $1
		ORDER BY turn
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tr agent.TurnRecord
		var turnErr, feedback sql.NullString
		var decision string
		if err := rows.Scan(&tr.Turn, &tr.Query, &tr.Outcome, &tr.RowCount, &turnErr, &decision, &feedback, &tr.Exhausted); err != nil {
			return nil, fmt.Errorf("failed to scan audit turn row: %w", err)
		}
		tr.Error = turnErr.String
		tr.Feedback = feedback.String
		tr.Decision = agent.Decision(decision)
		rec.Trace = append(rec.Trace, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit turn rows: %w", err)
	}

	return &rec, nil
}

// ListRecent returns the newest sessions, without traces. userID narrows to
// one user when non-empty.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, user_id, request, final_query, error, exhausted, turns, row_count, total_ms, execution_ms, created_at
		FROM audit_sessions
	`
	args := []interface{}{}
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var uid, errText sql.NullString
		err := rows.Scan(&rec.ID, &uid, &rec.Request, &rec.FinalQuery, &errText,
			&rec.Exhausted, &rec.Turns, &rec.RowCount, &rec.TotalMs, &rec.ExecMs, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit session row: %w", err)
		}
		rec.UserID = uid.String
		rec.Error = errText.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit session rows: %w", err)
	}

	return records, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
