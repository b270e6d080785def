package semantic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// PostgresStore implements Store on PostgreSQL with the pgvector extension
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection and configures the pool
func NewPostgresStore(config PostgresConfig) (*PostgresStore, error) {
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

	return &PostgresStore{db: db}, nil
}

// Ping tests the database connection
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// FindSimilarRequests finds past requests similar to the given embedding
// using cosine similarity. Only close matches are returned; a weak match is
// worse than no example at all.
func (ps *PostgresStore) FindSimilarRequests(ctx context.Context, embedding []float32) ([]SimilarRequest, error) {
	vector := pgvector.NewVector(embedding)

	query := `
		SELECT id, request_text, sql_text,
		       1 - (embedding <=> $1) as similarity,
		       created_at
		FROM request_embeddings
		WHERE 1 - (embedding <=> $1) > 0.8
		ORDER BY similarity DESC
		LIMIT 5
	`

	rows, err := ps.db.QueryContext(ctx, query, vector)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar requests: %w", err)
	}
	defer rows.Close()

	var similar []SimilarRequest
	for rows.Next() {
		var sr SimilarRequest
		err := rows.Scan(
			&sr.ID,
			&sr.Request,
			&sr.SQL,
			&sr.Similarity,
			&sr.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan similar request row: %w", err)
		}

		similar = append(similar, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar request rows: %w", err)
	}

	return similar, nil
}

// StoreRequestEmbedding stores a request embedding for future similarity
// search, upserting on the request text
func (ps *PostgresStore) StoreRequestEmbedding(ctx context.Context, request string, embedding []float32, sqlText string) error {
	vector := pgvector.NewVector(embedding)

	insertQuery := `
		INSERT INTO request_embeddings (id, request_text, embedding, sql_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_text) DO UPDATE SET
			embedding = $3,
			sql_text = $4,
			updated_at = $5
	`

	id := uuid.New().String()
	now := time.Now()

	_, err := ps.db.ExecContext(ctx, insertQuery, id, request, vector, sqlText, now)
	if err != nil {
		return fmt.Errorf("failed to store request embedding: %w", err)
	}

	return nil
}
