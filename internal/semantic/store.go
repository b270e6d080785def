// Package semantic persists (request, query) pairs with their embeddings so
// future sessions can seed the generator prompt with queries that answered
// similar requests.
package semantic

import (
	"context"
	"time"
)

// SimilarRequest is a previously answered request retrieved by embedding
// similarity
type SimilarRequest struct {
	ID         string    `json:"id"`
	Request    string    `json:"request"`
	SQL        string    `json:"sql"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store retrieves and records request embeddings
type Store interface {
	// FindSimilarRequests returns past requests whose embeddings are close
	// to the given one, best first
	FindSimilarRequests(ctx context.Context, embedding []float32) ([]SimilarRequest, error)

	// StoreRequestEmbedding records a request with the query that answered
	// it cleanly, replacing any prior entry for the same request text
	StoreRequestEmbedding(ctx context.Context, request string, embedding []float32, sqlText string) error

	Ping(ctx context.Context) error
	Close() error
}
