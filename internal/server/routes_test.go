package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/semantic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestQueryEndpoint(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id, product FROM trades LIMIT 10"}
	svc := newTestService(t, client, 3)
	router := svc.SetupRoutes(nil)

	body, _ := json.Marshal(QueryRequest{Request: "show me trades"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SELECT trade_id, product FROM trades LIMIT 10", resp.FinalQuery)
	assert.Equal(t, 1, resp.Turns)
	assert.Len(t, resp.Trace, 1)
}

func TestQueryEndpointRejectsMissingBody(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "error")
}

func TestSchemaEndpoint(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tables  map[string]interface{} `json:"tables"`
		Dialect string                 `json:"dialect"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Tables, "trades")
	assert.Equal(t, "SQLite", resp.Dialect)
}

func TestSuggestionsEndpointFallsBackToSchema(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var suggestions []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suggestions))
	assert.Contains(t, suggestions, "How many rows are in trades")
}

func TestSuggestionsEndpointUsesSemanticStore(t *testing.T) {
	client := &mockLLMClient{
		sql:       "SELECT trade_id FROM trades",
		embedding: []float32{0.1, 0.2},
	}
	svc := newTestService(t, client, 2).WithSemanticStore(&mockSemanticStore{
		similar: []semantic.SimilarRequest{
			{Request: "failed trades this week", SQL: "SELECT 1", Similarity: 0.95},
		},
	})
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions?q=failed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var suggestions []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suggestions))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "failed trades this week", suggestions[0])
}

func TestHistoryEndpointWithoutAuditStore(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestHealthEndpointFallback(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)
	router := svc.SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "metrics")
}
