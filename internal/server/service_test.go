package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydesk/sql-copilot/internal/agent"
	"github.com/querydesk/sql-copilot/internal/audit"
	"github.com/querydesk/sql-copilot/internal/auth"
	apperrors "github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/dataset"
	"github.com/querydesk/sql-copilot/internal/llm"
	"github.com/querydesk/sql-copilot/internal/schema"
	"github.com/querydesk/sql-copilot/internal/semantic"
)

type mockLLMClient struct {
	sql       string
	genErr    error
	embedding []float32
	embErr    error
	genCalls  int
}

func (m *mockLLMClient) GenerateSQL(ctx context.Context, prompt string) (*llm.Response, error) {
	m.genCalls++
	if m.genErr != nil {
		return nil, m.genErr
	}
	return &llm.Response{SQL: m.sql, Confidence: 0.9}, nil
}

func (m *mockLLMClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if m.embErr != nil {
		return nil, m.embErr
	}
	return m.embedding, nil
}

type mockSemanticStore struct {
	similar     []semantic.SimilarRequest
	findErr     error
	storedSQL   []string
	storeCalled int
}

func (m *mockSemanticStore) FindSimilarRequests(ctx context.Context, embedding []float32) ([]semantic.SimilarRequest, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.similar, nil
}

func (m *mockSemanticStore) StoreRequestEmbedding(ctx context.Context, request string, embedding []float32, sqlText string) error {
	m.storeCalled++
	m.storedSQL = append(m.storedSQL, sqlText)
	return nil
}

func (m *mockSemanticStore) Ping(ctx context.Context) error { return nil }
func (m *mockSemanticStore) Close() error                   { return nil }

type mockAuditRecorder struct {
	sessions []*agent.Response
	userIDs  []string
}

func (m *mockAuditRecorder) RecordSession(ctx context.Context, userID string, resp *agent.Response) (string, error) {
	m.sessions = append(m.sessions, resp)
	m.userIDs = append(m.userIDs, userID)
	return "session-1", nil
}

func (m *mockAuditRecorder) GetSession(ctx context.Context, id string) (*audit.SessionRecord, error) {
	return nil, errors.New("not found")
}

func (m *mockAuditRecorder) ListRecent(ctx context.Context, userID string, limit int) ([]audit.SessionRecord, error) {
	return nil, nil
}

type stubExecutor struct {
	result *dataset.Result
}

func (s *stubExecutor) Execute(ctx context.Context, query string) (*dataset.Result, error) {
	return s.result, nil
}

func serviceDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Tables: map[string]schema.Table{
			"trades": {
				Columns: []string{"trade_id", "product", "counterparty", "notional"},
				Types: map[string]schema.ColumnType{
					"trade_id": schema.TypeText,
					"product":  schema.TypeText,
					"notional": schema.TypeNumeric,
				},
			},
		},
		Limits:  schema.Limits{DefaultRowLimit: 100, MaxRowLimit: 1000, TimeoutSeconds: 5},
		Prompts: schema.Prompts{DialectHint: "SQLite"},
	}
}

func newTestService(t *testing.T, client *mockLLMClient, maxTurns int) *Service {
	t.Helper()
	desc := serviceDescriptor()
	exec := &stubExecutor{result: &dataset.Result{
		Columns: []string{"trade_id", "product"},
		Rows:    [][]interface{}{{"T1", "FX FWD"}, {"T2", "IR SWAP"}},
	}}
	gen := agent.NewLLMGenerator(client, desc)
	controller := agent.NewController(desc, gen, exec, nil, maxTurns)
	return NewService(desc, controller, client, ServiceConfig{})
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHandleRequestCleanSession(t *testing.T) {
	client := &mockLLMClient{
		sql:       "SELECT trade_id, product FROM trades LIMIT 10",
		embedding: []float32{0.1, 0.2, 0.3},
	}
	semantics := &mockSemanticStore{
		similar: []semantic.SimilarRequest{
			{Request: "list products", SQL: "SELECT product FROM trades LIMIT 100"},
		},
	}
	auditor := &mockAuditRecorder{}

	svc := newTestService(t, client, 3).
		WithSemanticStore(semantics).
		WithAuditStore(auditor)

	resp, err := svc.HandleRequest(context.Background(), &QueryRequest{
		Request: "show me trades",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Error)
	assert.False(t, resp.Exhausted)
	assert.Equal(t, 1, resp.Turns)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, 1, resp.ExamplesUsed)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, resp.Result.RowCount())

	// Clean sessions get remembered for future prompts
	require.Equal(t, 1, semantics.storeCalled)
	assert.Equal(t, resp.FinalQuery, semantics.storedSQL[0])

	// And audited under the requesting user
	require.Len(t, auditor.sessions, 1)
	assert.Equal(t, "user-1", auditor.userIDs[0])
}

func TestHandleRequestValidatesInput(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)

	_, err := svc.HandleRequest(context.Background(), &QueryRequest{Request: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))

	long := make([]byte, 0, 600)
	for i := 0; i < 600; i++ {
		long = append(long, 'a')
	}
	_, err = svc.HandleRequest(context.Background(), &QueryRequest{Request: string(long)})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	assert.Equal(t, 0, client.genCalls)
}

func TestHandleRequestCacheHit(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id, product FROM trades LIMIT 10"}
	svc := newTestService(t, client, 2).WithCache(newTestRedis(t))

	first, err := svc.HandleRequest(context.Background(), &QueryRequest{Request: "show trades"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.HandleRequest(context.Background(), &QueryRequest{Request: "Show Trades"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.FinalQuery, second.FinalQuery)

	// The second request never reached the model
	assert.Equal(t, 1, client.genCalls)
}

func TestHandleRequestBudgetExceeded(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	budget := auth.NewCostBudgetManager()
	require.NoError(t, budget.SetBudget("user-1", 0.0001, 1.0))

	svc := newTestService(t, client, 4).WithBudget(budget)

	_, err := svc.HandleRequest(context.Background(), &QueryRequest{
		Request: "show trades",
		UserID:  "user-1",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBudgetExceeded))
	assert.Equal(t, 0, client.genCalls)
}

func TestHandleRequestRecordsSpend(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id, product FROM trades LIMIT 10"}
	budget := auth.NewCostBudgetManager()
	require.NoError(t, budget.SetBudget("user-1", 10.0, 100.0))

	svc := newTestService(t, client, 3).WithBudget(budget)

	resp, err := svc.HandleRequest(context.Background(), &QueryRequest{
		Request: "show trades",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Turns)

	b, err := budget.GetBudget("user-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.002, b.TotalCost, 1e-9)
}

func TestHandleRequestSemanticFailuresAreSoft(t *testing.T) {
	client := &mockLLMClient{
		sql:    "SELECT trade_id, product FROM trades LIMIT 10",
		embErr: errors.New("embedding service down"),
	}
	semantics := &mockSemanticStore{}

	svc := newTestService(t, client, 2).WithSemanticStore(semantics)

	resp, err := svc.HandleRequest(context.Background(), &QueryRequest{Request: "show trades"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, 0, resp.ExamplesUsed)

	// No embedding, nothing to store
	assert.Equal(t, 0, semantics.storeCalled)
}

func TestHandleRequestExhaustedSessionNotCachedOrStored(t *testing.T) {
	client := &mockLLMClient{
		sql:       "DELETE FROM trades",
		embedding: []float32{0.5},
	}
	semantics := &mockSemanticStore{}
	cache := newTestRedis(t)

	svc := newTestService(t, client, 2).
		WithSemanticStore(semantics).
		WithCache(cache)

	resp, err := svc.HandleRequest(context.Background(), &QueryRequest{Request: "delete everything"})
	require.NoError(t, err)
	assert.True(t, resp.Exhausted)
	assert.NotEmpty(t, resp.Error)

	assert.Equal(t, 0, semantics.storeCalled)

	// A rejected session must not shadow future attempts from cache
	err = cache.Get(context.Background(), cacheKey("delete everything")).Err()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestServiceConfigDefaults(t *testing.T) {
	client := &mockLLMClient{sql: "SELECT trade_id FROM trades"}
	svc := newTestService(t, client, 2)

	assert.Equal(t, 5*time.Minute, svc.config.CacheTTL)
	assert.Equal(t, 500, svc.config.MaxQueryLength)
	assert.Equal(t, 3, svc.config.MaxExamples)
}
