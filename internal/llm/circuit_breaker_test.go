package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of the Client interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GenerateSQL(ctx context.Context, prompt string) (*Response, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func (m *MockClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestCircuitBreakerClient_Success(t *testing.T) {
	mockClient := new(MockClient)
	expectedResponse := &Response{
		SQL:         "SELECT 1",
		Explanation: "Test query",
		Confidence:  0.9,
	}
	mockClient.On("GenerateSQL", mock.Anything, "test prompt").Return(expectedResponse, nil)

	cbClient := NewCircuitBreakerClient(mockClient, "test-cb", DefaultCircuitBreakerConfig)

	response, err := cbClient.GenerateSQL(context.Background(), "test prompt")

	assert.NoError(t, err)
	assert.Equal(t, expectedResponse, response)
	assert.Equal(t, gobreaker.StateClosed, cbClient.State())
	mockClient.AssertExpectations(t)
}

func TestCircuitBreakerClient_OpensAfterFailures(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("GenerateSQL", mock.Anything, "test prompt").Return(nil, errors.New("service unavailable"))

	// Lower threshold so the test trips the breaker quickly
	config := CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    1 * time.Second,
		Timeout:     100 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.Logf("State changed from %s to %s", from, to)
		},
	}

	cbClient := NewCircuitBreakerClient(mockClient, "test-cb", config)

	for i := 0; i < 3; i++ {
		_, err := cbClient.GenerateSQL(context.Background(), "test prompt")
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cbClient.State())

	// Next request fails immediately without reaching the client
	_, err := cbClient.GenerateSQL(context.Background(), "test prompt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestCircuitBreakerClient_HalfOpenRecovery(t *testing.T) {
	mockClient := new(MockClient)

	mockClient.On("GenerateSQL", mock.Anything, "test prompt").Return(nil, errors.New("service unavailable")).Times(3)
	mockClient.On("GenerateSQL", mock.Anything, "test prompt").Return(&Response{SQL: "SELECT 1", Explanation: "success", Confidence: 0.9}, nil).Once()

	config := CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    1 * time.Second,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.Logf("State changed from %s to %s", from, to)
		},
	}

	cbClient := NewCircuitBreakerClient(mockClient, "test-cb", config)

	for i := 0; i < 3; i++ {
		_, err := cbClient.GenerateSQL(context.Background(), "test prompt")
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cbClient.State())

	// Wait for the open timeout to allow a half-open probe
	time.Sleep(100 * time.Millisecond)

	response, err := cbClient.GenerateSQL(context.Background(), "test prompt")
	assert.NoError(t, err)
	assert.NotNil(t, response)
	assert.Equal(t, "SELECT 1", response.SQL)

	assert.Equal(t, gobreaker.StateClosed, cbClient.State())
}

func TestCircuitBreakerClient_GetEmbedding(t *testing.T) {
	mockClient := new(MockClient)
	expectedEmbedding := []float32{0.1, 0.2, 0.3}
	mockClient.On("GetEmbedding", mock.Anything, "test text").Return(expectedEmbedding, nil)

	cbClient := NewCircuitBreakerClient(mockClient, "test-cb", DefaultCircuitBreakerConfig)

	embedding, err := cbClient.GetEmbedding(context.Background(), "test text")

	assert.NoError(t, err)
	assert.Equal(t, expectedEmbedding, embedding)
	mockClient.AssertExpectations(t)
}

func TestCircuitBreakerCounts(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("GenerateSQL", mock.Anything, "test prompt").Return(&Response{SQL: "SELECT 1"}, nil)

	cbClient := NewCircuitBreakerClient(mockClient, "test-cb", DefaultCircuitBreakerConfig)

	for i := 0; i < 5; i++ {
		_, err := cbClient.GenerateSQL(context.Background(), "test prompt")
		assert.NoError(t, err)
	}

	counts := cbClient.Counts()
	assert.Equal(t, uint32(5), counts.Requests)
	assert.Equal(t, uint32(0), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveFailures)
}
