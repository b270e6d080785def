// Package server exposes the query agent over HTTP. It wraps the agent
// controller with a response cache, example retrieval from the semantic
// store, audit persistence and per-user spend budgets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/querydesk/sql-copilot/internal/agent"
	"github.com/querydesk/sql-copilot/internal/audit"
	"github.com/querydesk/sql-copilot/internal/auth"
	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/llm"
	"github.com/querydesk/sql-copilot/internal/observability"
	"github.com/querydesk/sql-copilot/internal/schema"
	"github.com/querydesk/sql-copilot/internal/semantic"
)

// QueryRequest is an incoming natural language request
type QueryRequest struct {
	Request string `json:"request" binding:"required"`
	UserID  string `json:"user_id,omitempty"`
}

// QueryResponse is the full session outcome plus service-level metadata
type QueryResponse struct {
	agent.Response
	SessionID    string `json:"session_id,omitempty"`
	ExamplesUsed int    `json:"examples_used,omitempty"`
	CacheHit     bool   `json:"cache_hit"`
	ProcessingMs int64  `json:"processing_ms"`
}

// AuditRecorder persists finished sessions. Satisfied by *audit.Store.
type AuditRecorder interface {
	RecordSession(ctx context.Context, userID string, resp *agent.Response) (string, error)
	GetSession(ctx context.Context, id string) (*audit.SessionRecord, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]audit.SessionRecord, error)
}

// ServiceConfig holds tunables for the query service
type ServiceConfig struct {
	CacheTTL       time.Duration
	MaxQueryLength int
	MaxExamples    int
	// CostPerTurn is the rough USD cost of one generate call, used for
	// per-user budget accounting
	CostPerTurn float64
}

// Service is the HTTP-facing query service
type Service struct {
	desc          *schema.Descriptor
	controller    *agent.Controller
	llmClient     llm.Client
	semantics     semantic.Store
	auditStore    AuditRecorder
	cache         *redis.Client
	budget        *auth.CostBudgetManager
	logger        *observability.Logger
	healthChecker *observability.HealthChecker
	config        ServiceConfig
}

// NewService creates the query service. The semantic store, audit store,
// cache and budget manager are all optional; a nil value disables that
// feature without affecting the core loop.
func NewService(desc *schema.Descriptor, controller *agent.Controller, llmClient llm.Client, config ServiceConfig) *Service {
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.MaxQueryLength == 0 {
		config.MaxQueryLength = 500
	}
	if config.MaxExamples == 0 {
		config.MaxExamples = 3
	}
	if config.CostPerTurn == 0 {
		config.CostPerTurn = 0.002
	}

	return &Service{
		desc:       desc,
		controller: controller,
		llmClient:  llmClient,
		config:     config,
		logger:     observability.NewLogger("query-service"),
	}
}

// WithSemanticStore enables example retrieval and embedding persistence
func (s *Service) WithSemanticStore(store semantic.Store) *Service {
	s.semantics = store
	return s
}

// WithAuditStore enables session persistence
func (s *Service) WithAuditStore(store AuditRecorder) *Service {
	s.auditStore = store
	return s
}

// WithCache enables the Redis response cache
func (s *Service) WithCache(cache *redis.Client) *Service {
	s.cache = cache
	return s
}

// WithBudget enables per-user spend accounting
func (s *Service) WithBudget(budget *auth.CostBudgetManager) *Service {
	s.budget = budget
	return s
}

// SetHealthChecker sets the health checker used by the health endpoints
func (s *Service) SetHealthChecker(hc *observability.HealthChecker) {
	s.healthChecker = hc
}

// HandleRequest runs one request through the agent loop with caching,
// example seeding, budget accounting and audit persistence around it.
func (s *Service) HandleRequest(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	var errorType string
	var response *QueryResponse
	var processingErr error

	defer func() {
		duration := time.Since(start)
		success := processingErr == nil && (response == nil || response.Error == "")
		cached := response != nil && response.CacheHit
		observability.RecordQueryMetrics(duration, success, cached, errorType)

		if processingErr != nil {
			s.logger.Error(ctx, "Request failed", processingErr, map[string]interface{}{
				"request":     req.Request,
				"duration_ms": duration.Milliseconds(),
				"error_type":  errorType,
			})
		} else {
			s.logger.Info(ctx, "Request handled", map[string]interface{}{
				"request":     req.Request,
				"duration_ms": duration.Milliseconds(),
				"cache_hit":   cached,
				"turns":       response.Turns,
				"exhausted":   response.Exhausted,
			})
		}
	}()

	if err := s.validateRequest(req); err != nil {
		errorType = "invalid_input"
		processingErr = err
		return nil, err
	}

	if cached, err := s.getCachedResult(ctx, req.Request); err == nil {
		cached.CacheHit = true
		cached.ProcessingMs = time.Since(start).Milliseconds()
		response = cached
		return cached, nil
	}

	if s.budget != nil && req.UserID != "" {
		estimated := float64(s.controller.MaxTurns()) * s.config.CostPerTurn
		if err := s.budget.CheckBudget(req.UserID, estimated); err != nil {
			errorType = "budget_exceeded"
			processingErr = errors.NewBudgetExceededError(err)
			return nil, processingErr
		}
	}

	embedding, examples := s.retrieveExamples(ctx, req.Request)

	resp, err := s.controller.Run(ctx, req.Request, examples)
	if err != nil {
		errorType = "session_aborted"
		processingErr = err
		return nil, err
	}

	if s.budget != nil && req.UserID != "" {
		spent := float64(resp.Turns) * s.config.CostPerTurn
		if err := s.budget.RecordCost(req.UserID, spent); err != nil {
			s.logger.Warn(ctx, "Failed to record spend", map[string]interface{}{
				"user_id": req.UserID,
				"error":   err.Error(),
			})
		}
	}

	response = &QueryResponse{
		Response:     *resp,
		ExamplesUsed: len(examples),
		ProcessingMs: time.Since(start).Milliseconds(),
	}

	if s.auditStore != nil {
		sessionID, err := s.auditStore.RecordSession(ctx, req.UserID, resp)
		if err != nil {
			s.logger.Warn(ctx, "Failed to persist session", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			response.SessionID = sessionID
		}
	}

	clean := resp.Error == "" && !resp.Exhausted
	if clean && s.semantics != nil && embedding != nil {
		if err := s.semantics.StoreRequestEmbedding(ctx, req.Request, embedding, resp.FinalQuery); err != nil {
			s.logger.Warn(ctx, "Failed to store request embedding", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if clean {
		if err := s.cacheResult(ctx, req.Request, response); err != nil {
			s.logger.Warn(ctx, "Failed to cache result", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return response, nil
}

func (s *Service) validateRequest(req *QueryRequest) error {
	trimmed := strings.TrimSpace(req.Request)
	if trimmed == "" {
		return errors.New(errors.ErrCodeMissingRequired, "Request text is required").
			WithDetails("The request body must contain a non-empty natural language request.")
	}
	if len(trimmed) > s.config.MaxQueryLength {
		return errors.NewInvalidInputError("request",
			fmt.Sprintf("exceeds maximum length of %d characters", s.config.MaxQueryLength))
	}
	req.Request = trimmed
	return nil
}

// retrieveExamples embeds the request and looks up past requests answered
// cleanly. Both steps are best effort; a failure just means an unseeded
// prompt.
func (s *Service) retrieveExamples(ctx context.Context, request string) ([]float32, []agent.Example) {
	if s.semantics == nil {
		return nil, nil
	}

	embedding, err := s.llmClient.GetEmbedding(ctx, request)
	if err != nil {
		s.logger.Warn(ctx, "Failed to embed request", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, nil
	}

	similar, err := s.semantics.FindSimilarRequests(ctx, embedding)
	if err != nil {
		s.logger.Warn(ctx, "Failed to find similar requests", map[string]interface{}{
			"error": err.Error(),
		})
		return embedding, nil
	}

	var examples []agent.Example
	for _, sr := range similar {
		if len(examples) >= s.config.MaxExamples {
			break
		}
		examples = append(examples, agent.Example{Request: sr.Request, SQL: sr.SQL})
	}

	return embedding, examples
}

func (s *Service) getCachedResult(ctx context.Context, request string) (*QueryResponse, error) {
	if s.cache == nil {
		return nil, redis.Nil
	}

	key := cacheKey(request)
	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var response QueryResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return nil, err
	}

	return &response, nil
}

func (s *Service) cacheResult(ctx context.Context, request string, response *QueryResponse) error {
	if s.cache == nil {
		return nil
	}

	data, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return s.cache.Set(ctx, cacheKey(request), data, s.config.CacheTTL).Err()
}

func cacheKey(request string) string {
	return fmt.Sprintf("query:%s", strings.ToLower(request))
}
