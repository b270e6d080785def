package server

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/observability"
)

// AuthMiddleware is an interface for authentication middleware
type AuthMiddleware interface {
	Middleware() gin.HandlerFunc
}

// SetupRoutes configures HTTP routes with optional authentication
func (s *Service) SetupRoutes(authMiddleware AuthMiddleware) *gin.Engine {
	r := gin.New()

	r.Use(observability.RecoveryMiddleware(s.logger))
	r.Use(observability.RequestLoggingMiddleware(s.logger))
	r.Use(observability.MetricsMiddleware())
	r.Use(observability.CORSWithLogging(s.logger))
	r.Use(observability.MetricsEndpointMiddleware(observability.GetGlobalMetrics()))

	if s.healthChecker != nil {
		r.Use(observability.HealthCheckMiddleware(s.healthChecker))
	} else {
		r.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "healthy",
				"service": "sql-copilot",
			})
		})
	}

	api := r.Group("/api/v1")
	if authMiddleware != nil {
		api.Use(authMiddleware.Middleware())
	}
	{
		api.POST("/query", s.handleQuery)
		api.GET("/schema", s.handleGetSchema)
		api.GET("/suggestions", s.handleGetSuggestions)
		api.GET("/history", s.handleGetHistory)
		api.GET("/history/:id", s.handleGetSession)
	}

	return r
}

func (s *Service) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		enhancedErr := errors.NewInvalidInputError("request body", err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
		return
	}

	// The authenticated identity wins over whatever the body claims
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok {
			req.UserID = id
		}
	}

	response, err := s.HandleRequest(c.Request.Context(), &req)
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, response)
}

// handleGetSchema exposes the descriptor so clients can show users what
// they can ask about
func (s *Service) handleGetSchema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tables":     s.desc.Tables,
		"vocabulary": s.desc.Vocabulary,
		"limits":     s.desc.Limits,
		"dialect":    s.desc.Prompts.DialectHint,
	})
}

// handleGetSuggestions proposes request phrasings. When the semantic store
// is available it returns past requests close to the partial input,
// otherwise it falls back to templates over the dataset's tables.
func (s *Service) handleGetSuggestions(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))

	if s.semantics != nil && q != "" {
		if embedding, err := s.llmClient.GetEmbedding(c.Request.Context(), q); err == nil {
			if similar, err := s.semantics.FindSimilarRequests(c.Request.Context(), embedding); err == nil && len(similar) > 0 {
				suggestions := make([]string, 0, len(similar))
				for _, sr := range similar {
					suggestions = append(suggestions, sr.Request)
				}
				c.JSON(http.StatusOK, suggestions)
				return
			}
		}
	}

	tables := make([]string, 0, len(s.desc.Tables))
	for name := range s.desc.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	var suggestions []string
	for _, table := range tables {
		suggestions = append(suggestions,
			"How many rows are in "+table,
			"Show the first 10 rows of "+table)
	}
	c.JSON(http.StatusOK, suggestions)
}

func (s *Service) handleGetHistory(c *gin.Context) {
	if s.auditStore == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []interface{}{}, "count": 0})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var userID string
	if id, exists := c.Get("user_id"); exists {
		userID, _ = id.(string)
	}

	sessions, err := s.auditStore.ListRecent(c.Request.Context(), userID, limit)
	if err != nil {
		enhancedErr := errors.NewDatabaseQueryError(err, "listing sessions")
		c.JSON(http.StatusInternalServerError, formatErrorResponse(enhancedErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Service) handleGetSession(c *gin.Context) {
	if s.auditStore == nil {
		c.JSON(http.StatusNotFound, formatErrorResponse(
			errors.New(errors.ErrCodeDatabaseQuery, "Session history is not enabled")))
		return
	}

	record, err := s.auditStore.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, formatErrorResponse(
			errors.Wrap(err, errors.ErrCodeInvalidInput, "Session not found")))
		return
	}

	c.JSON(http.StatusOK, record)
}
