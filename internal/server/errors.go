package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/querydesk/sql-copilot/internal/errors"
)

// formatErrorResponse formats an error into a user-friendly response
func formatErrorResponse(err error) gin.H {
	if enhancedErr, ok := err.(*errors.EnhancedError); ok {
		errBody := gin.H{
			"code":    enhancedErr.Code,
			"message": enhancedErr.Message,
		}

		if enhancedErr.Details != "" {
			errBody["details"] = enhancedErr.Details
		}
		if enhancedErr.Suggestion != "" {
			errBody["suggestion"] = enhancedErr.Suggestion
		}
		if len(enhancedErr.Metadata) > 0 {
			errBody["metadata"] = enhancedErr.Metadata
		}

		return gin.H{"error": errBody}
	}

	return gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	}
}

// getErrorStatusCode returns the appropriate HTTP status code for an error
func getErrorStatusCode(err error) int {
	if enhancedErr, ok := err.(*errors.EnhancedError); ok {
		switch enhancedErr.Code {
		case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired,
			errors.ErrCodePolicyViolation, errors.ErrCodeUnknownTable,
			errors.ErrCodeUnknownColumn:
			return http.StatusBadRequest
		case errors.ErrCodeInvalidCredentials, errors.ErrCodeNotAuthenticated:
			return http.StatusUnauthorized
		case errors.ErrCodeInsufficientPerms:
			return http.StatusForbidden
		case errors.ErrCodeBudgetExceeded:
			return http.StatusTooManyRequests
		case errors.ErrCodeExecutionTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
