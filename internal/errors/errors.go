// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Agent loop errors
	ErrCodePolicyViolation  ErrorCode = "POLICY_VIOLATION"
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrCodeExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrCodeExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodePromptBuilding   ErrorCode = "PROMPT_BUILD_FAILED"

	// Schema and dataset errors
	ErrCodeSchemaLoad      ErrorCode = "SCHEMA_LOAD_FAILED"
	ErrCodeUnknownTable    ErrorCode = "UNKNOWN_TABLE"
	ErrCodeUnknownColumn   ErrorCode = "UNKNOWN_COLUMN"
	ErrCodeDatasetLoad     ErrorCode = "DATASET_LOAD_FAILED"
	ErrCodeDatasetRegister ErrorCode = "DATASET_REGISTER_FAILED"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeSessionCreation    ErrorCode = "SESSION_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	// Budget errors
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// Cache errors
	ErrCodeCacheRead  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}

	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsCode reports whether err is an EnhancedError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	enhanced, ok := err.(*EnhancedError)
	return ok && enhanced.Code == code
}

// Common error constructors with pre-configured messages

// NewPolicyViolationError creates an error for queries the sanitizer rejects
func NewPolicyViolationError(reason string) *EnhancedError {
	return New(ErrCodePolicyViolation, "Query rejected by safety policy").
		WithDetails(reason).
		WithSuggestion("Generate a single read-only SELECT statement that references only tables and columns from the provided schema.")
}

// NewGenerationError creates an error for unparsable model output
func NewGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeGenerationFailed, "Failed to generate a SQL query").
		WithDetails("The model response did not contain an extractable SQL statement").
		WithSuggestion("could not extract a valid query; restate the intent").
		WithMetadata("retryable", true)
}

// NewExecutionError creates an error for failed query execution, preserving
// the engine diagnostic verbatim so the next turn can self-correct from it
func NewExecutionError(err error, query string) *EnhancedError {
	return Wrap(err, ErrCodeExecutionFailed, "Query execution failed").
		WithDetails(err.Error()).
		WithMetadata("query", query)
}

// NewExecutionTimeoutError creates an error for queries that exceeded the execution deadline
func NewExecutionTimeoutError(query string, timeoutSeconds int) *EnhancedError {
	return New(ErrCodeExecutionTimeout, "Query execution timed out").
		WithDetails(fmt.Sprintf("execution exceeded the %d second limit", timeoutSeconds)).
		WithSuggestion("Narrow the query with an additional filter or a smaller LIMIT instead of retrying it unchanged.").
		WithMetadata("query", query)
}

// NewSchemaLoadError creates an error for schema descriptor load failures
func NewSchemaLoadError(err error, path string) *EnhancedError {
	return Wrap(err, ErrCodeSchemaLoad, "Failed to load schema descriptor").
		WithDetails(fmt.Sprintf("could not parse descriptor file: %s", path)).
		WithSuggestion("Check that the descriptor file exists and is valid JSON with tables, vocabulary, and limits sections.")
}

// NewDatasetLoadError creates an error for dataset source failures
func NewDatasetLoadError(err error, table string) *EnhancedError {
	return Wrap(err, ErrCodeDatasetLoad, "Failed to load dataset").
		WithDetails(fmt.Sprintf("could not load rows for table %q", table)).
		WithMetadata("table", table)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database operation failed").
		WithDetails(fmt.Sprintf("error during: %s", operation)).
		WithSuggestion("This is typically a temporary issue. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid username or password").
		WithSuggestion("Check your credentials and try again.")
}

// NewBudgetExceededError creates an error for users who are out of spend budget
func NewBudgetExceededError(err error) *EnhancedError {
	return Wrap(err, ErrCodeBudgetExceeded, "Model spend budget exceeded").
		WithSuggestion("Wait for the budget window to reset, or ask an administrator to raise your limit.").
		WithMetadata("retryable", true)
}

// NewInvalidInputError creates an error for invalid user input
func NewInvalidInputError(field, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input provided").
		WithDetails(fmt.Sprintf("field %q: %s", field, reason)).
		WithMetadata("field", field)
}
