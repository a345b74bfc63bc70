// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Query spec / validation
	ErrCodeInvalidQuerySpec ErrorCode = "INVALID_QUERY_SPEC"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnsafeSQL        ErrorCode = "UNSAFE_SQL"
	ErrCodeCompileFailed    ErrorCode = "COMPILE_FAILED"

	// LLM / embedding
	ErrCodeLLMResponseMalformed ErrorCode = "LLM_RESPONSE_MALFORMED"
	ErrCodeLLMTimeout           ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRequestFailed     ErrorCode = "LLM_REQUEST_FAILED"
	ErrCodeEmbeddingFailed      ErrorCode = "EMBEDDING_FAILED"

	// Retrieval / concepts
	ErrCodeRetrievalStageFailed ErrorCode = "RETRIEVAL_STAGE_FAILED"
	ErrCodeRetrievalCancelled   ErrorCode = "RETRIEVAL_CANCELLED"
	ErrCodeConceptMappingFailed ErrorCode = "CONCEPT_MAPPING_FAILED"

	// Execution
	ErrCodeDatasourceNotFound       ErrorCode = "DATASOURCE_NOT_FOUND"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	// Generic
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout              ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAuthentication       ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// AsStandardError unwraps err looking for a *StandardError.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidQuerySpecError reports a QuerySpec rejected at the boundary.
func NewInvalidQuerySpecError(problems []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuerySpec,
		Message:   "Query spec rejected",
		Details:   strings.Join(problems, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"problems": problems},
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError wraps the itemized validation errors of a spec.
func NewValidationFailedError(errs []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Query spec failed validation",
		Details:   strings.Join(errs, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"errors": errs},
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsafeSQLError reports SQL rejected by the safety checker.
func NewUnsafeSQLError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsafeSQL,
		Message:   "SQL rejected as unsafe",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompileFailedError creates a non-retryable compilation error.
func NewCompileFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCompileFailed,
		Message:   "Query compilation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMResponseMalformedError is returned when the completion is not the expected JSON.
func NewLLMResponseMalformedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMResponseMalformed,
		Message:   "LLM response is not valid structured JSON",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates a retryable LLM timeout error.
func NewLLMTimeoutError(service string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "LLM completion timed out",
		Details:   fmt.Sprintf("service: %s", service),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMRequestFailedError creates a retryable LLM transport error.
func NewLLMRequestFailedError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMRequestFailed,
		Message:   "LLM completion request failed",
		Details:   fmt.Sprintf("service: %s, error: %s", service, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmbeddingFailedError creates a retryable embedding error.
func NewEmbeddingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmbeddingFailed,
		Message:   "Question embedding failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRetrievalStageFailedError describes a degraded retrieval stage.
func NewRetrievalStageFailedError(stage string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRetrievalStageFailed,
		Message:   "Retrieval stage failed",
		Details:   fmt.Sprintf("stage: %s, error: %s", stage, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewRetrievalCancelledError is returned when the caller cancels the pipeline.
func NewRetrievalCancelledError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRetrievalCancelled,
		Message:   "Schema retrieval cancelled",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConceptMappingFailedError creates a retryable mapping store error.
func NewConceptMappingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConceptMappingFailed,
		Message:   "Concept mapping lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatasourceNotFoundError creates a non-retryable datasource error.
func NewDatasourceNotFoundError(alias string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatasourceNotFound,
		Message:   "Datasource is not registered",
		Details:   fmt.Sprintf("database_alias: %s", alias),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(datasource string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("datasource: %s, error: %s", datasource, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(datasource string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("datasource: %s", datasource),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError creates a non-retryable job input error.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid job input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalServiceError,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResourceNotFound,
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthentication,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// retryPolicy maps error codes to the number of job retries Zeebe should attempt.
var retryPolicy = map[ErrorCode]int{
	ErrCodeLLMTimeout:               2,
	ErrCodeLLMRequestFailed:         2,
	ErrCodeEmbeddingFailed:          2,
	ErrCodeRetrievalStageFailed:     1,
	ErrCodeRetrievalCancelled:       1,
	ErrCodeConceptMappingFailed:     2,
	ErrCodeDatabaseConnectionFailed: 3,
	ErrCodeQueryExecutionFailed:     2,
	ErrCodeQueryTimeout:             2,
	ErrCodeExternalServiceError:     3,
	ErrCodeTimeout:                  3,
}

// GetRetryCount returns the recommended retry count for a code. Zero means throw a BPMN error.
func GetRetryCount(code ErrorCode) int {
	return retryPolicy[code]
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	vars := map[string]interface{}{
		"errorCategory": GetErrorCategory(stdErr.Code),
		"timestamp":     stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        GetRetryCount(stdErr.Code),
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidQuerySpec, ErrCodeValidationFailed, ErrCodeCompileFailed, ErrCodeInvalidInput:
		return "validation"
	case ErrCodeUnsafeSQL, ErrCodeAuthentication:
		return "security"
	case ErrCodeLLMResponseMalformed, ErrCodeLLMTimeout, ErrCodeLLMRequestFailed, ErrCodeEmbeddingFailed:
		return "ai"
	case ErrCodeRetrievalStageFailed, ErrCodeRetrievalCancelled, ErrCodeConceptMappingFailed:
		return "retrieval"
	case ErrCodeDatasourceNotFound, ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed, ErrCodeQueryTimeout:
		return "data"
	case ErrCodeExternalServiceError, ErrCodeTimeout, ErrCodeResourceNotFound:
		return "integration"
	default:
		return "system"
	}
}
