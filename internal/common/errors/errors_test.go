package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_Error(t *testing.T) {
	err := NewUnsafeSQLError("forbidden keyword DROP")
	assert.Equal(t, "StandardError[UNSAFE_SQL]: SQL rejected as unsafe", err.Error())
	assert.False(t, err.Retryable)
}

func TestAsStandardError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("generate sql: %w", NewLLMResponseMalformedError(fmt.Errorf("unexpected EOF")))

	stdErr, ok := AsStandardError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeLLMResponseMalformed, stdErr.Code)
	assert.True(t, HasCode(wrapped, ErrCodeLLMResponseMalformed))
	assert.False(t, HasCode(wrapped, ErrCodeUnsafeSQL))
}

func TestNormalize_PlainError(t *testing.T) {
	stdErr := Normalize(fmt.Errorf("boom"))
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "boom", stdErr.Details)
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		category  string
	}{
		{ErrCodeValidationFailed, false, "validation"},
		{ErrCodeInvalidQuerySpec, false, "validation"},
		{ErrCodeUnsafeSQL, false, "security"},
		{ErrCodeLLMResponseMalformed, false, "ai"},
		{ErrCodeLLMTimeout, true, "ai"},
		{ErrCodeRetrievalCancelled, true, "retrieval"},
		{ErrCodeQueryExecutionFailed, true, "data"},
		{ErrCodeDatasourceNotFound, false, "data"},
		{ErrorCode("SOMETHING_ELSE"), false, "system"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableErrorCode(tt.code))
			assert.Equal(t, tt.category, GetErrorCategory(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	stdErr := NewValidationFailedError([]string{"missing join for customers"})
	bpmnErr := ConvertToBPMNError(stdErr)

	assert.Equal(t, "VALIDATION_FAILED", bpmnErr.Code)
	assert.Equal(t, 0, bpmnErr.Retries)

	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, "VALIDATION_FAILED", vars["errorCode"])
	assert.Equal(t, "validation", vars["errorCategory"])
	assert.Equal(t, []string{"missing join for customers"}, vars["errors"])
}
