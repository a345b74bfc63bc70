package extractconcepts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/engine/concepts"
	"nlsql-workers/internal/engine/mapping"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t      *testing.T
	fields map[string]interface{}
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t, fields: map[string]interface{}{}}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{t: l.t, fields: merged}
}

// ==========================
// Mock Resolver
// ==========================

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Snapshot(ctx context.Context, dbAlias string) (mapping.Snapshot, error) {
	args := m.Called(ctx, dbAlias)
	return args.Get(0).(mapping.Snapshot), args.Error(1)
}

// ==========================
// Test Helpers
// ==========================

func newTestHandler(t *testing.T, resolver SnapshotResolver) *Handler {
	now := time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
	h := NewHandler(
		&Config{Timeout: time.Second},
		resolver,
		concepts.NewExtractor(func() time.Time { return now }),
		NewTestLogger(t),
	)
	h.newID = func() string { return "thread-generated" }
	return h
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	resolver := new(MockResolver)
	resolver.On("Snapshot", mock.Anything, "sales").Return(mapping.NewSnapshot([]mapping.ConceptMapping{
		{Synonym: "turnover", Canonical: "revenue", Category: mapping.CategoryMetric},
	}), nil)

	h := newTestHandler(t, resolver)
	out, err := h.Execute(context.Background(), &Input{
		Question:      "Show me top 5 regions by turnover last month",
		DatabaseAlias: "sales",
	})
	require.NoError(t, err)

	assert.Equal(t, "thread-generated", out.ThreadID)
	assert.Equal(t, "Show me top 5 regions by revenue last month", out.NormalizedQuestion)
	assert.Equal(t, out.Concepts.NormalizedQuestion, out.NormalizedQuestion)
	assert.Contains(t, out.Concepts.Metrics, "revenue")
	assert.Contains(t, out.Concepts.Dimensions, "region")
	assert.Equal(t, "revenue", out.Concepts.MappedTerms["turnover"])
	require.NotNil(t, out.Concepts.Limit)
	assert.Equal(t, 5, *out.Concepts.Limit)
	resolver.AssertExpectations(t)
}

func TestHandler_Execute_KeepsThreadID(t *testing.T) {
	resolver := new(MockResolver)
	resolver.On("Snapshot", mock.Anything, "sales").Return(mapping.Snapshot{}, nil)

	out, err := newTestHandler(t, resolver).Execute(context.Background(), &Input{
		Question:      "count orders",
		DatabaseAlias: "sales",
		ThreadID:      "thread-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "thread-42", out.ThreadID)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		setup    func(r *MockResolver)
		wantCode errors.ErrorCode
	}{
		{
			name:     "blank question",
			input:    &Input{Question: "   ", DatabaseAlias: "sales"},
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name:     "missing alias",
			input:    &Input{Question: "total sales"},
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name:  "mapping store unavailable",
			input: &Input{Question: "total sales", DatabaseAlias: "sales"},
			setup: func(r *MockResolver) {
				r.On("Snapshot", mock.Anything, "sales").
					Return(mapping.Snapshot{}, errors.NewConceptMappingFailedError(fmt.Errorf("connection refused")))
			},
			wantCode: errors.ErrCodeConceptMappingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := new(MockResolver)
			if tt.setup != nil {
				tt.setup(resolver)
			}

			out, err := newTestHandler(t, resolver).Execute(context.Background(), tt.input)
			assert.Nil(t, out)
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
			resolver.AssertExpectations(t)
		})
	}
}
