package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		reason string
	}{
		{name: "plain select", sql: "SELECT id, name FROM customers LIMIT 10"},
		{name: "trailing semicolon", sql: "SELECT 1;"},
		{name: "updated_at column", sql: "SELECT updated_at, created_by FROM orders"},
		{name: "keyword inside literal", sql: "SELECT * FROM audit WHERE action = 'DELETE'"},
		{name: "keyword in quoted identifier", sql: `SELECT "drop" FROM t`},
		{name: "keyword in comment", sql: "SELECT 1 -- drop later\nFROM t"},
		{name: "semicolon in literal", sql: "SELECT * FROM t WHERE note = 'a;b'"},
		{name: "drop", sql: "DROP TABLE customers", reason: "DROP"},
		{name: "lowercase delete", sql: "delete from customers", reason: "DELETE"},
		{name: "update", sql: "UPDATE t SET a = 1", reason: "UPDATE"},
		{name: "insert", sql: "INSERT INTO t VALUES (1)", reason: "INSERT"},
		{name: "create", sql: "CREATE TABLE x (id int)", reason: "CREATE"},
		{name: "alter", sql: "ALTER TABLE x ADD c int", reason: "ALTER"},
		{name: "truncate", sql: "truncate x", reason: "TRUNCATE"},
		{name: "stacked statements", sql: "SELECT 1; SELECT 2", reason: "multiple statements"},
		{name: "escaped quote does not hide keyword", sql: "SELECT 'it''s'; DROP TABLE t", reason: "DROP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.sql)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			std, ok := errors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeUnsafeSQL, std.Code)
			assert.Equal(t, tt.reason, std.Details)
		})
	}
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, kind string, details map[string]interface{}) error {
	return m.Called(ctx, kind, details).Error(0)
}

func TestGuard_AlertsOnRejection(t *testing.T) {
	alerter := new(mockAlerter)
	alerter.On("Alert", mock.Anything, "unsafe_sql", mock.MatchedBy(func(d map[string]interface{}) bool {
		return d["source"] == "llm" && d["reason"] == "DROP"
	})).Return(nil)

	g := NewGuard(alerter, logger.NewTestLogger(t))

	require.NoError(t, g.Check(context.Background(), "llm", "SELECT 1"))
	require.Error(t, g.Check(context.Background(), "llm", "DROP TABLE t"))

	alerter.AssertNumberOfCalls(t, "Alert", 1)
	alerter.AssertExpectations(t)
}

func TestGuard_AlertFailureStillRejects(t *testing.T) {
	alerter := new(mockAlerter)
	alerter.On("Alert", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	g := NewGuard(alerter, logger.NewTestLogger(t))
	err := g.Check(context.Background(), "compiler", "SELECT 1; SELECT 2")

	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsafeSQL))
}

func TestGuard_NilAlerter(t *testing.T) {
	g := NewGuard(nil, logger.NewNoOpLogger())
	assert.Error(t, g.Check(context.Background(), "caller", "TRUNCATE t"))
}
