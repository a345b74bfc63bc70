package executequery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/cache"
	"nlsql-workers/internal/engine/executor"
	"nlsql-workers/internal/engine/safety"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v", msg, fields)
}

func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v", msg, fields)
}

func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v", msg, fields)
}

func (l *TestLogger) With(fields map[string]interface{}) Logger { return l }

// ==========================
// Mock Implementations
// ==========================

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// ==========================
// Test Helpers
// ==========================

const regionQuery = "SELECT orders.region FROM orders GROUP BY orders.region ORDER BY 1 LIMIT 1000"

func newTestHandler(t *testing.T, c cache.Cache) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := executor.NewRegistry()
	reg.Register(&executor.Datasource{Alias: "sales", Driver: "postgres", DB: db, MaxRows: 100, QueryTimeout: time.Second})

	log := logger.NewTestLogger(t)
	ex := executor.New(reg, safety.NewGuard(nil, log), log)
	return NewHandler(&Config{Timeout: time.Second, CacheTTL: time.Minute}, ex, c, &TestLogger{t: t}), sqlMock
}

func regionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"region"}).AddRow("north").AddRow("south")
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_Execute_CachesResults(t *testing.T) {
	h, sqlMock := newTestHandler(t, cache.NewMemoryCache(cache.SystemClock))
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())

	in := &Input{SQL: regionQuery, DatabaseAlias: "sales", ComponentID: "chart-1"}

	first, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, []string{"region"}, first.Columns)
	assert.Equal(t, 2, first.TotalRows)
	assert.Equal(t, regionQuery, first.SQL)

	second, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.TotalRows, second.TotalRows)
	assert.Equal(t, "south", second.Data[1]["region"])

	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_CacheKeyIncludesFilters(t *testing.T) {
	h, sqlMock := newTestHandler(t, cache.NewMemoryCache(cache.SystemClock))
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())

	_, err := h.Execute(context.Background(), &Input{SQL: regionQuery, DatabaseAlias: "sales",
		Filters: map[string]interface{}{"region": "north"}})
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{SQL: regionQuery, DatabaseAlias: "sales",
		Filters: map[string]interface{}{"region": "south"}})
	require.NoError(t, err)
	assert.False(t, out.Cached)

	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_SkipCache(t *testing.T) {
	h, sqlMock := newTestHandler(t, cache.NewMemoryCache(cache.SystemClock))
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())

	in := &Input{SQL: regionQuery, DatabaseAlias: "sales"}
	_, err := h.Execute(context.Background(), in)
	require.NoError(t, err)

	in.SkipCache = true
	out, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Cached)

	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_CacheFailuresAreBypassed(t *testing.T) {
	mc := new(MockCache)
	mc.On("Get", mock.Anything, mock.Anything).Return(nil, false, fmt.Errorf("connection refused"))
	mc.On("Set", mock.Anything, mock.Anything, mock.Anything, time.Minute).Return(fmt.Errorf("connection refused"))

	h, sqlMock := newTestHandler(t, mc)
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())

	out, err := h.Execute(context.Background(), &Input{SQL: regionQuery, DatabaseAlias: "sales"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalRows)

	mc.AssertExpectations(t)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_NilCache(t *testing.T) {
	h, sqlMock := newTestHandler(t, nil)
	sqlMock.ExpectQuery(regionQuery).WillReturnRows(regionRows())

	out, err := h.Execute(context.Background(), &Input{SQL: regionQuery, DatabaseAlias: "sales"})
	require.NoError(t, err)
	assert.False(t, out.Cached)
}

func TestHandler_Execute_SplicesPassthroughSource(t *testing.T) {
	want := "SELECT region FROM (SELECT region FROM orders) AS source GROUP BY region ORDER BY 1 LIMIT 1000"

	tests := []struct {
		name   string
		source string
	}{
		{"trailing semicolon", "SELECT region FROM orders;"},
		{"surrounding whitespace", "\n  SELECT region FROM orders  \n"},
		{"whitespace around semicolon", "  SELECT region FROM orders ;\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sqlMock := newTestHandler(t, nil)
			sqlMock.ExpectQuery(want).WillReturnRows(regionRows())

			out, err := h.Execute(context.Background(), &Input{
				SQL:           "SELECT region FROM ({{subquery}}) AS source GROUP BY region ORDER BY 1 LIMIT 1000",
				SourceSQL:     tt.source,
				DatabaseAlias: "sales",
			})
			require.NoError(t, err)
			assert.Equal(t, want, out.SQL)
			require.NoError(t, sqlMock.ExpectationsWereMet())
		})
	}
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		wantCode errors.ErrorCode
	}{
		{"missing sql", &Input{DatabaseAlias: "sales"}, errors.ErrCodeInvalidInput},
		{"missing alias", &Input{SQL: regionQuery}, errors.ErrCodeInvalidInput},
		{"passthrough without source", &Input{SQL: "SELECT a FROM ({{subquery}}) AS source", DatabaseAlias: "sales"}, errors.ErrCodeInvalidInput},
		{"passthrough with blank source", &Input{SQL: "SELECT a FROM ({{subquery}}) AS source", SourceSQL: " ; ", DatabaseAlias: "sales"}, errors.ErrCodeInvalidInput},
		{"unknown datasource", &Input{SQL: regionQuery, DatabaseAlias: "warehouse"}, errors.ErrCodeDatasourceNotFound},
		{"unsafe statement", &Input{SQL: "DROP TABLE orders", DatabaseAlias: "sales"}, errors.ErrCodeUnsafeSQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, cache.NewMemoryCache(cache.SystemClock))
			out, err := h.Execute(context.Background(), tt.input)
			assert.Nil(t, out)
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}
