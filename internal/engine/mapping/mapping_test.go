package mapping

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/cache"
)

func strPtr(s string) *string { return &s }

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context, dbAlias string) ([]ConceptMapping, error) {
	args := m.Called(ctx, dbAlias)
	out, _ := args.Get(0).([]ConceptMapping)
	return out, args.Error(1)
}

func TestNewSnapshot_OrderAndPrecedence(t *testing.T) {
	snap := NewSnapshot([]ConceptMapping{
		{Synonym: "sales", Canonical: "revenue", Category: CategoryMetric},
		{Synonym: "Sales", Canonical: "net_sales", Category: CategoryMetric, DBAlias: strPtr("retail")},
		{Synonym: "gross sales", Canonical: "gross_revenue", Category: CategoryMetric},
		{Synonym: "area", Canonical: "region", Category: CategoryDimension},
		{Synonym: "", Canonical: "ignored"},
	})

	require.Equal(t, 3, snap.Len())

	m, ok := snap.Lookup("SALES")
	require.True(t, ok)
	assert.Equal(t, "net_sales", m.Canonical, "datasource mapping wins over global")

	ordered := snap.Mappings()
	assert.Equal(t, "gross sales", ordered[0].Synonym)
	assert.Equal(t, "sales", ordered[1].Synonym)
	assert.Equal(t, "area", ordered[2].Synonym)
}

func TestResolver_CachesSnapshot(t *testing.T) {
	store := new(mockStore)
	store.On("Load", mock.Anything, "sales").Return([]ConceptMapping{
		{Synonym: "turnover", Canonical: "revenue", Category: CategoryMetric},
	}, nil).Once()

	r := NewResolver(store, cache.NewMemoryCache(nil), time.Minute, logger.NewTestLogger(t))

	for i := 0; i < 3; i++ {
		canonical, ok, err := r.Resolve(context.Background(), "sales", "Turnover")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "revenue", canonical)
	}

	_, ok, err := r.Resolve(context.Background(), "sales", "profit")
	require.NoError(t, err)
	assert.False(t, ok)

	store.AssertNumberOfCalls(t, "Load", 1)
}

func TestResolver_StoreFailure(t *testing.T) {
	store := new(mockStore)
	store.On("Load", mock.Anything, "sales").Return(nil, assert.AnError)

	r := NewResolver(store, nil, 0, logger.NewNoOpLogger())
	_, err := r.Snapshot(context.Background(), "sales")

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConceptMappingFailed))
}

func TestPostgresStore_Load(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"synonym", "canonical_term", "category", "db_alias"}).
		AddRow("income", "revenue", "metric", nil).
		AddRow("territory", "region", "dimension", "sales")
	sqlMock.ExpectQuery(regexp.QuoteMeta("FROM concept_mappings")).
		WithArgs("sales").
		WillReturnRows(rows)

	got, err := NewPostgresStore(db).Load(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].DBAlias)
	require.NotNil(t, got[1].DBAlias)
	assert.Equal(t, "sales", *got[1].DBAlias)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestParseYAML(t *testing.T) {
	doc := `
mappings:
  - synonym: turnover
    canonical: revenue
    category: metric
  - synonym: shop
    canonical: store
    category: entity
    db_alias: retail
`
	store, err := ParseYAML([]byte(doc))
	require.NoError(t, err)

	global, err := store.Load(context.Background(), "finance")
	require.NoError(t, err)
	assert.Len(t, global, 1)

	retail, err := store.Load(context.Background(), "retail")
	require.NoError(t, err)
	assert.Len(t, retail, 2)
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing canonical", doc: "mappings:\n  - synonym: a\n    category: metric\n"},
		{name: "bad category", doc: "mappings:\n  - synonym: a\n    canonical: b\n    category: colour\n"},
		{name: "not yaml", doc: "mappings: [::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
