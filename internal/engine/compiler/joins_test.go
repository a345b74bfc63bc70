package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/models"
)

type mockRelationships struct {
	mock.Mock
}

func (m *mockRelationships) Relationships(ctx context.Context, dbAlias, table string) ([]models.RelationshipMetadata, error) {
	args := m.Called(ctx, dbAlias, table)
	rels, _ := args.Get(0).([]models.RelationshipMetadata)
	return rels, args.Error(1)
}

type staticColumns map[string][]string

func (s staticColumns) ColumnNames(_ context.Context, _ string, table string) ([]string, error) {
	return s[table], nil
}

func TestExplicitJoinStrategy_FlipsReverseOrientation(t *testing.T) {
	spec := &models.QuerySpec{
		Joins: []models.JoinSpec{
			{LeftTable: "customers", LeftField: "id", RightTable: "orders", RightField: "customer_id", JoinType: "INNER"},
		},
	}

	join, ok, err := ExplicitJoinStrategy{}.Infer(context.Background(), JoinRequest{
		Target:  "customers",
		InScope: []string{"orders"},
		Spec:    spec,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "customers", join.Target())
	assert.Equal(t, "orders.customer_id = customers.id", join.OnClause())
	assert.Equal(t, "INNER", join.NormalizedType())
}

func TestForeignKeyCatalogStrategy(t *testing.T) {
	tests := []struct {
		name   string
		rels   []models.RelationshipMetadata
		err    error
		wantOK bool
		wantOn string
	}{
		{
			name:   "scoped table references target",
			rels:   []models.RelationshipMetadata{{FromTable: "orders", FromColumn: "buyer_id", ToTable: "customers", ToColumn: "id"}},
			wantOK: true,
			wantOn: "orders.buyer_id = customers.id",
		},
		{
			name:   "target references scoped table",
			rels:   []models.RelationshipMetadata{{FromTable: "customers", FromColumn: "first_order_id", ToTable: "orders", ToColumn: "id"}},
			wantOK: true,
			wantOn: "orders.id = customers.first_order_id",
		},
		{
			name: "relationship to a table not in scope",
			rels: []models.RelationshipMetadata{{FromTable: "invoices", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"}},
		},
		{
			name: "catalog error",
			err:  assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := new(mockRelationships)
			cat.On("Relationships", mock.Anything, "sales", "customers").Return(tt.rels, tt.err)

			join, ok, err := ForeignKeyCatalogStrategy{Catalog: cat}.Infer(context.Background(), JoinRequest{
				DBAlias: "sales",
				Target:  "customers",
				InScope: []string{"orders"},
			})

			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantOn, join.OnClause())
			}
		})
	}
}

func TestNamingHeuristicStrategy_WithColumns(t *testing.T) {
	tests := []struct {
		name    string
		columns staticColumns
		target  string
		wantOK  bool
		wantOn  string
	}{
		{
			name: "main table has singular fk",
			columns: staticColumns{
				"orders":    {"id", "customer_id", "amount"},
				"customers": {"id", "name"},
			},
			target: "customers",
			wantOK: true,
			wantOn: "orders.customer_id = customers.id",
		},
		{
			name: "target points back at main table",
			columns: staticColumns{
				"orders":      {"id", "amount"},
				"order_items": {"id", "order_id", "sku"},
			},
			target: "order_items",
			wantOK: true,
			wantOn: "orders.id = order_items.order_id",
		},
		{
			name: "no matching columns",
			columns: staticColumns{
				"orders":  {"id", "amount"},
				"weather": {"day", "temperature"},
			},
			target: "weather",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			join, ok, err := NamingHeuristicStrategy{Columns: tt.columns}.Infer(context.Background(), JoinRequest{
				Target:  tt.target,
				InScope: []string{"orders"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantOn, join.OnClause())
			}
		})
	}
}

func TestJoinInferrer_FallsThroughOnError(t *testing.T) {
	cat := new(mockRelationships)
	cat.On("Relationships", mock.Anything, "", "customers").Return(nil, assert.AnError)

	log := logger.NewTestLogger(t)
	inf := NewJoinInferrer(log, DefaultStrategies(cat, nil, false)...)

	got, err := inf.Infer(context.Background(), JoinRequest{Target: "customers", InScope: []string{"orders"}})
	require.NoError(t, err)
	assert.Equal(t, "naming_heuristic", got.Strategy)
	assert.Equal(t, "LEFT", got.Join.NormalizedType())
	cat.AssertExpectations(t)
}

func TestJoinInferrer_FKBeatsHeuristic(t *testing.T) {
	cat := new(mockRelationships)
	cat.On("Relationships", mock.Anything, "sales", "customers").Return([]models.RelationshipMetadata{
		{FromTable: "orders", FromColumn: "buyer_id", ToTable: "customers", ToColumn: "id"},
	}, nil)

	inf := NewJoinInferrer(logger.NewNoOpLogger(), DefaultStrategies(cat, nil, false)...)
	got, err := inf.Infer(context.Background(), JoinRequest{DBAlias: "sales", Target: "customers", InScope: []string{"orders"}})

	require.NoError(t, err)
	assert.Equal(t, "foreign_key", got.Strategy)
	assert.Equal(t, "orders.buyer_id = customers.id", got.Join.OnClause())
}

func TestJoinInferrer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inf := NewJoinInferrer(logger.NewNoOpLogger(), DefaultStrategies(nil, nil, false)...)
	_, err := inf.Infer(ctx, JoinRequest{Target: "customers", InScope: []string{"orders"}})
	assert.ErrorIs(t, err, context.Canceled)
}
