package catalog

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/models"
)

func TestPostgresStore_ListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "db_alias", "schema_name", "table_name", "description", "row_count", "usage_count"}).
		AddRow(1, "sales", "public", "customers", "People who buy", 1200, 40).
		AddRow(2, "sales", "public", "orders", "", 98000, 310)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_tables WHERE db_alias = $1 ORDER BY schema_name, table_name")).
		WithArgs("sales").
		WillReturnRows(rows)

	tables, err := NewPostgresStore(db).ListTables(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, models.TableMetadata{
		ID: 1, DBAlias: "sales", Schema: "public", Name: "customers",
		Description: "People who buy", RowCount: 1200, UsageCount: 40,
	}, tables[0])
	assert.Equal(t, "orders", tables[1].QualifiedName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_id", "column_name", "data_type", "description", "is_nullable", "is_primary_key", "ordinal_position"}).
		AddRow(2, "id", "bigint", "", false, true, 1).
		AddRow(2, "customer_id", "bigint", "Buyer", false, false, 2)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_columns WHERE table_id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(rows)

	cols, err := NewPostgresStore(db).GetColumns(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].IsPrimaryKey)
	assert.Equal(t, "Buyer", cols[1].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRelationshipsBothDirections(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"from", "from_column", "to", "to_column", "type"}).
		AddRow("order_items", "order_id", "orders", "id", "many_to_one").
		AddRow("orders", "customer_id", "customers", "id", "many_to_one")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.from_table_id = $1 OR r.to_table_id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(rows)

	rels, err := NewPostgresStore(db).GetRelationships(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "order_items.order_id->orders.id", rels[0].Key())
	assert.Equal(t, "orders.customer_id->customers.id", rels[1].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT c.column_name").WithArgs("sales", "orders").WillReturnError(assert.AnError)

	_, err = NewPostgresStore(db).ColumnNames(context.Background(), "sales", "orders")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
