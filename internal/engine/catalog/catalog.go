// Package catalog reads schema metadata (tables, columns, relationships) registered for each datasource.
// The catalog is owned by the ingestion side; this package never writes to it.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"nlsql-workers/internal/models"
)

// Store is the read-only schema metadata provider.
type Store interface {
	ListTables(ctx context.Context, dbAlias string) ([]models.TableMetadata, error)
	GetColumns(ctx context.Context, tableID int64) ([]models.ColumnMetadata, error)
	GetRelationships(ctx context.Context, tableID int64) ([]models.RelationshipMetadata, error)
}

// PostgresStore reads the catalog tables schema_tables, schema_columns and schema_relationships.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listTablesQuery = `SELECT id, db_alias, schema_name, table_name, COALESCE(description, ''), row_count, usage_count
	FROM schema_tables WHERE db_alias = $1 ORDER BY schema_name, table_name`

func (s *PostgresStore) ListTables(ctx context.Context, dbAlias string) ([]models.TableMetadata, error) {
	rows, err := s.db.QueryContext(ctx, listTablesQuery, dbAlias)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []models.TableMetadata
	for rows.Next() {
		var t models.TableMetadata
		if err := rows.Scan(&t.ID, &t.DBAlias, &t.Schema, &t.Name, &t.Description, &t.RowCount, &t.UsageCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

const getColumnsQuery = `SELECT table_id, column_name, data_type, COALESCE(description, ''), is_nullable, is_primary_key, ordinal_position
	FROM schema_columns WHERE table_id = $1 ORDER BY ordinal_position`

func (s *PostgresStore) GetColumns(ctx context.Context, tableID int64) ([]models.ColumnMetadata, error) {
	rows, err := s.db.QueryContext(ctx, getColumnsQuery, tableID)
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}
	defer rows.Close()

	var cols []models.ColumnMetadata
	for rows.Next() {
		var c models.ColumnMetadata
		if err := rows.Scan(&c.TableID, &c.Name, &c.DataType, &c.Description, &c.IsNullable, &c.IsPrimaryKey, &c.Ordinal); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Outbound and inbound links in one pass.
const getRelationshipsQuery = `SELECT ft.table_name, r.from_column, tt.table_name, r.to_column, COALESCE(r.relationship_type, '')
	FROM schema_relationships r
	JOIN schema_tables ft ON ft.id = r.from_table_id
	JOIN schema_tables tt ON tt.id = r.to_table_id
	WHERE r.from_table_id = $1 OR r.to_table_id = $1
	ORDER BY ft.table_name, r.from_column, tt.table_name, r.to_column`

func (s *PostgresStore) GetRelationships(ctx context.Context, tableID int64) ([]models.RelationshipMetadata, error) {
	rows, err := s.db.QueryContext(ctx, getRelationshipsQuery, tableID)
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	defer rows.Close()

	var rels []models.RelationshipMetadata
	for rows.Next() {
		var r models.RelationshipMetadata
		if err := rows.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn, &r.RelationshipType); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

const relationshipsByNameQuery = `SELECT ft.table_name, r.from_column, tt.table_name, r.to_column, COALESCE(r.relationship_type, '')
	FROM schema_relationships r
	JOIN schema_tables ft ON ft.id = r.from_table_id
	JOIN schema_tables tt ON tt.id = r.to_table_id
	WHERE ft.db_alias = $1 AND (ft.table_name = $2 OR tt.table_name = $2)
	ORDER BY ft.table_name, r.from_column, tt.table_name, r.to_column`

// Relationships returns the links touching a table identified by name, for join inference.
func (s *PostgresStore) Relationships(ctx context.Context, dbAlias, table string) ([]models.RelationshipMetadata, error) {
	rows, err := s.db.QueryContext(ctx, relationshipsByNameQuery, dbAlias, table)
	if err != nil {
		return nil, fmt.Errorf("relationships for %s: %w", table, err)
	}
	defer rows.Close()

	var rels []models.RelationshipMetadata
	for rows.Next() {
		var r models.RelationshipMetadata
		if err := rows.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn, &r.RelationshipType); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

const columnNamesQuery = `SELECT c.column_name FROM schema_columns c
	JOIN schema_tables t ON t.id = c.table_id
	WHERE t.db_alias = $1 AND t.table_name = $2
	ORDER BY c.ordinal_position`

// ColumnNames lists a table's columns by name, for join inference.
func (s *PostgresStore) ColumnNames(ctx context.Context, dbAlias, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, columnNamesQuery, dbAlias, table)
	if err != nil {
		return nil, fmt.Errorf("columns for %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
