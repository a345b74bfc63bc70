package mapping

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore reads the concept_mappings table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const loadMappingsQuery = `SELECT synonym, canonical_term, category, db_alias
	FROM concept_mappings
	WHERE db_alias = $1 OR db_alias IS NULL
	ORDER BY synonym`

func (s *PostgresStore) Load(ctx context.Context, dbAlias string) ([]ConceptMapping, error) {
	rows, err := s.db.QueryContext(ctx, loadMappingsQuery, dbAlias)
	if err != nil {
		return nil, fmt.Errorf("load concept mappings: %w", err)
	}
	defer rows.Close()

	var out []ConceptMapping
	for rows.Next() {
		var (
			m     ConceptMapping
			alias sql.NullString
		)
		if err := rows.Scan(&m.Synonym, &m.Canonical, &m.Category, &alias); err != nil {
			return nil, fmt.Errorf("scan concept mapping: %w", err)
		}
		if alias.Valid {
			a := alias.String
			m.DBAlias = &a
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
