package models

// TableMetadata describes one catalogued table. Usage counters belong to the metadata store.
type TableMetadata struct {
	ID          int64  `json:"id"`
	DBAlias     string `json:"db_alias"`
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RowCount    int64  `json:"row_count,omitempty"`
	UsageCount  int64  `json:"usage_count,omitempty"`
}

// QualifiedName returns schema.table, or just the table for the default schema.
func (t TableMetadata) QualifiedName() string {
	if t.Schema == "" || t.Schema == "public" || t.Schema == "main" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

type ColumnMetadata struct {
	TableID      int64  `json:"table_id"`
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Description  string `json:"description,omitempty"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key,omitempty"`
	Ordinal      int    `json:"ordinal"`
}

// RelationshipMetadata is a foreign-key style link between two columns.
type RelationshipMetadata struct {
	FromTable        string `json:"from_table"`
	FromColumn       string `json:"from_column"`
	ToTable          string `json:"to_table"`
	ToColumn         string `json:"to_column"`
	RelationshipType string `json:"relationship_type,omitempty"`
}

// Key identifies the relationship independent of which side fetched it.
func (r RelationshipMetadata) Key() string {
	return r.FromTable + "." + r.FromColumn + "->" + r.ToTable + "." + r.ToColumn
}

// TableContext is one ranked table with its enrichment.
type TableContext struct {
	Table         TableMetadata          `json:"table"`
	Score         float64                `json:"score"`
	Columns       []ColumnMetadata       `json:"columns"`
	Relationships []RelationshipMetadata `json:"relationships"`
}

type BusinessEntity struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tables      []string `json:"tables,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Score       float64  `json:"score"`
}

type BusinessMetric struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Formula     string  `json:"formula"`
	Score       float64 `json:"score"`
}

// QueryTemplate is a curated example query. A nil DBAlias marks a global template.
type QueryTemplate struct {
	ID          string  `json:"id"`
	DBAlias     *string `json:"db_alias"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	SQL         string  `json:"sql"`
	Score       float64 `json:"score"`
}

func (q QueryTemplate) IsGlobal() bool {
	return q.DBAlias == nil
}

// RetrievalContext is the bounded, ranked schema slice built for one question.
type RetrievalContext struct {
	DBAlias             string           `json:"db_alias"`
	RelevantTables      []TableContext   `json:"relevant_tables"`
	BusinessEntities    []BusinessEntity `json:"business_entities"`
	BusinessMetrics     []BusinessMetric `json:"business_metrics"`
	QueryTemplates      []QueryTemplate  `json:"query_templates"`
	// TotalTablesSearched is the number of table hits scored before threshold filtering, or the
	// catalog size when the fallback ran.
	TotalTablesSearched int              `json:"total_tables_searched"`
	DegradedStages      []string         `json:"degraded_stages,omitempty"`
	FallbackUsed        bool             `json:"fallback_used"`
}

// TableNames lists the relevant tables in rank order.
func (rc *RetrievalContext) TableNames() []string {
	names := make([]string, 0, len(rc.RelevantTables))
	for _, t := range rc.RelevantTables {
		names = append(names, t.Table.Name)
	}
	return names
}
