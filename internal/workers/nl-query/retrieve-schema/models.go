// internal/workers/nl-query/retrieve-schema/models.go
package retrieveschema

import "nlsql-workers/internal/models"

type Input struct {
	Question            string   `json:"question"`
	DatabaseAlias       string   `json:"database_alias"`
	MaxTables           int      `json:"max_tables,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxContextChars     *int     `json:"max_context_chars,omitempty"`
}

type Output struct {
	SchemaContext       string                `json:"schema_context"`
	RelevantTables      []models.TableContext `json:"relevant_tables"`
	DegradedStages      []string              `json:"degraded_stages"`
	FallbackUsed        bool                  `json:"fallback_used"`
	TotalTablesSearched int                   `json:"total_tables_searched"`
	ContextTruncated    bool                  `json:"context_truncated"`
	OmittedTables       []string              `json:"omitted_tables,omitempty"`
}
