// internal/workers/nl-query/generate-sql/models.go
package generatesql

import "nlsql-workers/internal/models"

type Input struct {
	Question      string                `json:"question"`
	DatabaseAlias string                `json:"database_alias"`
	ThreadID      string                `json:"thread_id,omitempty"`
	SampleSize    int                   `json:"sample_size,omitempty"`
	SchemaContext string                `json:"schema_context"`
	Concepts      *models.ConceptBundle `json:"concepts,omitempty"`
}

type Output = models.NLQueryResponse
