// internal/workers/nl-query/extract-concepts/models.go
package extractconcepts

import "nlsql-workers/internal/models"

type Input struct {
	Question      string `json:"question"`
	DatabaseAlias string `json:"database_alias"`
	ThreadID      string `json:"thread_id,omitempty"`
}

type Output struct {
	Concepts           models.ConceptBundle `json:"concepts"`
	NormalizedQuestion string               `json:"normalized_question"`
	ThreadID           string               `json:"thread_id"`
}
