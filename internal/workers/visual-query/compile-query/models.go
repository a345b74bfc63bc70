// internal/workers/visual-query/compile-query/models.go
package compilequery

import (
	"encoding/json"

	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/models"
)

type Input struct {
	QuerySpec  json.RawMessage        `json:"query_spec"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Output always carries the validation result. SQL is empty when the spec is invalid.
type Output struct {
	SQL           string                   `json:"sql"`
	Validation    *models.ValidationResult `json:"validation"`
	Warnings      []string                 `json:"warnings"`
	InferredJoins []compiler.InferredJoin  `json:"inferred_joins,omitempty"`
	Passthrough   bool                     `json:"passthrough"`
}
