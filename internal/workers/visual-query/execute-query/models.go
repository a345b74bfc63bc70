package executequery

import "nlsql-workers/internal/models"

type Input struct {
	SQL           string                 `json:"sql"`
	DatabaseAlias string                 `json:"database_alias"`
	SourceSQL     string                 `json:"source_sql,omitempty"`
	ComponentID   string                 `json:"component_id,omitempty"`
	Filters       map[string]interface{} `json:"filters,omitempty"`
	SkipCache     bool                   `json:"skip_cache,omitempty"`
}

type Output struct {
	models.VisualQueryResponse
	Truncated bool `json:"truncated"`
}
