package models

// QueryType classifies generated SQL as reported by the completion service.
type QueryType string

const (
	QueryTypeSelect      QueryType = "select"
	QueryTypeAggregation QueryType = "aggregation"
	QueryTypeJoin        QueryType = "join"
	QueryTypeTimeSeries  QueryType = "time_series"
	QueryTypeRanking     QueryType = "ranking"
	QueryTypeUnknown     QueryType = "unknown"
)

var knownQueryTypes = map[QueryType]bool{
	QueryTypeSelect:      true,
	QueryTypeAggregation: true,
	QueryTypeJoin:        true,
	QueryTypeTimeSeries:  true,
	QueryTypeRanking:     true,
}

// NormalizeQueryType maps anything outside the known set to QueryTypeUnknown.
func NormalizeQueryType(s string) QueryType {
	if qt := QueryType(s); knownQueryTypes[qt] {
		return qt
	}
	return QueryTypeUnknown
}

// NLQueryRequest is the inbound text-to-SQL request.
type NLQueryRequest struct {
	Question      string `json:"question"`
	DatabaseAlias string `json:"database_alias"`
	ThreadID      string `json:"thread_id,omitempty"`
	SampleSize    int    `json:"sample_size,omitempty"`
}

// SQLGeneration is the structured answer expected from the completion service.
type SQLGeneration struct {
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	TablesUsed  []string `json:"tables_used"`
	ColumnsUsed []string `json:"columns_used"`
	Reasoning   string   `json:"reasoning"`
	QueryType   string   `json:"query_type"`
}

type NLQueryResponse struct {
	SQLGeneration
	ThreadID string `json:"thread_id"`
}

// VisualQueryResponse is the result of executing a compiled visual query.
type VisualQueryResponse struct {
	SQL             string                   `json:"sql"`
	Columns         []string                 `json:"columns"`
	Data            []map[string]interface{} `json:"data"`
	TotalRows       int                      `json:"total_rows"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
	Cached          bool                     `json:"cached"`
}
