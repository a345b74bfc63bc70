package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"nlsql-workers/internal/models"
)

// Collection names, before the configured prefix is applied.
const (
	CollectionEntities  = "business_entities"
	CollectionMetrics   = "business_metrics"
	CollectionTemplates = "query_templates"
	CollectionTables    = "schema_tables"
)

// SearchRequest is one top-K similarity lookup. With IncludeGlobal, points whose db_alias is
// null are candidates alongside the datasource's own points.
type SearchRequest struct {
	Collection    string
	Vector        []float32
	TopK          int
	DBAlias       string
	IncludeGlobal bool
}

// Hit is one scored point. Payload values are plain JSON-like Go values.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// VectorStore is the similarity search capability the retriever consumes.
type VectorStore interface {
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
}

func payloadString(p map[string]interface{}, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func payloadStrings(p map[string]interface{}, key string) []string {
	list, ok := p[key].([]interface{})
	if !ok {
		if ss, ok := p[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func payloadInt64(p map[string]interface{}, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func hitID(h Hit) string {
	if id := payloadString(h.Payload, "id"); id != "" {
		return id
	}
	return h.ID
}

func toEntity(h Hit) models.BusinessEntity {
	return models.BusinessEntity{
		ID:          hitID(h),
		Name:        payloadString(h.Payload, "name"),
		Description: payloadString(h.Payload, "description"),
		Tables:      payloadStrings(h.Payload, "tables"),
		Columns:     payloadStrings(h.Payload, "columns"),
		Score:       h.Score,
	}
}

func toMetric(h Hit) models.BusinessMetric {
	return models.BusinessMetric{
		ID:          hitID(h),
		Name:        payloadString(h.Payload, "name"),
		Description: payloadString(h.Payload, "description"),
		Formula:     payloadString(h.Payload, "formula"),
		Score:       h.Score,
	}
}

func toTemplate(h Hit) models.QueryTemplate {
	t := models.QueryTemplate{
		ID:          hitID(h),
		Name:        payloadString(h.Payload, "name"),
		Description: payloadString(h.Payload, "description"),
		SQL:         payloadString(h.Payload, "sql"),
		Score:       h.Score,
	}
	if alias, ok := h.Payload["db_alias"].(string); ok && alias != "" {
		t.DBAlias = &alias
	}
	return t
}

func toTable(h Hit, dbAlias string) models.TableMetadata {
	t := models.TableMetadata{
		ID:          payloadInt64(h.Payload, "table_id"),
		DBAlias:     payloadString(h.Payload, "db_alias"),
		Schema:      payloadString(h.Payload, "schema"),
		Name:        payloadString(h.Payload, "table_name"),
		Description: payloadString(h.Payload, "description"),
		RowCount:    payloadInt64(h.Payload, "row_count"),
		UsageCount:  payloadInt64(h.Payload, "usage_count"),
	}
	if t.DBAlias == "" {
		t.DBAlias = dbAlias
	}
	return t
}
