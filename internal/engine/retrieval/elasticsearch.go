package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchStore runs approximate kNN searches against dense_vector indices. The vector field is
// "embedding"; every other source field is returned as payload.
type ElasticsearchStore struct {
	client *elasticsearch.Client
	prefix string
}

func NewElasticsearchStore(client *elasticsearch.Client, indexPrefix string) *ElasticsearchStore {
	return &ElasticsearchStore{client: client, prefix: indexPrefix}
}

type knnSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchStore) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	body, err := json.Marshal(buildKNNQuery(req))
	if err != nil {
		return nil, fmt.Errorf("encode knn query: %w", err)
	}

	size := req.TopK
	searchReq := esapi.SearchRequest{
		Index: []string{s.prefix + req.Collection},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}

	res, err := searchReq.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch knn %s: %w", req.Collection, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch knn %s failed: %s", req.Collection, res.String())
	}

	var decoded knnSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Payload: h.Source})
	}
	return hits, nil
}

func buildKNNQuery(req SearchRequest) map[string]interface{} {
	aliasTerm := map[string]interface{}{
		"term": map[string]interface{}{"db_alias": req.DBAlias},
	}

	filter := aliasTerm
	if req.IncludeGlobal {
		filter = map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					aliasTerm,
					map[string]interface{}{
						"bool": map[string]interface{}{
							"must_not": map[string]interface{}{
								"exists": map[string]interface{}{"field": "db_alias"},
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		}
	}

	return map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   req.Vector,
			"k":              req.TopK,
			"num_candidates": req.TopK * 10,
			"filter":         filter,
		},
		"_source": map[string]interface{}{
			"excludes": []string{"embedding"},
		},
	}
}
