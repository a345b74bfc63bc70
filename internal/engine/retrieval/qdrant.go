package retrieval

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
)

// QdrantStore searches Qdrant collections over gRPC. Each point carries a keyword db_alias payload.
type QdrantStore struct {
	client *pb.Client
	prefix string
}

func NewQdrantStore(client *pb.Client, collectionPrefix string) *QdrantStore {
	return &QdrantStore{client: client, prefix: collectionPrefix}
}

func (s *QdrantStore) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	limit := uint64(req.TopK)
	points, err := s.client.Query(ctx, &pb.QueryPoints{
		CollectionName: s.prefix + req.Collection,
		Query:          pb.NewQuery(req.Vector...),
		WithPayload:    pb.NewWithPayload(true),
		Limit:          &limit,
		Filter:         aliasFilter(req.DBAlias, req.IncludeGlobal),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w", req.Collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      pointID(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: convertPayload(p.GetPayload()),
		})
	}
	return hits, nil
}

func aliasFilter(dbAlias string, includeGlobal bool) *pb.Filter {
	match := &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: "db_alias",
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: dbAlias},
				},
			},
		},
	}
	if !includeGlobal {
		return &pb.Filter{Must: []*pb.Condition{match}}
	}

	global := &pb.Condition{
		ConditionOneOf: &pb.Condition_IsNull{
			IsNull: &pb.IsNullCondition{Key: "db_alias"},
		},
	}
	return &pb.Filter{Should: []*pb.Condition{match, global}}
}

func pointID(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func convertPayload(payload map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(value *pb.Value) interface{} {
	if value == nil {
		return nil
	}
	switch v := value.GetKind().(type) {
	case *pb.Value_NullValue:
		return nil
	case *pb.Value_DoubleValue:
		return v.DoubleValue
	case *pb.Value_IntegerValue:
		return v.IntegerValue
	case *pb.Value_StringValue:
		return v.StringValue
	case *pb.Value_BoolValue:
		return v.BoolValue
	case *pb.Value_StructValue:
		return convertPayload(v.StructValue.GetFields())
	case *pb.Value_ListValue:
		list := make([]interface{}, 0, len(v.ListValue.GetValues()))
		for _, item := range v.ListValue.GetValues() {
			list = append(list, convertValue(item))
		}
		return list
	}
	return nil
}
