package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
)

func TestParseQuerySpec_AcceptsBothFieldForms(t *testing.T) {
	doc := `{
		"tables": ["orders", "customers"],
		"fields": [
			{"table": "orders", "field": "amount", "aggregation": "SUM", "alias": "total"},
			"customers.region"
		],
		"joins": [
			{"left_table": "orders", "right_table": "customers", "left_field": "customer_id", "right_field": "id", "join_type": "left"}
		],
		"filters": [{"field": "orders.status", "operator": "in", "value": ["paid", "shipped"]}],
		"sorting": ["total", {"field": "customers.region", "direction": "desc"}],
		"limit": 25
	}`

	spec, err := ParseQuerySpec([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "orders", spec.MainTable())
	require.Len(t, spec.Fields, 2)
	assert.Equal(t, FieldRef{Table: "orders", Field: "amount", Alias: "total", Aggregation: "SUM"}, spec.Fields[0])
	assert.Equal(t, FieldRef{Table: "customers", Field: "region"}, spec.Fields[1])
	assert.True(t, spec.HasStructuredJoins())
	assert.Equal(t, "LEFT", spec.Joins[0].NormalizedType())
	assert.Equal(t, "customers", spec.Joins[0].Target())
	assert.Equal(t, "DESC", spec.Sorting[1].NormalizedDirection())
	assert.Equal(t, "ASC", spec.Sorting[0].NormalizedDirection())
	require.NotNil(t, spec.Limit)
	assert.Equal(t, 25, *spec.Limit)
}

func TestParseQuerySpec_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "unknown top-level key",
			doc:     `{"tables": ["orders"], "fields": ["orders.id"], "having": "x"}`,
			wantMsg: "having",
		},
		{
			name:    "field object with unknown key",
			doc:     `{"tables": ["orders"], "fields": [{"field": "id", "expr": "1"}]}`,
			wantMsg: "fields",
		},
		{
			name:    "injection in table name",
			doc:     `{"tables": ["orders; DROP TABLE x"], "fields": ["orders.id"]}`,
			wantMsg: "tables[0]",
		},
		{
			name:    "unsupported aggregation",
			doc:     `{"tables": ["orders"], "fields": [{"table": "orders", "field": "amount", "aggregation": "MEDIAN"}]}`,
			wantMsg: "unsupported aggregation",
		},
		{
			name:    "unsupported operator",
			doc:     `{"tables": ["orders"], "fields": ["orders.id"], "filters": [{"field": "orders.id", "operator": "~*", "value": 1}]}`,
			wantMsg: "unsupported operator",
		},
		{
			name:    "non integer limit",
			doc:     `{"tables": ["orders"], "fields": ["orders.id"], "limit": 2.5}`,
			wantMsg: "limit",
		},
		{
			name:    "bad join type",
			doc:     `{"tables": ["a"], "fields": ["a.id"], "joins": [{"table": "b", "condition": "a.id = b.a_id", "join_type": "SIDEWAYS"}]}`,
			wantMsg: "join_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuerySpec([]byte(tt.doc))
			require.Error(t, err)

			stdErr, ok := errors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeInvalidQuerySpec, stdErr.Code)
			assert.Contains(t, stdErr.Error()+" "+stdErr.Details, tt.wantMsg)
		})
	}
}

func TestJoinSpec_Forms(t *testing.T) {
	tests := []struct {
		name       string
		join       JoinSpec
		structured bool
		legacy     bool
		complete   bool
		target     string
		on         string
	}{
		{
			name:       "structured",
			join:       JoinSpec{LeftTable: "orders", RightTable: "customers", LeftField: "customer_id", RightField: "id"},
			structured: true,
			complete:   true,
			target:     "customers",
			on:         "orders.customer_id = customers.id",
		},
		{
			name:     "legacy",
			join:     JoinSpec{Table: "customers", Condition: "orders.customer_id = customers.id"},
			legacy:   true,
			complete: true,
			target:   "customers",
			on:       "orders.customer_id = customers.id",
		},
		{
			name:       "structured missing field",
			join:       JoinSpec{LeftTable: "orders", RightTable: "customers"},
			structured: true,
			target:     "customers",
			on:         "orders. = customers.",
		},
		{
			name:   "legacy missing condition",
			join:   JoinSpec{Table: "customers"},
			legacy: true,
			target: "customers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.structured, tt.join.IsStructured())
			assert.Equal(t, tt.legacy, tt.join.IsLegacy())
			assert.Equal(t, tt.complete, tt.join.Complete())
			assert.Equal(t, tt.target, tt.join.Target())
			assert.Equal(t, tt.on, tt.join.OnClause())
		})
	}
}

func TestNormalizeQueryType(t *testing.T) {
	tests := []struct {
		in   string
		want QueryType
	}{
		{"select", QueryTypeSelect},
		{"aggregation", QueryTypeAggregation},
		{"join", QueryTypeJoin},
		{"time_series", QueryTypeTimeSeries},
		{"ranking", QueryTypeRanking},
		{"pivot", QueryTypeUnknown},
		{"", QueryTypeUnknown},
		{"unknown", QueryTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQueryType(tt.in))
		})
	}
}
