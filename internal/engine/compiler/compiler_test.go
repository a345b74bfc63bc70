package compiler

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/validator"
	"nlsql-workers/internal/models"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	return New(Options{}, nil, logger.NewTestLogger(t))
}

func validate(t *testing.T, spec *models.QuerySpec) *models.ValidationResult {
	t.Helper()
	return validator.New(validator.Options{}, nil, logger.NewNoOpLogger()).Validate(context.Background(), spec)
}

func intPtr(i int) *int { return &i }

func mustParse(t *testing.T, doc string) *models.QuerySpec {
	t.Helper()
	spec, err := models.ParseQuerySpec([]byte(doc))
	require.NoError(t, err)
	return spec
}

// ==========================
// Golden SQL
// ==========================

func TestCompile_Golden(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{
			name: "orders_by_region",
			spec: `{
				"tables": ["orders"],
				"fields": [
					{"table": "orders", "field": "amount", "aggregation": "SUM", "alias": "total"},
					{"table": "orders", "field": "region"}
				]
			}`,
		},
		{
			name: "explicit_and_inferred_joins",
			spec: `{
				"tables": ["orders", "customers"],
				"fields": ["orders.id", "customers.name"],
				"joins": [{"table": "regions", "condition": "orders.region_id = regions.id", "join_type": "left"}],
				"filters": [
					{"field": "orders.status", "operator": "in", "value": ["paid", "shipped"]},
					{"condition": "orders.amount > 100 OR orders.vip"},
					{"field": "orders.created_at", "operator": "between", "value": ["2024-01-01", "2024-03-31"]}
				],
				"sorting": [{"field": "orders.id", "direction": "desc"}],
				"limit": 50
			}`,
		},
		{
			name: "passthrough",
			spec: `{
				"fields": [
					{"field": "category"},
					{"field": "revenue", "aggregation": "SUM", "alias": "total_revenue"}
				],
				"filters": [{"field": "region", "operator": "=", "value": "@region"}]
			}`,
		},
		{
			name: "count_distinct_with_params",
			spec: `{
				"tables": ["customers"],
				"fields": [
					{"table": "customers", "field": "id", "aggregation": "COUNT_DISTINCT", "alias": "customers"},
					{"table": "customers", "field": "country"}
				],
				"grouping": ["customers.country"],
				"filters": [
					{"field": "customers.signup_year", "operator": ">=", "value": "@since"},
					{"field": "customers.deleted_at", "operator": "is null"}
				],
				"sorting": ["customers"]
			}`,
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	c := newTestCompiler(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := mustParse(t, tt.spec)
			var vr *models.ValidationResult
			if len(spec.Tables) > 0 {
				vr = validate(t, spec)
				require.True(t, vr.IsValid, "errors: %v", vr.Errors)
			}

			q, err := c.Compile(context.Background(), spec, vr)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(q.SQL+"\n"))
		})
	}
}

func TestCompile_ExampleFromOrders(t *testing.T) {
	spec := &models.QuerySpec{
		Tables: []string{"orders"},
		Fields: []models.FieldRef{
			{Table: "orders", Field: "amount", Aggregation: "SUM", Alias: "total"},
			{Table: "orders", Field: "region"},
		},
	}

	q, err := newTestCompiler(t).Compile(context.Background(), spec, validate(t, spec))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT SUM(orders.amount) AS total, orders.region FROM orders GROUP BY orders.region ORDER BY 1 LIMIT 1000",
		q.SQL)
	assert.Empty(t, q.Warnings)
	assert.False(t, q.Passthrough)
}

func TestCompile_InferredJoinIsWarned(t *testing.T) {
	spec := &models.QuerySpec{
		Tables: []string{"orders", "customers"},
		Fields: []models.FieldRef{{Table: "orders", Field: "id"}, {Table: "customers", Field: "name"}},
	}

	q, err := newTestCompiler(t).Compile(context.Background(), spec, validate(t, spec))
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "LEFT JOIN customers ON orders.customer_id = customers.id")
	require.Len(t, q.InferredJoins, 1)
	assert.Equal(t, "naming_heuristic", q.InferredJoins[0].Strategy)
	require.Len(t, q.Warnings, 1)
	assert.Contains(t, q.Warnings[0], "customers")
}

func TestCompile_GroupingResolvesToSelectedColumns(t *testing.T) {
	amount := models.FieldRef{Table: "orders", Field: "amount", Aggregation: "SUM"}
	region := models.FieldRef{Table: "orders", Field: "region"}

	tests := []struct {
		name string
		spec *models.QuerySpec
		want string
	}{
		{
			name: "bare name matches selected field",
			spec: &models.QuerySpec{Tables: []string{"orders"}, Fields: []models.FieldRef{amount, region}, Grouping: []string{"region"}},
			want: "SELECT SUM(orders.amount), orders.region FROM orders GROUP BY orders.region ORDER BY 1 LIMIT 1000",
		},
		{
			name: "bare and qualified forms collapse",
			spec: &models.QuerySpec{Tables: []string{"orders"}, Fields: []models.FieldRef{amount, region}, Grouping: []string{"orders.region", "region"}},
			want: "SELECT SUM(orders.amount), orders.region FROM orders GROUP BY orders.region ORDER BY 1 LIMIT 1000",
		},
		{
			name: "alias resolves to its column",
			spec: &models.QuerySpec{
				Tables:   []string{"orders"},
				Fields:   []models.FieldRef{{Table: "orders", Field: "region", Alias: "area"}, amount},
				Grouping: []string{"area"},
			},
			want: "SELECT orders.region AS area, SUM(orders.amount) FROM orders GROUP BY orders.region ORDER BY 1 LIMIT 1000",
		},
		{
			name: "unselected name falls back to main table",
			spec: &models.QuerySpec{Tables: []string{"orders"}, Fields: []models.FieldRef{amount}, Grouping: []string{"status"}},
			want: "SELECT SUM(orders.amount) FROM orders GROUP BY orders.status ORDER BY 1 LIMIT 1000",
		},
		{
			name: "passthrough keeps bare names",
			spec: &models.QuerySpec{
				Fields:   []models.FieldRef{{Field: "category"}, {Field: "revenue", Aggregation: "SUM"}},
				Grouping: []string{"source.category", "category"},
			},
			want: "SELECT category, SUM(revenue) FROM ({{subquery}}) AS source GROUP BY category ORDER BY 1 LIMIT 1000",
		},
	}

	c := newTestCompiler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vr *models.ValidationResult
			if len(tt.spec.Tables) > 0 {
				vr = validate(t, tt.spec)
			}
			q, err := c.Compile(context.Background(), tt.spec, vr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.SQL)
			assert.Equal(t, 1, strings.Count(q.SQL, "GROUP BY"))
		})
	}
}

func TestCompile_Rejections(t *testing.T) {
	valid := &models.QuerySpec{Tables: []string{"orders"}, Fields: []models.FieldRef{{Table: "orders", Field: "id"}}}

	tests := []struct {
		name     string
		spec     *models.QuerySpec
		vr       *models.ValidationResult
		wantCode errors.ErrorCode
	}{
		{
			name:     "nil spec",
			wantCode: errors.ErrCodeCompileFailed,
		},
		{
			name:     "missing validation result",
			spec:     valid,
			wantCode: errors.ErrCodeValidationFailed,
		},
		{
			name:     "invalid validation result",
			spec:     valid,
			vr:       &models.ValidationResult{IsValid: false, Errors: []string{"boom"}},
			wantCode: errors.ErrCodeValidationFailed,
		},
		{
			name: "identifier injection",
			spec: &models.QuerySpec{
				Tables: []string{"orders"},
				Fields: []models.FieldRef{{Table: "orders", Field: "id) FROM secrets --"}},
			},
			vr:       &models.ValidationResult{IsValid: true, MainTable: "orders"},
			wantCode: errors.ErrCodeInvalidQuerySpec,
		},
		{
			name: "list with comparison operator",
			spec: &models.QuerySpec{
				Tables:  []string{"orders"},
				Fields:  []models.FieldRef{{Table: "orders", Field: "id"}},
				Filters: []models.FilterSpec{{Field: "orders.amount", Operator: ">", Value: []interface{}{1, 2}}},
			},
			vr:       &models.ValidationResult{IsValid: true, MainTable: "orders"},
			wantCode: errors.ErrCodeCompileFailed,
		},
	}

	c := newTestCompiler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), tt.spec, tt.vr)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestCompile_HeuristicDisabledFailsClosed(t *testing.T) {
	spec := &models.QuerySpec{
		Tables: []string{"orders", "customers"},
		Fields: []models.FieldRef{{Table: "orders", Field: "id"}, {Table: "customers", Field: "name"}},
	}
	log := logger.NewTestLogger(t)
	c := New(Options{}, NewJoinInferrer(log, DefaultStrategies(nil, nil, true)...), log)

	_, err := c.Compile(context.Background(), spec, validate(t, spec))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCompileFailed))
}

func TestCompile_LimitIsCappedBySafetyLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *int
		want  string
	}{
		{name: "unset", want: "LIMIT 1000"},
		{name: "below cap", limit: intPtr(25), want: "LIMIT 25"},
		{name: "above cap", limit: intPtr(50000), want: "LIMIT 1000"},
	}

	c := newTestCompiler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &models.QuerySpec{
				Tables: []string{"orders"},
				Fields: []models.FieldRef{{Table: "orders", Field: "id"}},
				Limit:  tt.limit,
			}
			q, err := c.Compile(context.Background(), spec, validate(t, spec))
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(q.SQL, tt.want), q.SQL)
		})
	}
}

func TestExpandSubquery(t *testing.T) {
	sql := "SELECT a FROM (" + SubqueryPlaceholder + ") AS source LIMIT 1000"
	got := ExpandSubquery(sql, "  SELECT a FROM t;  ")
	assert.Equal(t, "SELECT a FROM (SELECT a FROM t) AS source LIMIT 1000", got)
}

// ==========================
// Properties
// ==========================

var columnPool = []string{"id", "amount", "region", "status", "created_at", "quantity", "price", "country"}

func randomSingleTableSpec(r *rand.Rand, table string) *models.QuerySpec {
	n := 1 + r.Intn(len(columnPool))
	perm := r.Perm(len(columnPool))[:n]
	aggs := []string{"", "", "SUM", "AVG", "COUNT", "MIN", "MAX", "COUNT_DISTINCT"}

	spec := &models.QuerySpec{Tables: []string{table}}
	for _, idx := range perm {
		spec.Fields = append(spec.Fields, models.FieldRef{
			Table:       table,
			Field:       columnPool[idx],
			Aggregation: aggs[r.Intn(len(aggs))],
		})
	}
	return spec
}

func TestCompile_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	c := New(Options{}, nil, logger.NewNoOpLogger())
	tables := []string{"orders", "customers", "line_items"}

	for i := 0; i < 200; i++ {
		table := tables[i%len(tables)]
		spec := randomSingleTableSpec(r, table)
		vr := validate(t, spec)
		require.True(t, vr.IsValid)

		first, err := c.Compile(context.Background(), spec, vr)
		require.NoError(t, err)
		second, err := c.Compile(context.Background(), spec, vr)
		require.NoError(t, err)

		// determinism
		require.Equal(t, first.SQL, second.SQL)

		// single table, no joins
		assert.Equal(t, 1, strings.Count(first.SQL, "FROM "+table), first.SQL)
		assert.NotContains(t, first.SQL, " JOIN ", first.SQL)

		// auto GROUP BY
		hasAgg, hasPlain := false, false
		for _, f := range spec.Fields {
			if f.IsAggregated() {
				hasAgg = true
			} else {
				hasPlain = true
			}
		}
		if hasAgg && hasPlain {
			groupItems := groupByItems(t, first.SQL)
			for _, f := range spec.Fields {
				if f.IsAggregated() {
					continue
				}
				assert.Equal(t, 1, countItem(groupItems, f.Qualified()),
					"field %s in %s", f.Qualified(), first.SQL)
			}
		} else {
			assert.NotContains(t, first.SQL, "GROUP BY")
		}
	}
}

var groupByPattern = regexp.MustCompile(`GROUP BY (.*?) (ORDER BY|LIMIT)`)

func groupByItems(t *testing.T, sql string) []string {
	t.Helper()
	m := groupByPattern.FindStringSubmatch(sql)
	require.Len(t, m, 3, fmt.Sprintf("no GROUP BY in %s", sql))
	return strings.Split(m[1], ", ")
}

func countItem(items []string, v string) int {
	n := 0
	for _, i := range items {
		if i == v {
			n++
		}
	}
	return n
}
