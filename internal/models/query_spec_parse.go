package models

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/validation"
)

//go:embed query_spec.schema.json
var querySpecSchemaJSON []byte

var (
	querySpecSchema     *validation.Schema
	querySpecSchemaErr  error
	querySpecSchemaOnce sync.Once

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// AllowedAggregations is the set of aggregation functions a field may carry.
var AllowedAggregations = map[string]bool{
	"SUM":            true,
	"AVG":            true,
	"COUNT":          true,
	"MIN":            true,
	"MAX":            true,
	"COUNT_DISTINCT": true,
}

// AllowedOperators is the set of structured filter operators.
var AllowedOperators = map[string]bool{
	"=":           true,
	"!=":          true,
	"<>":          true,
	">":           true,
	">=":          true,
	"<":           true,
	"<=":          true,
	"IN":          true,
	"NOT IN":      true,
	"LIKE":        true,
	"ILIKE":       true,
	"NOT LIKE":    true,
	"BETWEEN":     true,
	"IS NULL":     true,
	"IS NOT NULL": true,
}

var allowedJoinTypes = map[string]bool{
	"INNER": true,
	"LEFT":  true,
	"RIGHT": true,
	"FULL":  true,
	"CROSS": true,
}

// IsIdentifier reports whether s is a plain SQL identifier.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// NormalizeOperator upper-cases and collapses whitespace.
func NormalizeOperator(op string) string {
	return strings.Join(strings.Fields(strings.ToUpper(op)), " ")
}

func compiledQuerySpecSchema() (*validation.Schema, error) {
	querySpecSchemaOnce.Do(func() {
		querySpecSchema, querySpecSchemaErr = validation.CompileJSON(querySpecSchemaJSON)
	})
	return querySpecSchema, querySpecSchemaErr
}

// ParseQuerySpec is the strict constructor for QuerySpec. It rejects unknown keys, wrong shapes,
// non-identifier names and unsupported aggregations/operators, reporting every problem at once.
func ParseQuerySpec(data []byte) (*QuerySpec, error) {
	schema, err := compiledQuerySpecSchema()
	if err != nil {
		return nil, fmt.Errorf("query spec schema: %w", err)
	}

	res, err := schema.ValidateBytes(data)
	if err != nil {
		return nil, errors.NewInvalidQuerySpecError([]string{err.Error()})
	}
	if !res.Valid {
		return nil, errors.NewInvalidQuerySpecError(res.Messages())
	}

	var spec QuerySpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.NewInvalidQuerySpecError([]string{err.Error()})
	}

	if problems := spec.Check(); len(problems) > 0 {
		return nil, errors.NewInvalidQuerySpecError(problems)
	}
	return &spec, nil
}

// Check runs the semantic checks the schema cannot express. An empty result means the spec is well formed;
// whether its tables and joins line up is the validator's job.
func (s *QuerySpec) Check() []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if s.DatabaseAlias != "" && !IsIdentifier(s.DatabaseAlias) {
		add("database_alias: %q is not a valid identifier", s.DatabaseAlias)
	}
	for i, t := range s.Tables {
		if !IsIdentifier(t) {
			add("tables[%d]: %q is not a valid identifier", i, t)
		}
	}

	for i, f := range s.Fields {
		if f.Table != "" && !IsIdentifier(f.Table) {
			add("fields[%d].table: %q is not a valid identifier", i, f.Table)
		}
		if f.Field != "*" && !IsIdentifier(f.Field) {
			add("fields[%d].field: %q is not a valid identifier", i, f.Field)
		}
		if f.Alias != "" && !IsIdentifier(f.Alias) {
			add("fields[%d].alias: %q is not a valid identifier", i, f.Alias)
		}
		if f.Aggregation != "" && !AllowedAggregations[strings.ToUpper(f.Aggregation)] {
			add("fields[%d].aggregation: unsupported aggregation %q", i, f.Aggregation)
		}
		if f.Field == "*" && f.Aggregation != "" && !strings.EqualFold(f.Aggregation, "COUNT") {
			add("fields[%d]: only COUNT may aggregate *", i)
		}
	}

	for i, j := range s.Joins {
		for name, v := range map[string]string{
			"left_table":  j.LeftTable,
			"right_table": j.RightTable,
			"left_field":  j.LeftField,
			"right_field": j.RightField,
			"table":       j.Table,
		} {
			if v != "" && !IsIdentifier(v) {
				add("joins[%d].%s: %q is not a valid identifier", i, name, v)
			}
		}
		if j.JoinType != "" && !allowedJoinTypes[j.NormalizedType()] {
			add("joins[%d].join_type: unsupported join type %q", i, j.JoinType)
		}
	}

	for i, f := range s.Filters {
		if f.Condition != "" {
			continue
		}
		if f.Field == "" {
			add("filters[%d]: either condition or field is required", i)
			continue
		}
		ref := ParseFieldString(f.Field)
		if (ref.Table != "" && !IsIdentifier(ref.Table)) || !IsIdentifier(ref.Field) {
			add("filters[%d].field: %q is not a valid column reference", i, f.Field)
		}
		op := NormalizeOperator(f.Operator)
		if op == "" {
			op = "="
		}
		if !AllowedOperators[op] {
			add("filters[%d].operator: unsupported operator %q", i, f.Operator)
		}
	}

	for i, g := range s.Grouping {
		ref := ParseFieldString(g)
		if (ref.Table != "" && !IsIdentifier(ref.Table)) || !IsIdentifier(ref.Field) {
			add("grouping[%d]: %q is not a valid column reference", i, g)
		}
	}

	for i, o := range s.Sorting {
		if IsIdentifier(o.Field) || isOrdinal(o.Field) {
			continue
		}
		ref := ParseFieldString(o.Field)
		if ref.Table == "" || !IsIdentifier(ref.Table) || !IsIdentifier(ref.Field) {
			add("sorting[%d]: %q is not a valid column reference", i, o.Field)
		}
	}

	for name := range s.Parameters {
		if !IsIdentifier(name) {
			add("parameters: %q is not a valid parameter name", name)
		}
	}

	// join fields are checked in map order
	sort.Strings(problems)
	return problems
}

func isOrdinal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
