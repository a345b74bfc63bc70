// Package compiler turns a validated QuerySpec into SELECT-only SQL text.
//
// Clause order is fixed: SELECT, FROM, JOIN*, WHERE, GROUP BY, ORDER BY, LIMIT. The same spec and
// validation result always compile to byte-identical SQL.
package compiler

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/models"
)

const (
	// DefaultSafetyLimit caps every visual-builder query.
	DefaultSafetyLimit = 1000

	// SubqueryPlaceholder marks where a passthrough query's source query is spliced in.
	SubqueryPlaceholder = "{{subquery}}"

	passthroughAlias = "source"
)

var orPattern = regexp.MustCompile(`(?i)\bOR\b`)

type Options struct {
	SafetyLimit int
}

// CompiledQuery is the compiler's output. Warnings describe every synthesized join.
type CompiledQuery struct {
	SQL           string         `json:"sql"`
	Warnings      []string       `json:"warnings,omitempty"`
	InferredJoins []InferredJoin `json:"inferred_joins,omitempty"`
	Passthrough   bool           `json:"passthrough"`
}

type Compiler struct {
	opts  Options
	joins *JoinInferrer
	log   logger.Logger
}

// New builds a Compiler. A nil inferrer gets the default chain without catalogs.
func New(opts Options, joins *JoinInferrer, log logger.Logger) *Compiler {
	if opts.SafetyLimit <= 0 {
		opts.SafetyLimit = DefaultSafetyLimit
	}
	if joins == nil {
		joins = NewJoinInferrer(log, DefaultStrategies(nil, nil, false)...)
	}
	return &Compiler{opts: opts, joins: joins, log: log}
}

// Compile renders spec. A spec with fields but no tables compiles to a passthrough over
// SubqueryPlaceholder without consulting vr; any other spec requires a valid vr.
func (c *Compiler) Compile(ctx context.Context, spec *models.QuerySpec, vr *models.ValidationResult) (*CompiledQuery, error) {
	if spec == nil {
		metrics.QueryCompilations.WithLabelValues("failed").Inc()
		return nil, errors.NewCompileFailedError("query spec is required")
	}
	if problems := spec.Check(); len(problems) > 0 {
		metrics.QueryCompilations.WithLabelValues("invalid").Inc()
		return nil, errors.NewInvalidQuerySpecError(problems)
	}

	if len(spec.Tables) == 0 && len(spec.Fields) > 0 {
		q, err := c.compilePassthrough(spec)
		if err != nil {
			metrics.QueryCompilations.WithLabelValues("failed").Inc()
			return nil, err
		}
		metrics.QueryCompilations.WithLabelValues("passthrough").Inc()
		return q, nil
	}

	if vr == nil || !vr.IsValid {
		var errs []string
		if vr != nil {
			errs = vr.Errors
		}
		metrics.QueryCompilations.WithLabelValues("invalid").Inc()
		return nil, errors.NewValidationFailedError(errs)
	}

	q, err := c.compile(ctx, spec, vr)
	if err != nil {
		metrics.QueryCompilations.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.QueryCompilations.WithLabelValues("ok").Inc()
	return q, nil
}

func (c *Compiler) compile(ctx context.Context, spec *models.QuerySpec, vr *models.ValidationResult) (*CompiledQuery, error) {
	out := &CompiledQuery{}
	var sql strings.Builder

	sql.WriteString("SELECT ")
	sql.WriteString(renderSelect(spec.Fields, false))

	sql.WriteString(" FROM ")
	sql.WriteString(vr.MainTable)

	inScope := []string{vr.MainTable}
	for _, j := range spec.Joins {
		sql.WriteString(" ")
		sql.WriteString(renderJoin(j))
		inScope = appendUnique(inScope, j.Target())
	}

	for _, target := range vr.AutoJoinTables() {
		if contains(inScope, target) {
			continue
		}
		inferred, err := c.joins.Infer(ctx, JoinRequest{
			DBAlias: spec.DatabaseAlias,
			Target:  target,
			InScope: inScope,
			Spec:    spec,
		})
		if err != nil {
			return nil, errors.NewCompileFailedError(err.Error())
		}

		sql.WriteString(" ")
		sql.WriteString(renderJoin(inferred.Join))
		inScope = append(inScope, target)

		out.InferredJoins = append(out.InferredJoins, *inferred)
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"join to %s inferred by %s: %s", target, inferred.Strategy, inferred.Join.OnClause()))
		c.log.Warn("Synthesized join", map[string]interface{}{
			"target":    target,
			"strategy":  inferred.Strategy,
			"condition": inferred.Join.OnClause(),
		})
	}

	if err := c.writeTail(&sql, spec, false); err != nil {
		return nil, err
	}

	out.SQL = sql.String()
	return out, nil
}

func (c *Compiler) compilePassthrough(spec *models.QuerySpec) (*CompiledQuery, error) {
	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(renderSelect(spec.Fields, true))
	sql.WriteString(" FROM (" + SubqueryPlaceholder + ") AS " + passthroughAlias)

	if err := c.writeTail(&sql, spec, true); err != nil {
		return nil, err
	}

	q := &CompiledQuery{SQL: sql.String(), Passthrough: true}
	if len(spec.Joins) > 0 {
		q.Warnings = append(q.Warnings, "joins are ignored for queries without tables")
	}
	return q, nil
}

// writeTail appends WHERE, GROUP BY, ORDER BY and LIMIT.
func (c *Compiler) writeTail(sql *strings.Builder, spec *models.QuerySpec, bare bool) error {
	if len(spec.Filters) > 0 {
		conds := make([]string, 0, len(spec.Filters))
		for i, f := range spec.Filters {
			cond, err := renderFilter(f)
			if err != nil {
				return errors.NewCompileFailedError(fmt.Sprintf("filters[%d]: %v", i, err))
			}
			conds = append(conds, cond)
		}
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(conds, " AND "))
	}

	group := groupBy(spec, bare)
	if len(group) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(strings.Join(group, ", "))
	}

	switch {
	case len(spec.Sorting) > 0:
		parts := make([]string, 0, len(spec.Sorting))
		for _, s := range spec.Sorting {
			parts = append(parts, s.Field+" "+s.NormalizedDirection())
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(parts, ", "))
	case len(group) > 0:
		sql.WriteString(" ORDER BY 1")
	}

	sql.WriteString(" LIMIT ")
	sql.WriteString(strconv.Itoa(c.limit(spec)))
	return nil
}

func (c *Compiler) limit(spec *models.QuerySpec) int {
	if spec.Limit != nil && *spec.Limit > 0 && *spec.Limit < c.opts.SafetyLimit {
		return *spec.Limit
	}
	return c.opts.SafetyLimit
}

// ExpandSubquery splices the source query of a passthrough compilation into its placeholder.
func ExpandSubquery(sql, subquery string) string {
	sub := strings.TrimSpace(subquery)
	sub = strings.TrimSpace(strings.TrimSuffix(sub, ";"))
	return strings.Replace(sql, SubqueryPlaceholder, sub, 1)
}

func renderSelect(fields []models.FieldRef, bare bool) string {
	if len(fields) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, renderField(f, bare))
	}
	return strings.Join(parts, ", ")
}

func renderField(f models.FieldRef, bare bool) string {
	col := f.Qualified()
	if bare {
		col = f.Field
	}

	expr := col
	switch agg := strings.ToUpper(f.Aggregation); agg {
	case "":
	case "COUNT_DISTINCT":
		expr = "COUNT(DISTINCT " + col + ")"
	default:
		expr = agg + "(" + col + ")"
	}

	if f.Alias != "" {
		expr += " AS " + f.Alias
	}
	return expr
}

func renderJoin(j models.JoinSpec) string {
	typ := j.NormalizedType()
	if typ == "CROSS" {
		return "CROSS JOIN " + j.Target()
	}
	return typ + " JOIN " + j.Target() + " ON " + j.OnClause()
}

func renderFilter(f models.FilterSpec) (string, error) {
	if cond := strings.TrimSpace(f.Condition); cond != "" {
		if orPattern.MatchString(cond) {
			return "(" + cond + ")", nil
		}
		return cond, nil
	}

	op := models.NormalizeOperator(f.Operator)
	if op == "" {
		op = "="
	}

	switch op {
	case "IS NULL", "IS NOT NULL":
		return f.Field + " " + op, nil
	case "BETWEEN":
		return renderBetween(f)
	}

	if ref, ok := isParamRef(f.Value); ok {
		return f.Field + " " + op + " " + ref, nil
	}

	if f.Value == nil {
		switch op {
		case "=":
			return f.Field + " IS NULL", nil
		case "!=", "<>":
			return f.Field + " IS NOT NULL", nil
		}
		return "", fmt.Errorf("operator %s needs a value", op)
	}

	if isList(f.Value) {
		switch op {
		case "=", "IN":
			op = "IN"
		case "!=", "<>", "NOT IN":
			op = "NOT IN"
		default:
			return "", fmt.Errorf("operator %s does not accept a list", op)
		}
		lit, err := RenderLiteral(f.Value)
		if err != nil {
			return "", err
		}
		return f.Field + " " + op + " " + lit, nil
	}

	lit, err := RenderLiteral(f.Value)
	if err != nil {
		return "", err
	}
	if op == "IN" || op == "NOT IN" {
		lit = "(" + lit + ")"
	}
	return f.Field + " " + op + " " + lit, nil
}

func renderBetween(f models.FilterSpec) (string, error) {
	if !isList(f.Value) || reflect.ValueOf(f.Value).Len() != 2 {
		return "", fmt.Errorf("BETWEEN needs a two-element list")
	}
	rv := reflect.ValueOf(f.Value)
	lo, err := RenderLiteral(rv.Index(0).Interface())
	if err != nil {
		return "", err
	}
	hi, err := RenderLiteral(rv.Index(1).Interface())
	if err != nil {
		return "", err
	}
	return f.Field + " BETWEEN " + lo + " AND " + hi, nil
}

// groupBy returns explicit grouping plus, when aggregated and plain fields are mixed, every plain field.
// Entries are resolved to the selected column form first, so each column is grouped once.
func groupBy(spec *models.QuerySpec, bare bool) []string {
	var out []string
	for _, g := range spec.Grouping {
		out = appendUnique(out, groupColumn(g, spec, bare))
	}

	hasAgg, hasPlain := false, false
	for _, f := range spec.Fields {
		if f.IsAggregated() {
			hasAgg = true
		} else {
			hasPlain = true
		}
	}
	if !hasAgg || !hasPlain {
		return out
	}

	for _, f := range spec.Fields {
		if f.IsAggregated() || f.Field == "*" {
			continue
		}
		col := f.Qualified()
		if bare {
			col = f.Field
		}
		out = appendUnique(out, col)
	}
	return out
}

// groupColumn qualifies a bare grouping name with the table of the plain field it names (by column or
// alias), falling back to the main table.
func groupColumn(g string, spec *models.QuerySpec, bare bool) string {
	ref := models.ParseFieldString(g)
	if bare {
		return ref.Field
	}
	if ref.Table != "" {
		return ref.Qualified()
	}
	for _, f := range spec.Fields {
		if f.IsAggregated() || f.Table == "" {
			continue
		}
		if f.Field == ref.Field || f.Alias == ref.Field {
			return f.Qualified()
		}
	}
	if main := spec.MainTable(); main != "" {
		return main + "." + ref.Field
	}
	return ref.Field
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}
