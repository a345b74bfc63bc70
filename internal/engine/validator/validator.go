// Package validator checks a QuerySpec for missing tables, fields and joins before compilation.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/models"
)

// DefaultMaxAutoJoins is the largest number of joins the compiler may synthesize for a legacy spec.
const DefaultMaxAutoJoins = 3

// ConnectionChecker reports whether a datasource alias is registered and reachable.
type ConnectionChecker interface {
	ConnectionExists(ctx context.Context, alias string) (bool, error)
}

type Options struct {
	MaxAutoJoins int
}

type Validator struct {
	opts    Options
	checker ConnectionChecker
	log     logger.Logger
}

// New builds a Validator. checker may be nil, in which case the connection check is skipped.
func New(opts Options, checker ConnectionChecker, log logger.Logger) *Validator {
	if opts.MaxAutoJoins <= 0 {
		opts.MaxAutoJoins = DefaultMaxAutoJoins
	}
	return &Validator{opts: opts, checker: checker, log: log}
}

// Validate produces a fresh ValidationResult for spec.
func (v *Validator) Validate(ctx context.Context, spec *models.QuerySpec) *models.ValidationResult {
	res := &models.ValidationResult{
		Errors:           []string{},
		Warnings:         []string{},
		ReferencedTables: []string{},
		MissingJoins:     []string{},
		ExplicitJoins:    []string{},
	}

	if spec == nil {
		res.Errors = append(res.Errors, "query spec is required")
		return res
	}
	if len(spec.Tables) == 0 {
		res.Errors = append(res.Errors, "at least one table is required")
	}
	if len(spec.Fields) == 0 {
		res.Errors = append(res.Errors, "at least one field is required")
	}
	if len(res.Errors) > 0 {
		return res
	}

	res.MainTable = spec.MainTable()

	referenced := newOrderedSet()
	for i, f := range spec.Fields {
		if f.Field == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("fields[%d]: field name is required", i))
			continue
		}
		if f.Table != "" {
			referenced.add(f.Table)
		}
	}
	res.ReferencedTables = referenced.items()

	explicit := newOrderedSet()
	for i, j := range spec.Joins {
		if !j.Complete() {
			res.InvalidJoins = append(res.InvalidJoins, models.InvalidJoin{Index: i, Reason: invalidJoinReason(j)})
			res.Errors = append(res.Errors, fmt.Sprintf("joins[%d]: %s", i, invalidJoinReason(j)))
			continue
		}
		explicit.add(j.Target())
	}
	res.ExplicitJoins = explicit.items()

	listed := newOrderedSet()
	for _, t := range spec.Tables {
		listed.add(t)
	}

	var unknown []string
	for _, t := range res.ReferencedTables {
		switch {
		case t == res.MainTable || explicit.has(t):
		case !listed.has(t):
			unknown = append(unknown, t)
		default:
			res.MissingJoins = append(res.MissingJoins, t)
		}
	}
	if len(unknown) > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"fields reference tables not listed in tables or joins: %s", strings.Join(unknown, ", ")))
	}

	if len(res.MissingJoins) > 0 {
		missing := strings.Join(res.MissingJoins, ", ")
		switch {
		case spec.HasStructuredJoins():
			res.Errors = append(res.Errors, fmt.Sprintf("missing explicit joins for tables: %s", missing))
		case len(res.MissingJoins) > v.opts.MaxAutoJoins:
			res.Errors = append(res.Errors, fmt.Sprintf(
				"too many tables without joins (%d > %d): %s", len(res.MissingJoins), v.opts.MaxAutoJoins, missing))
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("joins will be inferred automatically for tables: %s", missing))
		}
	}

	if spec.DatabaseAlias != "" && v.checker != nil {
		ok, err := v.checker.ConnectionExists(ctx, spec.DatabaseAlias)
		switch {
		case err != nil:
			v.log.Warn("Connection check failed", map[string]interface{}{
				"databaseAlias": spec.DatabaseAlias,
				"error":         err.Error(),
			})
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not verify database connection %q: %v", spec.DatabaseAlias, err))
		case !ok:
			res.Warnings = append(res.Warnings, fmt.Sprintf("database connection %q is not registered", spec.DatabaseAlias))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func invalidJoinReason(j models.JoinSpec) string {
	if j.IsStructured() {
		var missing []string
		for name, v := range map[string]string{
			"left_table":  j.LeftTable,
			"right_table": j.RightTable,
			"left_field":  j.LeftField,
			"right_field": j.RightField,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		return "missing " + strings.Join(missing, ", ")
	}
	switch {
	case j.Table == "" && j.Condition == "":
		return "missing table and condition"
	case j.Table == "":
		return "missing table"
	default:
		return "missing condition"
	}
}

type orderedSet struct {
	seen  map[string]bool
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) {
	if !s.seen[v] {
		s.seen[v] = true
		s.order = append(s.order, v)
	}
}

func (s *orderedSet) has(v string) bool { return s.seen[v] }

func (s *orderedSet) items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
