// internal/models/query_spec.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// QuerySpec is the declarative description of a visual-builder or report query.
type QuerySpec struct {
	DatabaseAlias string                 `json:"database_alias,omitempty"`
	Tables        []string               `json:"tables"`
	Fields        []FieldRef             `json:"fields"`
	Joins         []JoinSpec             `json:"joins,omitempty"`
	Filters       []FilterSpec           `json:"filters,omitempty"`
	Grouping      []string               `json:"grouping,omitempty"`
	Sorting       []SortSpec             `json:"sorting,omitempty"`
	Limit         *int                   `json:"limit,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

// MainTable returns tables[0], or "" for a table-less spec.
func (s *QuerySpec) MainTable() string {
	if len(s.Tables) == 0 {
		return ""
	}
	return s.Tables[0]
}

// HasStructuredJoins reports whether any join uses the left/right form.
func (s *QuerySpec) HasStructuredJoins() bool {
	for _, j := range s.Joins {
		if j.IsStructured() {
			return true
		}
	}
	return false
}

// FieldRef is one selected column. It decodes from either an object or the "table.field" string form.
type FieldRef struct {
	Table       string `json:"table,omitempty"`
	Field       string `json:"field"`
	Alias       string `json:"alias,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
}

// Qualified renders table.field, or the bare field when unbound.
func (f FieldRef) Qualified() string {
	if f.Table == "" {
		return f.Field
	}
	return f.Table + "." + f.Field
}

func (f FieldRef) IsAggregated() bool {
	return f.Aggregation != ""
}

func (f *FieldRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = ParseFieldString(s)
		return nil
	}

	type plain FieldRef
	var p plain
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("field: %w", err)
	}
	*f = FieldRef(p)
	return nil
}

// ParseFieldString splits "table.field" at the first dot; a string without a dot is a bare field.
func ParseFieldString(s string) FieldRef {
	s = strings.TrimSpace(s)
	if table, field, ok := strings.Cut(s, "."); ok {
		return FieldRef{Table: table, Field: field}
	}
	return FieldRef{Field: s}
}

// JoinSpec carries either the structured form (left/right table and field) or the legacy form
// (table + raw condition). Entries missing parts of both are reported by the validator.
type JoinSpec struct {
	LeftTable  string `json:"left_table,omitempty"`
	RightTable string `json:"right_table,omitempty"`
	LeftField  string `json:"left_field,omitempty"`
	RightField string `json:"right_field,omitempty"`
	JoinType   string `json:"join_type,omitempty"`

	Table     string `json:"table,omitempty"`
	Condition string `json:"condition,omitempty"`
}

func (j JoinSpec) IsStructured() bool {
	return j.LeftTable != "" || j.RightTable != "" || j.LeftField != "" || j.RightField != ""
}

func (j JoinSpec) IsLegacy() bool {
	return !j.IsStructured() && (j.Table != "" || j.Condition != "")
}

// Target is the table this join brings into scope.
func (j JoinSpec) Target() string {
	if j.IsStructured() {
		return j.RightTable
	}
	return j.Table
}

// Complete reports whether every part of the join's form is present.
func (j JoinSpec) Complete() bool {
	if j.IsStructured() {
		return j.LeftTable != "" && j.RightTable != "" && j.LeftField != "" && j.RightField != ""
	}
	return j.Table != "" && j.Condition != ""
}

// OnClause renders the join predicate.
func (j JoinSpec) OnClause() string {
	if j.IsStructured() {
		return fmt.Sprintf("%s.%s = %s.%s", j.LeftTable, j.LeftField, j.RightTable, j.RightField)
	}
	return j.Condition
}

// NormalizedType returns the upper-cased join type, INNER when unset.
func (j JoinSpec) NormalizedType() string {
	t := strings.ToUpper(strings.TrimSpace(j.JoinType))
	t = strings.TrimSuffix(t, " JOIN")
	if t == "" {
		return "INNER"
	}
	return t
}

// FilterSpec is one WHERE predicate. A non-empty Condition is used verbatim.
type FilterSpec struct {
	Field     string      `json:"field,omitempty"`
	Operator  string      `json:"operator,omitempty"`
	Value     interface{} `json:"value,omitempty"`
	Condition string      `json:"condition,omitempty"`
}

// SortSpec decodes from {field, direction} or a bare field string.
type SortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

func (s *SortSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &s.Field)
	}

	type plain SortSpec
	var p plain
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("sorting: %w", err)
	}
	*s = SortSpec(p)
	return nil
}

// NormalizedDirection returns ASC or DESC.
func (s SortSpec) NormalizedDirection() string {
	if strings.EqualFold(strings.TrimSpace(s.Direction), "desc") {
		return "DESC"
	}
	return "ASC"
}
