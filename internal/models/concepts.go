package models

import "time"

// ConceptBundle is the structured reading of a natural-language question.
type ConceptBundle struct {
	Metrics            []string          `json:"metrics"`
	Dimensions         []string          `json:"dimensions"`
	Aggregations       []string          `json:"aggregations"`
	TimePeriods        []TimePeriod      `json:"time_periods"`
	Comparisons        []Comparison      `json:"comparisons"`
	Filters            []ConceptFilter   `json:"filters"`
	Limit              *int              `json:"limit,omitempty"`
	OrderBy            string            `json:"order_by,omitempty"`
	MappedTerms        map[string]string `json:"mapped_terms"`
	Intent             Intent            `json:"intent"`
	NormalizedQuestion string            `json:"normalized_question"`
}

// TimePeriod is a named or literal time window resolved to concrete dates.
type TimePeriod struct {
	Type    string    `json:"type"`
	Matched string    `json:"matched"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

type Comparison struct {
	Type    string    `json:"type"`
	Matched string    `json:"matched"`
	Values  []float64 `json:"values,omitempty"`
}

// ConceptFilter is a loosely extracted predicate. Field is empty for "for X" / "in X" forms.
type ConceptFilter struct {
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
	Value string `json:"value"`
}

type Intent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)
