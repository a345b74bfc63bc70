package models

// ValidationResult is the outcome of validating one QuerySpec. It is built once and not mutated afterwards.
type ValidationResult struct {
	IsValid          bool          `json:"is_valid"`
	Errors           []string      `json:"errors"`
	Warnings         []string      `json:"warnings"`
	MainTable        string        `json:"main_table"`
	ReferencedTables []string      `json:"referenced_tables"`
	MissingJoins     []string      `json:"missing_joins"`
	ExplicitJoins    []string      `json:"explicit_joins"`
	InvalidJoins     []InvalidJoin `json:"invalid_joins,omitempty"`
}

// InvalidJoin records a malformed join entry by position.
type InvalidJoin struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// AutoJoinTables returns the missing joins the compiler may synthesize. They are only
// eligible when the result is valid, which means they were reported as warnings.
func (r *ValidationResult) AutoJoinTables() []string {
	if r == nil || !r.IsValid {
		return nil
	}
	return r.MissingJoins
}
