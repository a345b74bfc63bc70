package llm

import (
	"fmt"
	"sort"
	"strings"

	"nlsql-workers/internal/models"
)

// PromptInput carries everything the SQL prompt is built from.
type PromptInput struct {
	Question      string
	Dialect       string
	SchemaContext string
	Concepts      *models.ConceptBundle
	SampleSize    int
}

// BuildPrompt renders the instruction prompt. The output is deterministic for a given input.
func BuildPrompt(in PromptInput) string {
	dialect := in.Dialect
	if dialect == "" {
		dialect = "PostgreSQL"
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("You are an expert %s analyst. Write one read-only SELECT statement that answers the question using ONLY the schema below.", dialect))
	parts = append(parts, fmt.Sprintf("\nQuestion: %s", strings.TrimSpace(in.Question)))

	if strings.TrimSpace(in.SchemaContext) != "" {
		parts = append(parts, "\nSchema:")
		parts = append(parts, in.SchemaContext)
	}

	if hints := conceptHints(in.Concepts); len(hints) > 0 {
		parts = append(parts, "\nHints extracted from the question:")
		parts = append(parts, hints...)
	}

	parts = append(parts, "\nRules:")
	parts = append(parts, "- Never modify data: no INSERT, UPDATE, DELETE, DROP, CREATE, ALTER or TRUNCATE")
	parts = append(parts, "- Use only tables and columns that appear in the schema")
	parts = append(parts, "- Qualify columns with their table name when more than one table is used")
	if in.SampleSize > 0 {
		parts = append(parts, fmt.Sprintf("- Unless the question asks for a specific number of rows, add LIMIT %d", in.SampleSize))
	}

	parts = append(parts, "\nRespond with a single JSON object and nothing else:")
	parts = append(parts, `{"sql": "...", "explanation": "...", "confidence": 0.0, "tables_used": [], "columns_used": [], "reasoning": "...", "query_type": "select|aggregation|join|time_series|ranking"}`)

	return strings.Join(parts, "\n")
}

func conceptHints(c *models.ConceptBundle) []string {
	if c == nil {
		return nil
	}

	var hints []string
	add := func(label string, values []string) {
		if len(values) > 0 {
			hints = append(hints, fmt.Sprintf("- %s: %s", label, strings.Join(values, ", ")))
		}
	}

	add("Metrics", c.Metrics)
	add("Dimensions", c.Dimensions)
	add("Aggregations", c.Aggregations)

	for _, p := range c.TimePeriods {
		hints = append(hints, fmt.Sprintf("- Time period %s: %s to %s",
			p.Type, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02")))
	}
	for _, f := range c.Filters {
		if f.Field != "" {
			hints = append(hints, fmt.Sprintf("- Filter: %s = %s", f.Field, f.Value))
		} else {
			hints = append(hints, fmt.Sprintf("- Filter (%s): %s", f.Kind, f.Value))
		}
	}
	if c.Limit != nil {
		hints = append(hints, fmt.Sprintf("- Limit: %d", *c.Limit))
	}
	if c.OrderBy != "" {
		hints = append(hints, fmt.Sprintf("- Order: %s", c.OrderBy))
	}

	if len(c.MappedTerms) > 0 {
		keys := make([]string, 0, len(c.MappedTerms))
		for k := range c.MappedTerms {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		terms := make([]string, 0, len(keys))
		for _, k := range keys {
			terms = append(terms, fmt.Sprintf("%s means %s", k, c.MappedTerms[k]))
		}
		add("Business terms", terms)
	}
	return hints
}
