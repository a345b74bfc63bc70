// Package assembler renders a RetrievalContext into the schema text handed to the language model.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"nlsql-workers/internal/models"
)

// Options bounds the rendered text. MaxChars <= 0 disables the budget.
type Options struct {
	MaxChars int
}

// Result is the rendered context. OmittedTables lists tables dropped to fit the budget, lowest score first.
type Result struct {
	Text          string   `json:"text"`
	Truncated     bool     `json:"truncated"`
	OmittedTables []string `json:"omitted_tables,omitempty"`
}

// parts is the mutable selection the budget loop trims.
type parts struct {
	entities  []models.BusinessEntity
	metrics   []models.BusinessMetric
	tables    []models.TableContext
	templates []models.QueryTemplate
}

// Assemble renders sections in fixed order: entities, metrics, tables, relationships, templates.
// When the text exceeds the budget, whole items are dropped from the end of each ranked list in this
// order: templates, tables (the top table is always kept), metrics, entities. Only if the remainder
// still does not fit is the text cut.
func Assemble(rc *models.RetrievalContext, opts Options) Result {
	if rc == nil {
		return Result{}
	}

	p := parts{
		entities:  sortedEntities(rc.BusinessEntities),
		metrics:   sortedMetrics(rc.BusinessMetrics),
		tables:    sortedTables(rc.RelevantTables),
		templates: sortedTemplates(rc.QueryTemplates),
	}

	text := render(p)
	if opts.MaxChars <= 0 || utf8.RuneCountInString(text) <= opts.MaxChars {
		return Result{Text: text}
	}

	res := Result{Truncated: true}
	for utf8.RuneCountInString(text) > opts.MaxChars && p.drop(&res) {
		text = render(p)
	}
	if utf8.RuneCountInString(text) > opts.MaxChars {
		text = cut(text, opts.MaxChars)
	}
	res.Text = text
	return res
}

// drop removes the next item in budget order and reports whether anything was removed.
func (p *parts) drop(res *Result) bool {
	switch {
	case len(p.templates) > 0:
		p.templates = p.templates[:len(p.templates)-1]
	case len(p.tables) > 1:
		last := p.tables[len(p.tables)-1]
		res.OmittedTables = append(res.OmittedTables, last.Table.QualifiedName())
		p.tables = p.tables[:len(p.tables)-1]
	case len(p.metrics) > 0:
		p.metrics = p.metrics[:len(p.metrics)-1]
	case len(p.entities) > 0:
		p.entities = p.entities[:len(p.entities)-1]
	default:
		return false
	}
	return true
}

func cut(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

func render(p parts) string {
	var sections []string
	if s := renderEntities(p.entities); s != "" {
		sections = append(sections, s)
	}
	if s := renderMetrics(p.metrics); s != "" {
		sections = append(sections, s)
	}
	if s := renderTables(p.tables); s != "" {
		sections = append(sections, s)
	}
	if s := renderRelationships(p.tables); s != "" {
		sections = append(sections, s)
	}
	if s := renderTemplates(p.templates); s != "" {
		sections = append(sections, s)
	}
	return strings.Join(sections, "\n\n")
}

func renderEntities(entities []models.BusinessEntity) string {
	if len(entities) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Business entities")
	for _, e := range entities {
		b.WriteString("\n- ")
		b.WriteString(e.Name)
		if e.Description != "" {
			b.WriteString(": ")
			b.WriteString(e.Description)
		}
		var refs []string
		if len(e.Tables) > 0 {
			refs = append(refs, "tables: "+strings.Join(e.Tables, ", "))
		}
		if len(e.Columns) > 0 {
			refs = append(refs, "columns: "+strings.Join(e.Columns, ", "))
		}
		if len(refs) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(refs, "; "))
		}
	}
	return b.String()
}

func renderMetrics(metrics []models.BusinessMetric) string {
	if len(metrics) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Business metrics")
	for _, m := range metrics {
		b.WriteString("\n- ")
		b.WriteString(m.Name)
		if m.Formula != "" {
			b.WriteString(" = ")
			b.WriteString(m.Formula)
		}
		if m.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(m.Description)
		}
	}
	return b.String()
}

func renderTables(tables []models.TableContext) string {
	if len(tables) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(tables))
	for _, tc := range tables {
		blocks = append(blocks, renderTable(tc))
	}
	return "### Tables\n" + strings.Join(blocks, "\n\n")
}

func renderTable(tc models.TableContext) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(tc.Table.QualifiedName())
	b.WriteString(" (")
	if tc.Table.Description != "" {
		b.WriteString(" -- ")
		b.WriteString(oneLine(tc.Table.Description))
	}

	cols := make([]models.ColumnMetadata, len(tc.Columns))
	copy(cols, tc.Columns)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Ordinal < cols[j].Ordinal })

	for i, c := range cols {
		b.WriteString("\n  ")
		b.WriteString(c.Name)
		if c.DataType != "" {
			b.WriteString(" ")
			b.WriteString(c.DataType)
		}
		if c.IsPrimaryKey {
			b.WriteString(" PRIMARY KEY")
		} else if !c.IsNullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		if c.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(oneLine(c.Description))
		}
	}
	b.WriteString("\n);")
	return b.String()
}

// renderRelationships lists links whose both ends are among the rendered tables.
func renderRelationships(tables []models.TableContext) string {
	included := make(map[string]bool, len(tables))
	for _, tc := range tables {
		included[tc.Table.Name] = true
		included[tc.Table.QualifiedName()] = true
	}

	seen := map[string]bool{}
	var lines []string
	for _, tc := range tables {
		for _, r := range tc.Relationships {
			if seen[r.Key()] || !included[r.FromTable] || !included[r.ToTable] {
				continue
			}
			seen[r.Key()] = true
			line := fmt.Sprintf("- %s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
			if r.RelationshipType != "" {
				line += " (" + r.RelationshipType + ")"
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "### Relationships\n" + strings.Join(lines, "\n")
}

func renderTemplates(templates []models.QueryTemplate) string {
	if len(templates) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(templates))
	for _, t := range templates {
		header := "-- " + t.Name
		if t.Description != "" {
			header += ": " + oneLine(t.Description)
		}
		blocks = append(blocks, header+"\n"+strings.TrimSpace(t.SQL))
	}
	return "### Query templates\n" + strings.Join(blocks, "\n\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedEntities(in []models.BusinessEntity) []models.BusinessEntity {
	out := append([]models.BusinessEntity(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func sortedMetrics(in []models.BusinessMetric) []models.BusinessMetric {
	out := append([]models.BusinessMetric(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func sortedTables(in []models.TableContext) []models.TableContext {
	out := append([]models.TableContext(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func sortedTemplates(in []models.QueryTemplate) []models.QueryTemplate {
	out := append([]models.QueryTemplate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
