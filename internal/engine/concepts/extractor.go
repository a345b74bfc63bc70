// Package concepts reads metrics, dimensions, time windows and intent out of a natural-language question.
package concepts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"nlsql-workers/internal/engine/inflect"
	"nlsql-workers/internal/engine/mapping"
	"nlsql-workers/internal/models"
)

// Extractor is stateless apart from its clock, which anchors relative time periods.
type Extractor struct {
	now func() time.Time
}

// NewExtractor returns an extractor reading the current time from now. A nil now uses time.Now.
func NewExtractor(now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{now: now}
}

// Extract builds a ConceptBundle. The result depends only on the question, the snapshot and the clock.
func (e *Extractor) Extract(question string, snap mapping.Snapshot) models.ConceptBundle {
	text := norm.NFC.String(strings.TrimSpace(question))
	lower := strings.ToLower(text)

	b := models.ConceptBundle{
		Metrics:      []string{},
		Dimensions:   []string{},
		Aggregations: []string{},
		TimePeriods:  []models.TimePeriod{},
		Comparisons:  []models.Comparison{},
		Filters:      []models.ConceptFilter{},
		MappedTerms:  map[string]string{},
	}

	b.Metrics, b.Dimensions = extractMetricsAndDimensions(lower)
	applyMappings(&b, lower, snap)
	b.Aggregations = extractAggregations(lower)
	b.TimePeriods = e.extractTimePeriods(lower)
	b.Comparisons = extractComparisons(lower)
	b.Filters = extractFilters(text)
	b.Limit = extractLimit(lower)
	b.OrderBy = extractOrder(lower)
	b.Intent = classifyIntent(lower, b.Filters)
	b.NormalizedQuestion = normalize(text, snap)

	return b
}

func extractMetricsAndDimensions(lower string) ([]string, []string) {
	metrics := newOrderedSet()
	dims := newOrderedSet()

	for _, tok := range wordPattern.FindAllString(lower, -1) {
		singular := inflect.Singular(tok)
		switch {
		case timeDimensions[tok] || timeDimensions[singular]:
			continue
		case metricKeywords[tok]:
			metrics.add(tok)
		case metricKeywords[singular]:
			metrics.add(singular)
		case dimensionKeywords[tok]:
			dims.add(tok)
		case dimensionKeywords[singular]:
			dims.add(singular)
		}
	}

	for _, m := range byPattern.FindAllStringSubmatch(lower, -1) {
		word := m[1]
		if aggregationWords[word] || metricKeywords[word] {
			continue
		}
		dims.add(inflect.Singular(word))
	}

	return metrics.items, dims.items
}

func applyMappings(b *models.ConceptBundle, lower string, snap mapping.Snapshot) {
	metrics := orderedSetOf(b.Metrics)
	dims := orderedSetOf(b.Dimensions)

	for _, m := range snap.Mappings() {
		if !wholeWord(m.Synonym).MatchString(lower) {
			continue
		}
		b.MappedTerms[m.Synonym] = m.Canonical
		switch m.Category {
		case mapping.CategoryMetric:
			metrics.add(m.Canonical)
		case mapping.CategoryDimension:
			dims.add(m.Canonical)
		}
	}

	b.Metrics = metrics.items
	b.Dimensions = dims.items
}

func extractAggregations(lower string) []string {
	out := []string{}
	for _, p := range aggregationPatterns {
		if p.pattern.MatchString(lower) {
			out = append(out, p.key)
		}
	}
	return out
}

func (e *Extractor) extractTimePeriods(lower string) []models.TimePeriod {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	out := []models.TimePeriod{}
	for _, p := range periodPatterns {
		matched := p.pattern.FindString(lower)
		if matched == "" {
			continue
		}
		start, end := periodRange(p.key, today)
		out = append(out, models.TimePeriod{Type: p.key, Matched: matched, Start: start, End: end})
	}

	for _, m := range isoDatePattern.FindAllStringSubmatch(lower, -1) {
		if d, ok := makeDate(m[1], m[2], m[3], today.Location()); ok {
			out = append(out, models.TimePeriod{Type: "date", Matched: m[0], Start: d, End: d})
		}
	}
	for _, m := range usDatePattern.FindAllStringSubmatch(lower, -1) {
		if d, ok := makeDate(m[3], m[1], m[2], today.Location()); ok {
			out = append(out, models.TimePeriod{Type: "date", Matched: m[0], Start: d, End: d})
		}
	}
	for _, m := range namedDatePattern.FindAllStringSubmatch(lower, -1) {
		month := monthNames[m[1]]
		if d, ok := makeDate(m[3], strconv.Itoa(int(month)), m[2], today.Location()); ok {
			out = append(out, models.TimePeriod{Type: "date", Matched: m[0], Start: d, End: d})
		}
	}
	return out
}

// periodRange resolves a named period to inclusive start and end dates.
func periodRange(key string, today time.Time) (time.Time, time.Time) {
	loc := today.Location()
	y, mo := today.Year(), today.Month()
	monthStart := time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	quarterStart := time.Date(y, mo-(mo-1)%3, 1, 0, 0, 0, 0, loc)
	yearStart := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)

	switch key {
	case "this_month", "mtd":
		return monthStart, today
	case "last_month":
		return monthStart.AddDate(0, -1, 0), monthStart.AddDate(0, 0, -1)
	case "this_quarter":
		return quarterStart, today
	case "last_quarter":
		return quarterStart.AddDate(0, -3, 0), quarterStart.AddDate(0, 0, -1)
	case "this_year", "ytd":
		return yearStart, today
	case "last_year":
		return yearStart.AddDate(-1, 0, 0), yearStart.AddDate(0, 0, -1)
	case "last_7_days":
		return today.AddDate(0, 0, -7), today
	case "last_30_days":
		return today.AddDate(0, 0, -30), today
	case "last_90_days":
		return today.AddDate(0, 0, -90), today
	}
	return today, today
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// makeDate rejects dates time.Date would silently roll over, such as 02/30.
func makeDate(year, month, day string, loc *time.Location) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil || m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func extractComparisons(lower string) []models.Comparison {
	var values []float64
	for _, n := range numberPattern.FindAllString(lower, -1) {
		if v, err := strconv.ParseFloat(n, 64); err == nil {
			values = append(values, v)
		}
	}

	out := []models.Comparison{}
	for _, p := range comparisonPatterns {
		matched := p.pattern.FindString(lower)
		if matched == "" {
			continue
		}
		out = append(out, models.Comparison{Type: p.key, Matched: matched, Values: values})
	}
	return out
}

func extractFilters(text string) []models.ConceptFilter {
	out := []models.ConceptFilter{}

	for _, m := range wherePattern.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		out = append(out, models.ConceptFilter{
			Kind:  "where",
			Field: strings.ReplaceAll(strings.TrimSpace(strings.ToLower(m[1])), " ", "_"),
			Value: trimQuotes(value),
		})
	}

	for _, f := range []struct {
		kind    string
		pattern *regexp.Regexp
	}{
		{"for", forPattern},
		{"in", inPattern},
	} {
		for _, m := range f.pattern.FindAllStringSubmatch(text, -1) {
			value := trimQuotes(strings.TrimSpace(m[1]))
			if !isFilterValue(value) {
				continue
			}
			out = append(out, models.ConceptFilter{Kind: f.kind, Value: value})
		}
	}
	return out
}

func isFilterValue(value string) bool {
	if value == "" || yearPattern.MatchString(value) {
		return false
	}
	lower := strings.ToLower(value)
	if first := strings.Fields(lower); len(first) > 0 && filterStopWords[first[0]] {
		return false
	}
	for _, p := range periodPatterns {
		if p.pattern.MatchString(lower) {
			return false
		}
	}
	return true
}

func trimQuotes(s string) string {
	return strings.Trim(s, `'"`)
}

func extractLimit(lower string) *int {
	for _, p := range limitPatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

func extractOrder(lower string) string {
	if descPattern.MatchString(lower) {
		return models.OrderDesc
	}
	if ascPattern.MatchString(lower) {
		return models.OrderAsc
	}
	return ""
}

func classifyIntent(lower string, filters []models.ConceptFilter) models.Intent {
	for _, r := range intentRules {
		if r.intent == "filter" && len(filters) > 0 {
			return models.Intent{Type: r.intent, Confidence: r.confidence}
		}
		if r.pattern.MatchString(lower) {
			return models.Intent{Type: r.intent, Confidence: r.confidence}
		}
	}
	return models.Intent{Type: "unknown", Confidence: 0}
}

// normalize swaps every synonym for its canonical term in one pass, so a canonical term is never
// rewritten again by a shorter synonym.
func normalize(text string, snap mapping.Snapshot) string {
	mappings := snap.Mappings()
	if len(mappings) == 0 {
		return text
	}

	alts := make([]string, 0, len(mappings))
	for _, m := range mappings {
		alts = append(alts, regexp.QuoteMeta(m.Synonym))
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)

	return re.ReplaceAllStringFunc(text, func(match string) string {
		if m, ok := snap.Lookup(match); ok {
			return m.Canonical
		}
		return match
	})
}

func wholeWord(term string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(term)) + `\b`)
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: []string{}, seen: map[string]bool{}}
}

func orderedSetOf(items []string) *orderedSet {
	s := newOrderedSet()
	for _, it := range items {
		s.add(it)
	}
	return s
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

// SortedTerms returns the mapped synonyms in a stable order, for display.
func SortedTerms(b models.ConceptBundle) []string {
	out := make([]string, 0, len(b.MappedTerms))
	for k := range b.MappedTerms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
