package concepts

import "regexp"

var metricKeywords = map[string]bool{
	"revenue": true, "sales": true, "profit": true, "cost": true, "price": true,
	"amount": true, "quantity": true, "total": true, "income": true, "expense": true,
	"margin": true, "spend": true, "volume": true, "discount": true, "tax": true,
	"balance": true, "units": true,
}

var dimensionKeywords = map[string]bool{
	"region": true, "country": true, "city": true, "state": true, "category": true,
	"product": true, "customer": true, "department": true, "channel": true, "segment": true,
	"store": true, "brand": true, "supplier": true, "vendor": true, "employee": true,
	"team": true, "location": true,
}

// time words only count as dimensions after "by"
var timeDimensions = map[string]bool{
	"year": true, "quarter": true, "month": true, "week": true, "day": true, "date": true,
}

var (
	wordPattern   = regexp.MustCompile(`[a-z0-9_]+`)
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	byPattern     = regexp.MustCompile(`\bby\s+([a-z_]+)`)
)

type keyedPattern struct {
	key     string
	pattern *regexp.Regexp
}

var aggregationPatterns = []keyedPattern{
	{"sum", regexp.MustCompile(`\b(sum|total|aggregate)\b`)},
	{"avg", regexp.MustCompile(`\b(average|avg|mean)\b`)},
	{"count", regexp.MustCompile(`\b(count|number of|how many)\b`)},
	{"max", regexp.MustCompile(`\b(maximum|max|highest|largest|top)\b`)},
	{"min", regexp.MustCompile(`\b(minimum|min|lowest|smallest|bottom)\b`)},
	{"distinct", regexp.MustCompile(`\b(unique|distinct|different)\b`)},
}

// aggregation words are never dimensions, even after "by"
var aggregationWords = map[string]bool{
	"sum": true, "total": true, "aggregate": true, "average": true, "avg": true, "mean": true,
	"count": true, "number": true, "maximum": true, "max": true, "highest": true, "largest": true,
	"top": true, "minimum": true, "min": true, "lowest": true, "smallest": true, "bottom": true,
	"unique": true, "distinct": true, "different": true,
}

var periodPatterns = []keyedPattern{
	{"this_month", regexp.MustCompile(`\bthis month\b`)},
	{"last_month", regexp.MustCompile(`\b(last|previous|past) month\b`)},
	{"this_quarter", regexp.MustCompile(`\bthis quarter\b`)},
	{"last_quarter", regexp.MustCompile(`\b(last|previous|past) quarter\b`)},
	{"this_year", regexp.MustCompile(`\bthis year\b`)},
	{"last_year", regexp.MustCompile(`\b(last|previous|past) year\b`)},
	{"ytd", regexp.MustCompile(`\b(ytd|year to date|year-to-date)\b`)},
	{"mtd", regexp.MustCompile(`\b(mtd|month to date|month-to-date)\b`)},
	{"last_7_days", regexp.MustCompile(`\b(last|past) (7|seven) days\b|\blast week\b`)},
	{"last_30_days", regexp.MustCompile(`\b(last|past) (30|thirty) days\b`)},
	{"last_90_days", regexp.MustCompile(`\b(last|past) (90|ninety) days\b`)},
}

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDatePattern    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	namedDatePattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
)

var comparisonPatterns = []keyedPattern{
	{"greater_than", regexp.MustCompile(`\b(greater than|more than|higher than|above|over|exceeds?|exceeding|at least)\b`)},
	{"less_than", regexp.MustCompile(`\b(less than|fewer than|lower than|below|under|at most)\b`)},
	{"equals", regexp.MustCompile(`\b(equals?|equal to|exactly)\b`)},
	{"between", regexp.MustCompile(`\bbetween\b`)},
	{"top_n", regexp.MustCompile(`\btop\s+\d+\b`)},
	{"bottom_n", regexp.MustCompile(`\bbottom\s+\d+\b`)},
}

var (
	wherePattern = regexp.MustCompile(`(?i)\bwhere\s+([a-z_][a-z0-9_ ]*?)\s+(?:is|equals|=)\s+(.+?)(?:\s+(?:and|or)\b|[,.;?!]|$)`)

	phraseEnd  = `(?:\s+(?:by|in|for|where|during|last|this|past|previous|since|from|with|and|or|per|top|over|under|between)\b|[,.;?!]|$)`
	forPattern = regexp.MustCompile(`(?i)\bfor\s+(.+?)` + phraseEnd)
	inPattern  = regexp.MustCompile(`(?i)\bin\s+(.+?)` + phraseEnd)
)

// phrases after for/in that are not filter values
var filterStopWords = map[string]bool{
	"each": true, "every": true, "all": true, "total": true, "which": true, "what": true,
}

var yearPattern = regexp.MustCompile(`^\d{4}$`)

var limitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\btop\s+(\d+)\b`),
	regexp.MustCompile(`\bfirst\s+(\d+)\b`),
	regexp.MustCompile(`\blimit\s+(\d+)\b`),
	regexp.MustCompile(`\b(\d+)\s+results\b`),
}

var (
	descPattern = regexp.MustCompile(`\b(highest|largest|top|descending|desc)\b`)
	ascPattern  = regexp.MustCompile(`\b(lowest|smallest|bottom|ascending|asc)\b`)
)

type intentRule struct {
	intent     string
	confidence float64
	pattern    *regexp.Regexp
}

// checked in order; the first match wins
var intentRules = []intentRule{
	{"trend_analysis", 0.90, regexp.MustCompile(`\b(trend|trends|trending|over time|growth|monthly|weekly|daily|yearly|per month|by month|by year|by week|by day)\b`)},
	{"comparison", 0.85, regexp.MustCompile(`\b(compare|comparison|versus|vs|compared to|difference between)\b`)},
	{"aggregation", 0.80, regexp.MustCompile(`\b(total|sum|average|avg|mean|count|how many|number of|aggregate)\b`)},
	{"ranking", 0.85, regexp.MustCompile(`\b(top|bottom|highest|lowest|best|worst|rank|ranking|largest|smallest)\b`)},
	{"filter", 0.75, regexp.MustCompile(`\b(where|only|filter|filtered|excluding|with)\b`)},
	{"distribution", 0.80, regexp.MustCompile(`\b(distribution|breakdown|split|share|percentage|proportion|per)\b`)},
}
