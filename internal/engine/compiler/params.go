package compiler

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SubstituteParams replaces @name tokens with the literal rendering of params[name]. String literals,
// double-quoted identifiers and comments are copied verbatim. Unknown names are left untouched for the
// database to reject.
func SubstituteParams(sql string, params map[string]interface{}) (string, error) {
	if len(params) == 0 || !strings.Contains(sql, "@") {
		return sql, nil
	}

	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); i++ {
		if end := opaqueEnd(sql, i); end > i {
			b.WriteString(sql[i:end])
			i = end - 1
			continue
		}
		c := sql[i]
		if c != '@' || (i > 0 && isIdentByte(sql[i-1])) {
			b.WriteByte(c)
			continue
		}

		end := i + 1
		for end < len(sql) && isIdentByte(sql[end]) {
			end++
		}
		name := sql[i+1 : end]
		value, ok := params[name]
		if name == "" || !ok {
			b.WriteByte(c)
			continue
		}

		lit, err := RenderLiteral(value)
		if err != nil {
			return "", fmt.Errorf("parameter @%s: %w", name, err)
		}
		b.WriteString(lit)
		i = end - 1
	}
	return b.String(), nil
}

// opaqueEnd returns the end of the quoted string, quoted identifier or comment starting at i, or i
// when none starts there. Unterminated regions run to the end of sql.
func opaqueEnd(sql string, i int) int {
	rest := sql[i:]
	switch {
	case rest[0] == '\'' || rest[0] == '"':
		if j := strings.IndexByte(rest[1:], rest[0]); j >= 0 {
			return i + j + 2
		}
	case strings.HasPrefix(rest, "--"):
		if j := strings.IndexByte(rest, '\n'); j >= 0 {
			return i + j
		}
	case strings.HasPrefix(rest, "/*"):
		if j := strings.Index(rest[2:], "*/"); j >= 0 {
			return i + j + 4
		}
	default:
		return i
	}
	return len(sql)
}

// RenderLiteral renders a Go value as a SQL literal.
func RenderLiteral(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x), nil
	case []byte:
		return quote(string(x)), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10), nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return "", fmt.Errorf("invalid number %q", x.String())
		}
		return x.String(), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return quote(x.UTC().Format(time.RFC3339)), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return renderList(rv)
	}
	return "", fmt.Errorf("unsupported literal type %T", v)
}

func renderList(rv reflect.Value) (string, error) {
	if rv.Len() == 0 {
		return "(NULL)", nil
	}
	parts := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		if isList(item) {
			return "", fmt.Errorf("nested lists are not supported")
		}
		lit, err := RenderLiteral(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isList reports whether v renders as a parenthesised list.
func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// isParamRef reports whether v is a bare @name reference to be bound later.
func isParamRef(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[0] != '@' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return "", false
		}
	}
	return s, true
}
