// Package safety rejects SQL that could modify data before it reaches a datasource.
package safety

import (
	"context"
	"regexp"
	"strings"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/common/metrics"
)

var forbiddenKeywords = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|CREATE|ALTER|TRUNCATE)\b`)

// Alerter receives rejected statements.
type Alerter interface {
	Alert(ctx context.Context, kind string, details map[string]interface{}) error
}

// Check returns an UNSAFE_SQL error when sql contains a forbidden keyword as a whole word, or more
// than one statement. Keywords inside string literals and quoted identifiers are ignored.
func Check(sql string) error {
	code := stripQuoted(sql)

	if m := forbiddenKeywords.FindString(code); m != "" {
		return errors.NewUnsafeSQLError(strings.ToUpper(m))
	}

	body := strings.TrimSpace(code)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if strings.Contains(body, ";") {
		return errors.NewUnsafeSQLError("multiple statements")
	}
	return nil
}

// stripQuoted blanks out single-quoted literals, double-quoted identifiers and comments.
func stripQuoted(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			b.WriteByte(' ')
			for i++; i < len(sql); i++ {
				if sql[i] == quote {
					if i+1 < len(sql) && sql[i+1] == quote {
						i++
						continue
					}
					break
				}
			}
			b.WriteByte(' ')
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Guard runs Check and records rejections.
type Guard struct {
	alerter Alerter
	log     logger.Logger
}

// NewGuard builds a guard. alerter may be nil.
func NewGuard(alerter Alerter, log logger.Logger) *Guard {
	return &Guard{alerter: alerter, log: log}
}

// Check validates sql coming from source (llm, compiler, caller).
func (g *Guard) Check(ctx context.Context, source, sql string) error {
	err := Check(sql)
	if err == nil {
		return nil
	}

	metrics.UnsafeSQLRejections.WithLabelValues(source).Inc()
	g.log.Warn("Rejected unsafe SQL", map[string]interface{}{
		"source": source,
		"reason": err.Error(),
	})

	if g.alerter != nil {
		details := map[string]interface{}{
			"source": source,
			"sql":    sql,
		}
		if std, ok := errors.AsStandardError(err); ok {
			details["reason"] = std.Details
		}
		if alertErr := g.alerter.Alert(ctx, "unsafe_sql", details); alertErr != nil {
			g.log.WithError(alertErr).Error("Failed to publish security alert", map[string]interface{}{
				"source": source,
			})
		}
	}
	return err
}
