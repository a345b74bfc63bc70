// Package executor runs screened SELECT statements against registered datasources.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"net"
	"time"

	"github.com/shopspring/decimal"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
)

// SQLChecker rejects SQL that must not run.
type SQLChecker interface {
	Check(ctx context.Context, source, sql string) error
}

// Result holds at most the datasource's MaxRows rows; Truncated is set when more were available.
type Result struct {
	Columns         []string                 `json:"columns"`
	Rows            []map[string]interface{} `json:"data"`
	TotalRows       int                      `json:"total_rows"`
	Truncated       bool                     `json:"truncated"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
}

type Executor struct {
	registry *Registry
	checker  SQLChecker
	log      logger.Logger
}

func New(registry *Registry, checker SQLChecker, log logger.Logger) *Executor {
	return &Executor{
		registry: registry,
		checker:  checker,
		log:      log.With(map[string]interface{}{"component": "executor"}),
	}
}

func (e *Executor) Execute(ctx context.Context, alias, query string) (*Result, error) {
	ds, ok := e.registry.Get(alias)
	if !ok {
		return nil, errors.NewDatasourceNotFoundError(alias)
	}
	if err := e.checker.Check(ctx, "execute", query); err != nil {
		return nil, err
	}

	if ds.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ds.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := ds.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, e.queryError(ctx, alias, err)
	}
	defer rows.Close()

	res, err := scanRows(rows, ds.MaxRows)
	if err != nil {
		return nil, e.queryError(ctx, alias, err)
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.log.Info("query executed", map[string]interface{}{
		"datasource": alias,
		"rows":       res.TotalRows,
		"truncated":  res.Truncated,
		"durationMs": res.ExecutionTimeMs,
	})
	return res, nil
}

func (e *Executor) queryError(ctx context.Context, alias string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewQueryTimeoutError(alias)
	}

	var netErr net.Error
	if stderrors.Is(err, sql.ErrConnDone) || stderrors.Is(err, driver.ErrBadConn) || stderrors.As(err, &netErr) {
		e.log.Error("datasource connection lost", map[string]interface{}{
			"datasource": alias,
			"error":      err.Error(),
		})
		return errors.NewDatabaseConnectionFailedError(err)
	}

	e.log.Warn("query failed", map[string]interface{}{
		"datasource": alias,
		"error":      err.Error(),
	})
	return errors.NewQueryExecutionFailedError(alias, err)
}

func scanRows(rows *sql.Rows, maxRows int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: cols, Rows: []map[string]interface{}{}}
	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}

		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res.TotalRows = len(res.Rows)
	return res, nil
}

// normalizeValue makes driver values JSON friendly. Postgres NUMERIC arrives as text bytes and is
// kept exact as a decimal.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		s := string(val)
		if d, err := decimal.NewFromString(s); err == nil && looksNumeric(s) {
			return d
		}
		return s
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return true
}
