// internal/workers/visual-query/execute-query/handler.go
package executequery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/engine/cache"
	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/engine/executor"
	"nlsql-workers/internal/models"
)

const (
	TaskType = "visual-execute-query"

	adhocComponent = "adhoc"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type QueryExecutor interface {
	Execute(ctx context.Context, alias, query string) (*executor.Result, error)
}

type Handler struct {
	config     *Config
	executor   QueryExecutor
	cache      cache.Cache
	errHandler *errors.ErrorHandler
	logger     Logger
}

// NewHandler wires the worker. cache may be nil, in which case every job hits the datasource.
func NewHandler(config *Config, executor QueryExecutor, resultCache cache.Cache, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:     config,
		executor:   executor,
		cache:      resultCache,
		errHandler: errors.NewErrorHandler(l),
		logger:     l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if err := h.validateInput(input); err != nil {
		return nil, err
	}

	query, err := spliceSource(input.SQL, input.SourceSQL)
	if err != nil {
		return nil, err
	}

	key := h.cacheKey(input, query)
	if key != "" && !input.SkipCache {
		var cached Output
		hit, err := cache.GetJSON(ctx, h.cache, key, &cached)
		if err != nil {
			h.logger.Warn("cache read failed, querying datasource", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if hit {
			cached.Cached = true
			h.logger.Info("serving cached result", map[string]interface{}{
				"databaseAlias": input.DatabaseAlias,
				"rows":          cached.TotalRows,
			})
			return &cached, nil
		}
	}

	res, err := h.executor.Execute(ctx, input.DatabaseAlias, query)
	if err != nil {
		return nil, err
	}

	out := &Output{
		VisualQueryResponse: models.VisualQueryResponse{
			SQL:             query,
			Columns:         res.Columns,
			Data:            res.Rows,
			TotalRows:       res.TotalRows,
			ExecutionTimeMs: res.ExecutionTimeMs,
		},
		Truncated: res.Truncated,
	}

	if key != "" {
		if err := cache.SetJSON(ctx, h.cache, key, out, h.config.CacheTTL); err != nil {
			h.logger.Warn("cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	h.logger.Info("query executed", map[string]interface{}{
		"databaseAlias":   input.DatabaseAlias,
		"rows":            out.TotalRows,
		"truncated":       out.Truncated,
		"executionTimeMs": out.ExecutionTimeMs,
	})
	return out, nil
}

func (h *Handler) validateInput(input *Input) error {
	if strings.TrimSpace(input.SQL) == "" {
		return errors.NewInvalidInputError("sql is required")
	}
	if input.DatabaseAlias == "" {
		return errors.NewInvalidInputError("database_alias is required")
	}
	return nil
}

// cacheKey returns "" when caching is off or the key cannot be derived.
func (h *Handler) cacheKey(input *Input, query string) string {
	if h.cache == nil || h.config.CacheTTL <= 0 {
		return ""
	}
	component := input.ComponentID
	if component == "" {
		component = adhocComponent
	}
	key, err := cache.Key(component, input.DatabaseAlias, map[string]interface{}{
		"sql":     query,
		"filters": input.Filters,
	})
	if err != nil {
		h.logger.Warn("cache key failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return key
}

// spliceSource replaces the passthrough placeholder with the source query.
func spliceSource(query, source string) (string, error) {
	if !strings.Contains(query, compiler.SubqueryPlaceholder) {
		return query, nil
	}
	if strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(source), ";")) == "" {
		return "", errors.NewInvalidInputError("source_sql is required for passthrough queries")
	}
	return compiler.ExpandSubquery(query, source), nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errHandler.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
