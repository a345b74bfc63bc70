// internal/workers/visual-query/compile-query/handler.go
package compilequery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/models"
)

const (
	TaskType = "visual-compile-query"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type SpecValidator interface {
	Validate(ctx context.Context, spec *models.QuerySpec) *models.ValidationResult
}

type SpecCompiler interface {
	Compile(ctx context.Context, spec *models.QuerySpec, vr *models.ValidationResult) (*compiler.CompiledQuery, error)
}

type SQLChecker interface {
	Check(ctx context.Context, source, sql string) error
}

type Handler struct {
	config     *Config
	validator  SpecValidator
	compiler   SpecCompiler
	checker    SQLChecker
	errHandler *errors.ErrorHandler
	logger     Logger
}

func NewHandler(config *Config, validator SpecValidator, compiler SpecCompiler, checker SQLChecker, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:     config,
		validator:  validator,
		compiler:   compiler,
		checker:    checker,
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
	if len(input.QuerySpec) == 0 {
		return nil, errors.NewInvalidInputError("query_spec is required")
	}

	spec, err := models.ParseQuerySpec(input.QuerySpec)
	if err != nil {
		return nil, err
	}

	var vr *models.ValidationResult
	if len(spec.Tables) == 0 && len(spec.Fields) > 0 {
		vr = passthroughValidation()
	} else {
		vr = h.validator.Validate(ctx, spec)
	}

	if !vr.IsValid {
		h.logger.Info("query spec invalid", map[string]interface{}{
			"errors": vr.Errors,
		})
		return &Output{Validation: vr, Warnings: vr.Warnings}, nil
	}

	compiled, err := h.compiler.Compile(ctx, spec, vr)
	if err != nil {
		return nil, err
	}

	sql, err := compiler.SubstituteParams(compiled.SQL, mergeParams(spec.Parameters, input.Parameters))
	if err != nil {
		return nil, errors.NewCompileFailedError(err.Error())
	}

	if err := h.checker.Check(ctx, "compiler", sql); err != nil {
		return nil, err
	}

	warnings := append(append([]string{}, vr.Warnings...), compiled.Warnings...)
	for _, w := range compiled.Warnings {
		h.logger.Warn("join inferred", map[string]interface{}{"warning": w})
	}

	h.logger.Info("query compiled", map[string]interface{}{
		"mainTable":     vr.MainTable,
		"inferredJoins": len(compiled.InferredJoins),
		"passthrough":   compiled.Passthrough,
	})

	return &Output{
		SQL:           sql,
		Validation:    vr,
		Warnings:      warnings,
		InferredJoins: compiled.InferredJoins,
		Passthrough:   compiled.Passthrough,
	}, nil
}

// passthroughValidation is the result reported for table-less specs, which compile over a subquery.
func passthroughValidation() *models.ValidationResult {
	return &models.ValidationResult{
		IsValid:          true,
		Errors:           []string{},
		Warnings:         []string{},
		ReferencedTables: []string{},
		MissingJoins:     []string{},
		ExplicitJoins:    []string{},
	}
}

// mergeParams overlays job-level parameters on the spec's own.
func mergeParams(specParams, jobParams map[string]interface{}) map[string]interface{} {
	if len(jobParams) == 0 {
		return specParams
	}
	merged := make(map[string]interface{}, len(specParams)+len(jobParams))
	for k, v := range specParams {
		merged[k] = v
	}
	for k, v := range jobParams {
		merged[k] = v
	}
	return merged
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
