// internal/workers/nl-query/generate-sql/handler.go
package generatesql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/engine/llm"
	"nlsql-workers/internal/models"
)

const (
	TaskType = "nl-generate-sql"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Generator turns a prompt input into checked SQL.
type Generator interface {
	Generate(ctx context.Context, in llm.PromptInput) (*models.SQLGeneration, error)
}

type Handler struct {
	config     *Config
	generator  Generator
	newID      func() string
	errHandler *errors.ErrorHandler
	logger     Logger
}

func NewHandler(config *Config, generator Generator, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:     config,
		generator:  generator,
		newID:      uuid.NewString,
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
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, errors.NewInvalidInputError("question is required")
	}
	if input.DatabaseAlias == "" {
		return nil, errors.NewInvalidInputError("database_alias is required")
	}
	if input.SampleSize < 0 {
		return nil, errors.NewInvalidInputError("sample_size must not be negative")
	}
	if strings.TrimSpace(input.SchemaContext) == "" {
		h.logger.Warn("generating without schema context", map[string]interface{}{
			"databaseAlias": input.DatabaseAlias,
		})
	}

	sampleSize := input.SampleSize
	if sampleSize == 0 {
		sampleSize = h.config.DefaultSampleSize
	}

	gen, err := h.generator.Generate(ctx, llm.PromptInput{
		Question:      question,
		Dialect:       h.config.Dialect,
		SchemaContext: input.SchemaContext,
		Concepts:      input.Concepts,
		SampleSize:    sampleSize,
	})
	if err != nil {
		return nil, err
	}

	threadID := input.ThreadID
	if threadID == "" {
		threadID = h.newID()
	}

	h.logger.Info("SQL generated", map[string]interface{}{
		"databaseAlias": input.DatabaseAlias,
		"threadId":      threadID,
		"confidence":    gen.Confidence,
		"queryType":     gen.QueryType,
	})

	return &Output{
		SQLGeneration: *gen,
		ThreadID:      threadID,
	}, nil
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
