// internal/workers/nl-query/retrieve-schema/handler.go
package retrieveschema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/engine/assembler"
	"nlsql-workers/internal/engine/embedding"
	"nlsql-workers/internal/engine/retrieval"
	"nlsql-workers/internal/models"
)

const (
	TaskType = "nl-retrieve-schema"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*models.RetrievalContext, error)
}

type Handler struct {
	config     *Config
	embedder   embedding.Embedder
	retriever  Retriever
	errHandler *errors.ErrorHandler
	logger     Logger
}

func NewHandler(config *Config, embedder embedding.Embedder, retriever Retriever, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:     config,
		embedder:   embedder,
		retriever:  retriever,
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
	if t := input.SimilarityThreshold; t != nil && (*t < 0 || *t > 1) {
		return nil, errors.NewInvalidInputError("similarity_threshold must be within [0, 1]")
	}

	vector, err := h.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	rc, err := h.retriever.Retrieve(ctx, retrieval.Request{
		DBAlias:             input.DatabaseAlias,
		Question:            question,
		Embedding:           vector,
		MaxTables:           input.MaxTables,
		SimilarityThreshold: input.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}

	maxChars := h.config.MaxContextChars
	if input.MaxContextChars != nil {
		maxChars = *input.MaxContextChars
	}
	assembled := assembler.Assemble(rc, assembler.Options{MaxChars: maxChars})

	if len(rc.DegradedStages) > 0 {
		h.logger.Warn("retrieval degraded", map[string]interface{}{
			"databaseAlias":  input.DatabaseAlias,
			"degradedStages": rc.DegradedStages,
		})
	}
	h.logger.Info("schema context assembled", map[string]interface{}{
		"databaseAlias":  input.DatabaseAlias,
		"relevantTables": len(rc.RelevantTables),
		"fallbackUsed":   rc.FallbackUsed,
		"contextChars":   len([]rune(assembled.Text)),
		"truncated":      assembled.Truncated,
	})

	degraded := rc.DegradedStages
	if degraded == nil {
		degraded = []string{}
	}
	return &Output{
		SchemaContext:       assembled.Text,
		RelevantTables:      rc.RelevantTables,
		DegradedStages:      degraded,
		FallbackUsed:        rc.FallbackUsed,
		TotalTablesSearched: rc.TotalTablesSearched,
		ContextTruncated:    assembled.Truncated,
		OmittedTables:       assembled.OmittedTables,
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
