// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/common/observability"
	"nlsql-workers/pkg/registry"
)

// HandlerFunc is the signature every task handler exposes as Handle.
type HandlerFunc func(client worker.JobClient, job entities.Job)

type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	Timeout       time.Duration
}

// Worker is one open job subscription.
type Worker struct {
	taskType  string
	jobWorker worker.JobWorker
	logger    logger.Logger
}

// StartWorker opens a job worker for opts.TaskType with the handler wrapped in Instrument.
func StartWorker(client zbc.Client, opts WorkerOptions, handler HandlerFunc, obs *observability.Observability, log logger.Logger) *Worker {
	builder := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(worker.JobHandler(Instrument(opts.TaskType, obs, handler))).
		MaxJobsActive(opts.MaxJobsActive)
	if opts.Timeout > 0 {
		builder = builder.Timeout(opts.Timeout)
	}

	w := &Worker{
		taskType:  opts.TaskType,
		jobWorker: builder.Open(),
		logger:    log,
	}
	log.Info("worker started", map[string]interface{}{
		"taskType":      opts.TaskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout_ms":    opts.Timeout.Milliseconds(),
	})
	return w
}

// Instrument wraps a handler with a span, the active-jobs gauge and duration metrics.
func Instrument(taskType string, obs *observability.Observability, handler HandlerFunc) HandlerFunc {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		ctx := context.Background()
		if obs != nil {
			spanCtx, s := obs.StartSpan(ctx, taskType,
				attribute.Int64("job.key", job.Key),
				attribute.Int64("process.instance", job.ProcessInstanceKey),
			)
			ctx = spanCtx
			defer s.End()
		}

		handler(client, job)

		elapsed := time.Since(start)
		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
		if obs != nil {
			obs.RecordJobProcessed(ctx, taskType, "handled")
			obs.RecordJobDuration(ctx, taskType, elapsed, "handled")
		}
	}
}

// WithInputValidation checks job variables against the activity registry and fails the job with
// INVALID_INPUT before handler sees it.
func WithInputValidation(taskType string, v registry.InputValidator, eh *errors.ErrorHandler, handler HandlerFunc) HandlerFunc {
	if v == nil {
		return handler
	}
	return func(client worker.JobClient, job entities.Job) {
		if err := v.ValidateInput(taskType, []byte(job.Variables)); err != nil {
			metrics.WorkerJobsFailed.WithLabelValues(taskType, string(errors.ErrCodeInvalidInput)).Inc()
			eh.HandleJobError(context.Background(), client, job, err)
			return
		}
		handler(client, job)
	}
}

// Stop closes the subscription and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", map[string]interface{}{"taskType": w.taskType})
	w.jobWorker.Close()
	w.jobWorker.AwaitClose()
}
