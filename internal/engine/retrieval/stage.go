package retrieval

import (
	"time"

	"nlsql-workers/internal/common/metrics"
)

// Stage names, used as metric labels and in RetrievalContext.DegradedStages.
const (
	StageEntities   = "entities"
	StageMetrics    = "metrics"
	StageTemplates  = "templates"
	StageTables     = "tables"
	StageFallback   = "fallback"
	StageEnrichment = "enrichment"
)

// StageResult is the explicit outcome of one stage: a value or an error, never both.
type StageResult[T any] struct {
	Stage    string
	Value    T
	Err      error
	Duration time.Duration
}

func stageOK[T any](stage string, v T, d time.Duration) StageResult[T] {
	return StageResult[T]{Stage: stage, Value: v, Duration: d}
}

func stageErr[T any](stage string, err error, d time.Duration) StageResult[T] {
	return StageResult[T]{Stage: stage, Err: err, Duration: d}
}

// degradation collects failed stage names in the order they were folded.
type degradation struct {
	stages []string
	seen   map[string]bool
}

func (d *degradation) add(stage string) {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[stage] {
		return
	}
	d.seen[stage] = true
	d.stages = append(d.stages, stage)
}

// fold unwraps a stage result. A failed stage is logged, counted and recorded, and yields the zero value.
func fold[T any](r *Retriever, res StageResult[T], deg *degradation) T {
	metrics.RetrievalStageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	if res.Err == nil {
		return res.Value
	}

	metrics.RetrievalStageFailures.WithLabelValues(res.Stage).Inc()
	r.log.WithError(res.Err).Warn("retrieval stage degraded", map[string]interface{}{
		"stage": res.Stage,
	})
	deg.add(res.Stage)

	var zero T
	return zero
}
