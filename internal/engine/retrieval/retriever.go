// Package retrieval narrows a large catalogued schema down to the tables, business terms and example
// queries relevant to one question.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/common/metrics"
	"nlsql-workers/internal/engine/catalog"
	"nlsql-workers/internal/models"
)

const (
	DefaultTopK                = 5
	DefaultMaxTables           = 10
	DefaultSimilarityThreshold = 0.7
	DefaultFallbackScore       = 0.5
	DefaultEnrichConcurrency   = 4
)

type Options struct {
	TopK                int
	MaxTables           int
	SimilarityThreshold float64
	FallbackScore       float64
	EnrichConcurrency   int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MaxTables <= 0 {
		o.MaxTables = DefaultMaxTables
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.FallbackScore <= 0 {
		o.FallbackScore = DefaultFallbackScore
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = DefaultEnrichConcurrency
	}
	return o
}

// Request is one retrieval. Zero MaxTables and a nil SimilarityThreshold use the retriever's options.
type Request struct {
	DBAlias             string
	Question            string
	Embedding           []float32
	MaxTables           int
	SimilarityThreshold *float64
}

type Retriever struct {
	vectors VectorStore
	catalog catalog.Store
	opts    Options
	tracer  trace.Tracer
	log     logger.Logger
}

// New builds a retriever. A nil tracer uses the global OpenTelemetry provider.
func New(vectors VectorStore, store catalog.Store, opts Options, tracer trace.Tracer, log logger.Logger) *Retriever {
	if tracer == nil {
		tracer = otel.Tracer("nlsql-workers/retrieval")
	}
	return &Retriever{
		vectors: vectors,
		catalog: store,
		opts:    opts.withDefaults(),
		tracer:  tracer,
		log:     log.With(map[string]interface{}{"component": "retrieval"}),
	}
}

type tableCandidates struct {
	tables   []models.TableContext
	searched int
}

// Retrieve runs the three stages. Stage failures degrade to empty results; cancellation fails the
// whole retrieval with RETRIEVAL_CANCELLED.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*models.RetrievalContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewRetrievalCancelledError(err)
	}

	maxTables := r.opts.MaxTables
	if req.MaxTables > 0 {
		maxTables = req.MaxTables
	}
	threshold := r.opts.SimilarityThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}

	ctx, span := r.tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.String("db_alias", req.DBAlias),
		attribute.Int("max_tables", maxTables),
	))
	defer span.End()

	var (
		wg         sync.WaitGroup
		entities   StageResult[[]models.BusinessEntity]
		bizMetrics StageResult[[]models.BusinessMetric]
		templates  StageResult[[]models.QueryTemplate]
		tables     StageResult[tableCandidates]
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		entities = runStage(ctx, r, StageEntities, func(ctx context.Context) ([]models.BusinessEntity, error) {
			return r.searchEntities(ctx, req)
		})
	}()
	go func() {
		defer wg.Done()
		bizMetrics = runStage(ctx, r, StageMetrics, func(ctx context.Context) ([]models.BusinessMetric, error) {
			return r.searchMetrics(ctx, req)
		})
	}()
	go func() {
		defer wg.Done()
		templates = runStage(ctx, r, StageTemplates, func(ctx context.Context) ([]models.QueryTemplate, error) {
			return r.searchTemplates(ctx, req)
		})
	}()
	go func() {
		defer wg.Done()
		tables = runStage(ctx, r, StageTables, func(ctx context.Context) (tableCandidates, error) {
			return r.searchTables(ctx, req, maxTables, threshold)
		})
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, errors.NewRetrievalCancelledError(err)
	}

	var deg degradation
	rc := &models.RetrievalContext{
		DBAlias:          req.DBAlias,
		BusinessEntities: nonNil(fold(r, entities, &deg)),
		BusinessMetrics:  nonNil(fold(r, bizMetrics, &deg)),
		QueryTemplates:   nonNil(fold(r, templates, &deg)),
	}

	found := fold(r, tables, &deg)
	candidates := found.tables
	rc.TotalTablesSearched = found.searched

	if len(candidates) == 0 {
		fb := runStage(ctx, r, StageFallback, func(ctx context.Context) (tableCandidates, error) {
			return r.fallbackTables(ctx, req.DBAlias)
		})
		result := fold(r, fb, &deg)
		candidates = result.tables
		rc.TotalTablesSearched = result.searched
		rc.FallbackUsed = true
		metrics.RetrievalFallbacks.Inc()
		r.log.Info("no table scored above threshold, using fallback", map[string]interface{}{
			"dbAlias":   req.DBAlias,
			"threshold": threshold,
			"tables":    len(candidates),
		})
	}

	rc.RelevantTables = r.enrich(ctx, candidates, &deg)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, errors.NewRetrievalCancelledError(err)
	}

	sortTables(rc.RelevantTables)
	rc.DegradedStages = deg.stages

	span.SetAttributes(
		attribute.Int("relevant_tables", len(rc.RelevantTables)),
		attribute.Bool("fallback_used", rc.FallbackUsed),
		attribute.StringSlice("degraded_stages", rc.DegradedStages),
	)
	return rc, nil
}

func runStage[T any](ctx context.Context, r *Retriever, stage string, fn func(context.Context) (T, error)) StageResult[T] {
	ctx, span := r.tracer.Start(ctx, "retrieval."+stage)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stageErr[T](stage, errors.NewRetrievalStageFailedError(stage, err), time.Since(start))
	}
	return stageOK(stage, v, time.Since(start))
}

func (r *Retriever) searchEntities(ctx context.Context, req Request) ([]models.BusinessEntity, error) {
	hits, err := r.vectors.Search(ctx, SearchRequest{
		Collection: CollectionEntities, Vector: req.Embedding, TopK: r.opts.TopK, DBAlias: req.DBAlias,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.BusinessEntity, 0, len(hits))
	for _, h := range hits {
		out = append(out, toEntity(h))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (r *Retriever) searchMetrics(ctx context.Context, req Request) ([]models.BusinessMetric, error) {
	hits, err := r.vectors.Search(ctx, SearchRequest{
		Collection: CollectionMetrics, Vector: req.Embedding, TopK: r.opts.TopK, DBAlias: req.DBAlias,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.BusinessMetric, 0, len(hits))
	for _, h := range hits {
		out = append(out, toMetric(h))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// searchTemplates considers global and datasource-specific templates together.
func (r *Retriever) searchTemplates(ctx context.Context, req Request) ([]models.QueryTemplate, error) {
	hits, err := r.vectors.Search(ctx, SearchRequest{
		Collection: CollectionTemplates, Vector: req.Embedding, TopK: r.opts.TopK, DBAlias: req.DBAlias,
		IncludeGlobal: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.QueryTemplate, 0, len(hits))
	for _, h := range hits {
		out = append(out, toTemplate(h))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// searchTables returns the top maxTables hits at or above threshold. searched counts every hit the
// vector store returned, before filtering.
func (r *Retriever) searchTables(ctx context.Context, req Request, maxTables int, threshold float64) (tableCandidates, error) {
	hits, err := r.vectors.Search(ctx, SearchRequest{
		Collection: CollectionTables, Vector: req.Embedding, TopK: 2 * maxTables, DBAlias: req.DBAlias,
	})
	if err != nil {
		return tableCandidates{}, err
	}

	out := make([]models.TableContext, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, models.TableContext{Table: toTable(h, req.DBAlias), Score: h.Score})
	}
	sortTables(out)
	if len(out) > maxTables {
		out = out[:maxTables]
	}
	return tableCandidates{tables: out, searched: len(hits)}, nil
}

// fallbackTables returns every catalogued table at the fallback score, most used first. The list is
// not truncated; the context assembler's size budget bounds what reaches the prompt.
func (r *Retriever) fallbackTables(ctx context.Context, dbAlias string) (tableCandidates, error) {
	all, err := r.catalog.ListTables(ctx, dbAlias)
	if err != nil {
		return tableCandidates{}, err
	}

	ranked := make([]models.TableMetadata, len(all))
	copy(ranked, all)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].UsageCount != ranked[j].UsageCount {
			return ranked[i].UsageCount > ranked[j].UsageCount
		}
		return ranked[i].QualifiedName() < ranked[j].QualifiedName()
	})

	out := make([]models.TableContext, 0, len(ranked))
	for _, t := range ranked {
		out = append(out, models.TableContext{Table: t, Score: r.opts.FallbackScore})
	}
	return tableCandidates{tables: out, searched: len(all)}, nil
}

// enrich loads columns and relationships per table with bounded fan-out. A table whose enrichment
// fails is kept without columns.
func (r *Retriever) enrich(ctx context.Context, tables []models.TableContext, deg *degradation) []models.TableContext {
	out := make([]models.TableContext, len(tables))
	results := make([]StageResult[models.TableContext], len(tables))

	sem := make(chan struct{}, r.opts.EnrichConcurrency)
	var wg sync.WaitGroup
	for i, tc := range tables {
		wg.Add(1)
		go func(i int, tc models.TableContext) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = stageErr[models.TableContext](StageEnrichment, ctx.Err(), 0)
				return
			}
			defer func() { <-sem }()

			results[i] = runStage(ctx, r, StageEnrichment, func(ctx context.Context) (models.TableContext, error) {
				return r.enrichTable(ctx, tc)
			})
		}(i, tc)
	}
	wg.Wait()

	for i, res := range results {
		enriched := fold(r, res, deg)
		if res.Err != nil {
			enriched = tables[i]
		}
		if enriched.Columns == nil {
			enriched.Columns = []models.ColumnMetadata{}
		}
		if enriched.Relationships == nil {
			enriched.Relationships = []models.RelationshipMetadata{}
		}
		out[i] = enriched
	}
	return out
}

func (r *Retriever) enrichTable(ctx context.Context, tc models.TableContext) (models.TableContext, error) {
	cols, err := r.catalog.GetColumns(ctx, tc.Table.ID)
	if err != nil {
		return tc, err
	}
	rels, err := r.catalog.GetRelationships(ctx, tc.Table.ID)
	if err != nil {
		return tc, err
	}
	tc.Columns = cols
	tc.Relationships = dedupeRelationships(rels)
	return tc, nil
}

func dedupeRelationships(rels []models.RelationshipMetadata) []models.RelationshipMetadata {
	seen := make(map[string]bool, len(rels))
	out := make([]models.RelationshipMetadata, 0, len(rels))
	for _, rel := range rels {
		if seen[rel.Key()] {
			continue
		}
		seen[rel.Key()] = true
		out = append(out, rel)
	}
	return out
}

// sortTables orders by score descending; ties keep their insertion order.
func sortTables(tables []models.TableContext) {
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Score > tables[j].Score })
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
