// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nlsql-workers/internal/common/aws"
	"nlsql-workers/internal/common/camunda"
	"nlsql-workers/internal/common/config"
	"nlsql-workers/internal/common/database"
	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/common/observability"
	"nlsql-workers/internal/engine/cache"
	"nlsql-workers/internal/engine/catalog"
	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/engine/concepts"
	"nlsql-workers/internal/engine/embedding"
	"nlsql-workers/internal/engine/executor"
	"nlsql-workers/internal/engine/llm"
	"nlsql-workers/internal/engine/mapping"
	"nlsql-workers/internal/engine/retrieval"
	"nlsql-workers/internal/engine/safety"
	"nlsql-workers/internal/engine/validator"
	"nlsql-workers/pkg/registry"

	// NL query workers
	ec "nlsql-workers/internal/workers/nl-query/extract-concepts"
	gs "nlsql-workers/internal/workers/nl-query/generate-sql"
	rs "nlsql-workers/internal/workers/nl-query/retrieve-schema"

	// Visual query workers
	cq "nlsql-workers/internal/workers/visual-query/compile-query"
	eq "nlsql-workers/internal/workers/visual-query/execute-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(serviceName(cfg), observability.TracingOptions{
		Enabled:        cfg.Tracing.Enabled,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
	}, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- Catalog database ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
		return err
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Cache ---
	resultCache, closeCache := buildCache(ctx, cfg, zapLog)
	defer closeCache()

	// --- Vector store ---
	vectors, closeVectors := buildVectorStore(ctx, cfg, zapLog)
	defer closeVectors()

	// --- Embedding and completion ---
	embedder, completer, closeModels := buildModels(ctx, cfg, zapLog)
	defer closeModels()

	// --- Security alerts ---
	var alerter safety.Alerter
	if cfg.Alerts.SNS.Enabled {
		sns, err := aws.NewSNSAlerter(ctx, cfg.Alerts.SNS.Region, cfg.Alerts.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("sns alerter init failed", zap.Error(err))
		}
		alerter = sns
		zapLog.Info("SNS security alerts enabled", zap.String("topic", cfg.Alerts.SNS.TopicARN))
	}
	guard := safety.NewGuard(alerter, log)

	// --- Datasources ---
	datasources, err := executor.OpenRegistry(cfg.Datasources)
	if err != nil {
		zapLog.Fatal("datasource registry init failed", zap.Error(err))
	}
	defer datasources.Close()
	zapLog.Info("Datasources registered", zap.Strings("aliases", datasources.Aliases()))

	// --- Activity registry ---
	activities, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.String("path", cfg.Registry.Path), zap.Error(err))
	}
	inputValidator, err := registry.NewSchemaValidator(activities)
	if err != nil {
		zapLog.Fatal("activity registry schemas invalid", zap.Error(err))
	}

	// --- Engine ---
	catalogStore := catalog.NewPostgresStore(pg.DB)
	mappingStore := buildMappingStore(cfg, pg, zapLog)
	cacheTTL := config.GetDuration(cfg.Engine.Cache.TTL)

	resolver := mapping.NewResolver(mappingStore, resultCache, cacheTTL, log)
	retriever := retrieval.New(vectors, catalogStore, retrieval.Options{
		TopK:                cfg.Engine.Retrieval.TopK,
		MaxTables:           cfg.Engine.Retrieval.MaxTables,
		SimilarityThreshold: cfg.Engine.Retrieval.SimilarityThreshold,
		FallbackScore:       cfg.Engine.Retrieval.FallbackScore,
		EnrichConcurrency:   cfg.Engine.Retrieval.EnrichConcurrency,
	}, obs.Tracer(), log)
	generator := llm.NewGenerator(completer, guard, log)
	specValidator := validator.New(validator.Options{MaxAutoJoins: cfg.Engine.Compiler.MaxAutoJoins}, datasources, log)
	specCompiler := compiler.New(
		compiler.Options{SafetyLimit: cfg.Engine.Compiler.SafetyLimit},
		compiler.NewJoinInferrer(log, compiler.DefaultStrategies(catalogStore, catalogStore, cfg.Engine.Compiler.DisableHeuristicJoins)...),
		log,
	)
	queryExecutor := executor.New(datasources, guard, log)

	// --- Register workers ---
	var workers []*camunda.Worker
	errHandler := errors.NewErrorHandler(log)
	register := func(taskType string, handler camunda.HandlerFunc) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), camunda.WorkerOptions{
			TaskType:      taskType,
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, camunda.WithInputValidation(taskType, inputValidator, errHandler, handler), obs, log))
	}

	{
		c := ec.LoadConfig()
		c.Timeout = handlerTimeout(cfg, ec.TaskType, c.Timeout)
		h := ec.NewHandler(c, resolver, concepts.NewExtractor(time.Now), &extractConceptsLoggerAdapter{log})
		register(ec.TaskType, h.Handle)
	}
	{
		c := rs.LoadConfig()
		c.Timeout = handlerTimeout(cfg, rs.TaskType, c.Timeout)
		c.MaxContextChars = cfg.Engine.Context.MaxChars
		h := rs.NewHandler(c, embedder, retriever, &retrieveSchemaLoggerAdapter{log})
		register(rs.TaskType, h.Handle)
	}
	{
		c := gs.LoadConfig()
		c.Timeout = handlerTimeout(cfg, gs.TaskType, c.Timeout)
		h := gs.NewHandler(c, generator, &generateSQLLoggerAdapter{log})
		register(gs.TaskType, h.Handle)
	}
	{
		c := cq.LoadConfig()
		c.Timeout = handlerTimeout(cfg, cq.TaskType, c.Timeout)
		h := cq.NewHandler(c, specValidator, specCompiler, guard, &compileQueryLoggerAdapter{log})
		register(cq.TaskType, h.Handle)
	}
	{
		c := eq.LoadConfig()
		c.Timeout = handlerTimeout(cfg, eq.TaskType, c.Timeout)
		c.CacheTTL = cacheTTL
		h := eq.NewHandler(c, queryExecutor, resultCache, &executeQueryLoggerAdapter{log})
		register(eq.TaskType, h.Handle)
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		problems := map[string]string{}
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			problems["zeebe"] = err.Error()
		}
		if err := pg.Ping(checkCtx); err != nil {
			problems["postgres"] = err.Error()
		}
		if len(problems) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, "not ready", problems)
			return
		}
		writeStatus(w, http.StatusOK, "ready", nil)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func serviceName(cfg *config.Config) string {
	if cfg.App.Name != "" {
		return cfg.App.Name
	}
	return "nlsql-workers"
}

// handlerTimeout prefers the per-worker timeout from config over the handler default.
func handlerTimeout(cfg *config.Config, taskType string, def time.Duration) time.Duration {
	if w, ok := cfg.Workers[taskType]; ok && w.Timeout > 0 {
		return config.GetDuration(w.Timeout)
	}
	return def
}

func buildCache(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (cache.Cache, func()) {
	if cfg.Engine.Cache.Backend == "memory" {
		zapLog.Info("Using in-process cache")
		mem := cache.NewMemoryCache(cache.SystemClock)

		ticker := time.NewTicker(time.Minute)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						zapLog.Debug("Swept expired cache entries", zap.Int("count", n))
					}
				case <-done:
					return
				}
			}
		}()
		return cache.NewInstrumented(mem, "results"), func() {
			ticker.Stop()
			close(done)
		}
	}

	var c cache.Cache
	var closeFn func()
	err := retryWithBackoff(func() error {
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return err
		}
		c = cache.NewInstrumented(cache.NewRedisCache(rdb, cfg.Engine.Cache.Prefix), "results")
		closeFn = func() { rdb.Close() }
		return nil
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	zapLog.Info("Redis connected successfully")
	return c, closeFn
}

func buildVectorStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (retrieval.VectorStore, func()) {
	prefix := cfg.Engine.Retrieval.CollectionPrefix

	if cfg.Engine.VectorStore == "elasticsearch" {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Fatal("elasticsearch client init failed", zap.Error(err))
		}
		err = retryWithBackoff(func() error {
			return database.PingElasticsearch(ctx, es)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
		return retrieval.NewElasticsearchStore(es, prefix), func() {}
	}

	qc, err := database.NewQdrant(ctx, cfg.Database.Qdrant)
	if err != nil {
		zapLog.Fatal("qdrant init failed", zap.Error(err))
	}
	zapLog.Info("Qdrant connected successfully")
	return retrieval.NewQdrantStore(qc, prefix), func() { qc.Close() }
}

func buildModels(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (embedding.Embedder, llm.Completer, func()) {
	if cfg.APIs.Provider == "gemini" {
		g := cfg.APIs.Gemini
		emb, err := embedding.NewGeminiEmbedder(ctx, g.APIKey, g.EmbeddingModel)
		if err != nil {
			zapLog.Fatal("gemini embedder init failed", zap.Error(err))
		}
		comp, err := llm.NewGeminiCompleter(ctx, g.APIKey, g.Model, g.Temperature)
		if err != nil {
			zapLog.Fatal("gemini completer init failed", zap.Error(err))
		}
		zapLog.Info("Using Gemini models", zap.String("model", g.Model))
		return emb, comp, func() {
			emb.Close()
			comp.Close()
		}
	}

	g := cfg.APIs.GenAI
	timeout := config.GetDuration(g.Timeout)
	emb := embedding.NewHTTPEmbedder(g.BaseURL, g.APIKey, timeout, g.MaxRetries)
	comp := llm.NewGenAICompleter(llm.GenAIConfig{
		BaseURL:    g.BaseURL,
		APIKey:     g.APIKey,
		Timeout:    timeout,
		MaxRetries: g.MaxRetries,
	})
	zapLog.Info("Using GenAI service", zap.String("baseURL", g.BaseURL))
	return emb, comp, func() {}
}

func buildMappingStore(cfg *config.Config, pg *database.PostgresClient, zapLog *zap.Logger) mapping.Store {
	if cfg.Engine.Mapping.Source == "yaml" {
		store, err := mapping.LoadYAMLFile(cfg.Engine.Mapping.YAMLPath)
		if err != nil {
			zapLog.Fatal("concept mappings load failed", zap.String("path", cfg.Engine.Mapping.YAMLPath), zap.Error(err))
		}
		return store
	}
	return mapping.NewPostgresStore(pg.DB)
}

func writeStatus(w http.ResponseWriter, code int, status string, problems map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if len(problems) > 0 {
		body["problems"] = problems
	}
	json.NewEncoder(w).Encode(body)
}

// Logger adapters for workers that declare their own Logger interfaces
type extractConceptsLoggerAdapter struct {
	logger.Logger
}

func (a *extractConceptsLoggerAdapter) With(fields map[string]interface{}) ec.Logger {
	return &extractConceptsLoggerAdapter{a.Logger.With(fields)}
}

type retrieveSchemaLoggerAdapter struct {
	logger.Logger
}

func (a *retrieveSchemaLoggerAdapter) With(fields map[string]interface{}) rs.Logger {
	return &retrieveSchemaLoggerAdapter{a.Logger.With(fields)}
}

type generateSQLLoggerAdapter struct {
	logger.Logger
}

func (a *generateSQLLoggerAdapter) With(fields map[string]interface{}) gs.Logger {
	return &generateSQLLoggerAdapter{a.Logger.With(fields)}
}

type compileQueryLoggerAdapter struct {
	logger.Logger
}

func (a *compileQueryLoggerAdapter) With(fields map[string]interface{}) cq.Logger {
	return &compileQueryLoggerAdapter{a.Logger.With(fields)}
}

type executeQueryLoggerAdapter struct {
	logger.Logger
}

func (a *executeQueryLoggerAdapter) With(fields map[string]interface{}) eq.Logger {
	return &executeQueryLoggerAdapter{a.Logger.With(fields)}
}
