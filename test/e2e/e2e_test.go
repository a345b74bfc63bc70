// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlsql-workers/internal/common/camunda"
	"nlsql-workers/internal/common/config"
	"nlsql-workers/internal/common/database"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/cache"
	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/engine/concepts"
	"nlsql-workers/internal/engine/executor"
	"nlsql-workers/internal/engine/mapping"
	"nlsql-workers/internal/engine/safety"
	"nlsql-workers/internal/engine/validator"

	extractconcepts "nlsql-workers/internal/workers/nl-query/extract-concepts"
	compilequery "nlsql-workers/internal/workers/visual-query/compile-query"
	executequery "nlsql-workers/internal/workers/visual-query/execute-query"
)

// Logger adapters to bridge logger.Logger to worker-specific Logger interfaces
type extractConceptsLoggerAdapter struct {
	logger.Logger
}

func (a *extractConceptsLoggerAdapter) With(fields map[string]interface{}) extractconcepts.Logger {
	return &extractConceptsLoggerAdapter{a.Logger.With(fields)}
}

type compileQueryLoggerAdapter struct {
	logger.Logger
}

func (a *compileQueryLoggerAdapter) With(fields map[string]interface{}) compilequery.Logger {
	return &compileQueryLoggerAdapter{a.Logger.With(fields)}
}

type executeQueryLoggerAdapter struct {
	logger.Logger
}

func (a *executeQueryLoggerAdapter) With(fields map[string]interface{}) executequery.Logger {
	return &executeQueryLoggerAdapter{a.Logger.With(fields)}
}

// ==========================
// Visual pipeline (local sqlite)
// ==========================

func seedSQLite(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "shop.db")

	db, err := database.Open("sqlite", dsn, 1)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, country TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, region TEXT, amount REAL)`,
		`INSERT INTO customers VALUES (1, 'Acme', 'DE'), (2, 'Globex', 'US')`,
		`INSERT INTO orders VALUES (1, 1, 'north', 100), (2, 1, 'north', 50), (3, 2, 'south', 75), (4, 2, 'east', 20)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return dsn
}

func TestVisualPipeline_CompileThenExecute(t *testing.T) {
	log := logger.NewTestLogger(t)

	datasources, err := executor.OpenRegistry(map[string]config.DatasourceConfig{
		"shop": {Driver: "sqlite", DSN: seedSQLite(t), MaxConnections: 2, QueryTimeout: 5000, MaxRows: 100},
	})
	require.NoError(t, err)
	t.Cleanup(func() { datasources.Close() })

	guard := safety.NewGuard(nil, log)
	compile := compilequery.NewHandler(
		compilequery.LoadConfig(),
		validator.New(validator.Options{}, datasources, log),
		compiler.New(compiler.Options{}, nil, log),
		guard,
		&compileQueryLoggerAdapter{log},
	)
	execute := executequery.NewHandler(
		executequery.LoadConfig(),
		executor.New(datasources, guard, log),
		cache.NewMemoryCache(cache.SystemClock),
		&executeQueryLoggerAdapter{log},
	)

	ctx := context.Background()
	spec := json.RawMessage(`{
		"database_alias": "shop",
		"tables": ["orders", "customers"],
		"fields": [
			{"table": "customers", "field": "country"},
			{"table": "orders", "field": "amount", "aggregation": "SUM", "alias": "total"}
		],
		"filters": [{"field": "orders.amount", "operator": ">=", "value": "@min"}],
		"sorting": [{"field": "total", "direction": "desc"}]
	}`)

	compiled, err := compile.Execute(ctx, &compilequery.Input{
		QuerySpec:  spec,
		Parameters: map[string]interface{}{"min": 30},
	})
	require.NoError(t, err)
	require.True(t, compiled.Validation.IsValid, compiled.Validation.Errors)
	assert.Len(t, compiled.InferredJoins, 1)
	assert.Equal(t,
		"SELECT customers.country, SUM(orders.amount) AS total FROM orders "+
			"LEFT JOIN customers ON orders.customer_id = customers.id "+
			"WHERE orders.amount >= 30 GROUP BY customers.country ORDER BY total DESC LIMIT 1000",
		compiled.SQL)

	in := &executequery.Input{SQL: compiled.SQL, DatabaseAlias: "shop", ComponentID: "country-chart"}
	first, err := execute.Execute(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, []string{"country", "total"}, first.Columns)
	require.Equal(t, 2, first.TotalRows)
	assert.Equal(t, "DE", first.Data[0]["country"])
	assert.InDelta(t, 150.0, first.Data[0]["total"], 1e-9)

	second, err := execute.Execute(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.TotalRows, second.TotalRows)
}

// ==========================
// Live services
// ==========================

// TestLiveServices needs a running Zeebe gateway and catalog database. Set NLSQL_E2E=1 to run it.
func TestLiveServices(t *testing.T) {
	if os.Getenv("NLSQL_E2E") == "" {
		t.Skip("set NLSQL_E2E=1 to run against live services")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	log := logger.NewTestLogger(t)

	t.Run("zeebe topology", func(t *testing.T) {
		client, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RetryConfig:            &camunda.RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 2 * time.Second},
		})
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.HealthCheck(ctx))
	})

	t.Run("extract concepts with catalog mappings", func(t *testing.T) {
		pg, err := database.NewPostgres(ctx, cfg.Database.Postgres)
		require.NoError(t, err)
		defer pg.Close()

		seedMappings(t, pg.DB)

		h := extractconcepts.NewHandler(
			extractconcepts.LoadConfig(),
			mapping.NewResolver(mapping.NewPostgresStore(pg.DB), nil, 0, log),
			concepts.NewExtractor(time.Now),
			&extractConceptsLoggerAdapter{log},
		)
		out, err := h.Execute(ctx, &extractconcepts.Input{Question: "top 3 regions by e2e_turnover", DatabaseAlias: "e2e"})
		require.NoError(t, err)
		assert.Contains(t, out.Concepts.Metrics, "revenue")
		assert.NotEmpty(t, out.ThreadID)
	})
}

func seedMappings(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS concept_mappings (
		id SERIAL PRIMARY KEY,
		synonym TEXT NOT NULL,
		canonical_term TEXT NOT NULL,
		category TEXT NOT NULL,
		db_alias TEXT
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM concept_mappings WHERE db_alias = 'e2e'`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO concept_mappings (synonym, canonical_term, category, db_alias)
		VALUES ('e2e_turnover', 'revenue', 'metric', 'e2e')`)
	require.NoError(t, err)
}
