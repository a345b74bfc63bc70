// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig                   `mapstructure:"app"`
	Camunda     CamundaConfig               `mapstructure:"camunda"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Datasources map[string]DatasourceConfig `mapstructure:"datasources"`
	Engine      EngineConfig                `mapstructure:"engine"`
	Workers     map[string]WorkerConfig     `mapstructure:"workers"`
	APIs        APIsConfig                  `mapstructure:"apis"`
	Alerts      AlertsConfig                `mapstructure:"alerts"`
	Tracing     TracingConfig               `mapstructure:"tracing"`
	Logging     LoggingConfig               `mapstructure:"logging"`
	Registry    RegistryConfig              `mapstructure:"registry"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPPort    int    `mapstructure:"http_port"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
}

// PostgresConfig points at the catalog database holding schema metadata and concept mappings.
type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// DatasourceConfig registers an external database queries are executed against.
type DatasourceConfig struct {
	Driver         string `mapstructure:"driver"` // postgres | sqlite
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
	QueryTimeout   int    `mapstructure:"query_timeout"` // milliseconds
	MaxRows        int    `mapstructure:"max_rows"`
}

// EngineConfig groups the tunables of the retrieval and compilation pipeline.
type EngineConfig struct {
	VectorStore string          `mapstructure:"vector_store"` // qdrant | elasticsearch
	Retrieval   RetrievalConfig `mapstructure:"retrieval"`
	Compiler    CompilerConfig  `mapstructure:"compiler"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Context     ContextConfig   `mapstructure:"context"`
	Mapping     MappingConfig   `mapstructure:"mapping"`
}

type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	MaxTables           int     `mapstructure:"max_tables"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	FallbackScore       float64 `mapstructure:"fallback_score"`
	EnrichConcurrency   int     `mapstructure:"enrich_concurrency"`
	CollectionPrefix    string  `mapstructure:"collection_prefix"`
}

type CompilerConfig struct {
	SafetyLimit           int  `mapstructure:"safety_limit"`
	MaxAutoJoins          int  `mapstructure:"max_auto_joins"`
	DisableHeuristicJoins bool `mapstructure:"disable_heuristic_joins"`
}

type CacheConfig struct {
	Backend string `mapstructure:"backend"` // redis | memory
	TTL     int    `mapstructure:"ttl"`     // milliseconds
	Prefix  string `mapstructure:"prefix"`
}

type ContextConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type MappingConfig struct {
	Source   string `mapstructure:"source"` // postgres | yaml
	YAMLPath string `mapstructure:"yaml_path"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// APIsConfig holds settings for the LLM and embedding services.
type APIsConfig struct {
	Provider string `mapstructure:"provider"` // genai | gemini

	GenAI struct {
		BaseURL    string `mapstructure:"base_url"`
		APIKey     string `mapstructure:"api_key"`
		Timeout    int    `mapstructure:"timeout"` // milliseconds
		MaxRetries int    `mapstructure:"max_retries"`
	} `mapstructure:"genai"`

	Gemini struct {
		APIKey         string  `mapstructure:"api_key"`
		Model          string  `mapstructure:"model"`
		EmbeddingModel string  `mapstructure:"embedding_model"`
		Temperature    float64 `mapstructure:"temperature"`
	} `mapstructure:"gemini"`
}

// AlertsConfig controls the unsafe-SQL security alert publisher.
type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// RegistryConfig points at the activity registry describing worker inputs.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}
