package model

import "time"

// ================ Config ================

// Provider names accepted by LLM_PROVIDER.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type ProviderConfig struct {
	Name    string `envconfig:"LLM_PROVIDER" default:"gemini"`
	APIKey  string `envconfig:"LLM_API_KEY"`
	BaseURL string `envconfig:"LLM_BASE_URL"`
}

// ModelConfig is embedded once per agent (ROUTER_*, SQL_*, VIZ_*).
type ModelConfig struct {
	Model          string  `default:"gemini-2.5-flash"`
	MaxTokens      int     `split_words:"true" default:"4096"`
	Temperature    float32 `default:"0"`
	ContextWindow  int     `split_words:"true" default:"1048576"`
	ThinkingBudget int32   `split_words:"true" default:"0"`
}

const DefaultApologyMessage = "Sorry, I could not find an answer to your question. " +
	"Feel free to rephrase it or ask something different."

const DefaultVizFailureMessage = "Sorry, I could not build a chart for this request. " +
	"Try asking again with more detail about what you want to see."

type AgentConfig struct {
	QuestionLimit     int           `envconfig:"AGENT_QUESTION_LIMIT" default:"5"`
	RecursionLimit    int           `envconfig:"AGENT_RECURSION_LIMIT" default:"32"`
	CallTimeout       time.Duration `envconfig:"AGENT_CALL_TIMEOUT" default:"2m"`
	ApologyMessage    string        `envconfig:"AGENT_APOLOGY_MESSAGE" default:"Sorry, I could not find an answer to your question. Feel free to rephrase it or ask something different."`
	VizFailureMessage string        `envconfig:"AGENT_VIZ_FAILURE_MESSAGE" default:"Sorry, I could not build a chart for this request. Try asking again with more detail about what you want to see."`
	FewShotK          int           `envconfig:"AGENT_FEW_SHOT_K" default:"5"`
	RewriteQuery      bool          `envconfig:"AGENT_REWRITE_QUERY" default:"false"`
}

// Checkpoint backends accepted by CHECKPOINT_BACKEND.
const (
	CheckpointPostgres = "postgres"
	CheckpointRedis    = "redis"
	CheckpointSQLite   = "sqlite"
	CheckpointNone     = "none"
)

type CheckpointConfig struct {
	Backend    string        `envconfig:"CHECKPOINT_BACKEND" default:"sqlite"`
	TTL        time.Duration `envconfig:"CHECKPOINT_TTL" default:"0"`
	SQLitePath string        `envconfig:"CHECKPOINT_SQLITE_PATH" default:"checkpoints.db"`
	LockTTL    time.Duration `envconfig:"CHECKPOINT_LOCK_TTL" default:"5m"`
}

// Warehouse drivers accepted by DATASOURCE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type DatasourceConfig struct {
	Driver         string        `envconfig:"DATASOURCE_DRIVER" default:"sqlite"`
	DSN            string        `envconfig:"DATASOURCE_DSN" default:"warehouse.db"`
	CacheTTL       time.Duration `envconfig:"DATASOURCE_CACHE_TTL" default:"1h"`
	MetadataFormat string        `envconfig:"DATASOURCE_METADATA_FORMAT" default:"markdown"`
	SampleRows     int           `envconfig:"DATASOURCE_SAMPLE_ROWS" default:"3"`
	MaxRows        int           `envconfig:"DATASOURCE_MAX_ROWS" default:"1000"`
	Concurrency    int           `envconfig:"DATASOURCE_CONCURRENCY" default:"4"`
}

type VectorStoreConfig struct {
	Enabled        bool   `envconfig:"VECTOR_ENABLED" default:"false"`
	EmbeddingModel string `envconfig:"VECTOR_EMBEDDING_MODEL" default:"text-embedding-004"`
	SQLTable       string `envconfig:"VECTOR_SQL_TABLE" default:"sql_examples"`
	VizTable       string `envconfig:"VECTOR_VIZ_TABLE" default:"viz_examples"`
	Dimensions     int    `envconfig:"VECTOR_DIMENSIONS" default:"768"`
}
