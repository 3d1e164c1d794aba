package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"parley"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"parley"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Models are pinned: ingestion and query must embed with the same
	// version or similarity scores stop being comparable.
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"3072"`
	AnswerModel        string `envconfig:"ANSWER_MODEL" default:"gemini-1.5-flash"`

	ChunkMaxChars int `envconfig:"CHUNK_MAX_CHARS" default:"1200"`
	ChunkOverlap  int `envconfig:"CHUNK_OVERLAP" default:"120"`

	SchedulerIntervalSeconds int `envconfig:"SCHEDULER_INTERVAL_SECONDS" default:"300"`
	SchedulerPageSize        int `envconfig:"SCHEDULER_PAGE_SIZE" default:"200"`

	AskTopK               int     `envconfig:"ASK_TOP_K" default:"6"`
	ContextBudgetChars    int     `envconfig:"CONTEXT_BUDGET_CHARS" default:"6000"`
	GenerationTemperature float32 `envconfig:"GENERATION_TEMPERATURE" default:"0.2"`
	GenerationMaxTokens   int32   `envconfig:"GENERATION_MAX_TOKENS" default:"1024"`

	EmbedTimeoutSeconds    int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	StoreTimeoutSeconds    int `envconfig:"STORE_TIMEOUT_SECONDS" default:"15"`
	QueryTimeoutSeconds    int `envconfig:"QUERY_TIMEOUT_SECONDS" default:"15"`
	GenerateTimeoutSeconds int `envconfig:"GENERATE_TIMEOUT_SECONDS" default:"60"`

	AuthSecret string `envconfig:"AUTH_SECRET"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	EnableScheduler     bool `envconfig:"ENABLE_SCHEDULER" default:"true"`
	EnableEventConsumer bool `envconfig:"ENABLE_EVENT_CONSUMER" default:"true"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may also come from the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissingRequired)
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("%w: AUTH_SECRET", ErrMissingRequired)
	}
	return nil
}
