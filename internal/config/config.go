package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	QueueNSQ       = "nsq"
	QueueJetStream = "jetstream"

	CatalogQdrant   = "qdrant"
	CatalogWeaviate = "weaviate"
	CatalogMemory   = "memory"

	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderFastEmbed = "fastembed"
	ProviderNone      = "none"

	PublishContinue = "continue"
	PublishAbort    = "abort"

	RecordIDRandom  = "random"
	RecordIDContent = "content"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"prodsync"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"prodsync"`

	// Queue
	QueueDriver string `envconfig:"QUEUE_DRIVER" default:"nsq"`
	NSQLookupd  string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost    string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP    string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NATSURL     string `envconfig:"NATS_URL" default:"nats://nats:4222"`

	// Catalog
	CatalogDriver  string `envconfig:"CATALOG_DRIVER" default:"qdrant"`
	QdrantHost     string `envconfig:"QDRANT_HOST" default:"qdrant"`
	QdrantPort     int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS   bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	ChromemPath    string `envconfig:"CHROMEM_PATH"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"products"`
	VectorSize     int    `envconfig:"VECTOR_SIZE" default:"384"`
	Distance       string `envconfig:"DISTANCE" default:"cosine"`

	// Embedding & assistant
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"fastembed"`
	AssistantProvider string `envconfig:"ASSISTANT_PROVIDER" default:"none"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel  string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiChatModel   string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.0-flash"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	OpenAIEmbedModel  string `envconfig:"OPENAI_EMBED_MODEL" default:"text-embedding-3-small"`
	OpenAIChatModel   string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4.1-mini"`
	FastEmbedCacheDir string `envconfig:"FASTEMBED_CACHE_DIR" default:"data/models"`

	// Query
	SearchLimit    int     `envconfig:"SEARCH_LIMIT" default:"3"`
	ScoreThreshold float32 `envconfig:"SCORE_THRESHOLD" default:"0.4"`

	// Pipeline
	EmbedTimeout         time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	CatalogTimeout       time.Duration `envconfig:"CATALOG_TIMEOUT" default:"10s"`
	PublishTimeout       time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"5s"`
	IngestMaxInFlight    int           `envconfig:"INGEST_MAX_IN_FLIGHT" default:"8"`
	IngestConcurrency    int           `envconfig:"INGEST_CONCURRENCY" default:"4"`
	IngestMaxAttempts    int           `envconfig:"INGEST_MAX_ATTEMPTS" default:"10"`
	FileMaxInFlight      int           `envconfig:"FILE_MAX_IN_FLIGHT" default:"1"`
	PublishFailurePolicy string        `envconfig:"PUBLISH_FAILURE_POLICY" default:"continue"`
	RecordIDPolicy       string        `envconfig:"RECORD_ID_POLICY" default:"random"`
	NormalizeFields      []string      `envconfig:"NORMALIZE_FIELDS" default:"title,description,price,category,brand"`
	NormalizePrefix      string        `envconfig:"NORMALIZE_PREFIX"`

	// Roles
	EnableAPI          bool `envconfig:"ENABLE_API" default:"true"`
	EnableFileWorker   bool `envconfig:"ENABLE_FILE_WORKER" default:"true"`
	EnableIngestWorker bool `envconfig:"ENABLE_INGEST_WORKER" default:"true"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Missing .env files are fine, the shell may provide everything.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
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
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}

	if err := oneOf("QUEUE_DRIVER", c.QueueDriver, QueueNSQ, QueueJetStream); err != nil {
		return err
	}
	if err := oneOf("CATALOG_DRIVER", c.CatalogDriver, CatalogQdrant, CatalogWeaviate, CatalogMemory); err != nil {
		return err
	}
	if err := oneOf("EMBEDDING_PROVIDER", c.EmbeddingProvider, ProviderGemini, ProviderOpenAI, ProviderFastEmbed); err != nil {
		return err
	}
	if err := oneOf("ASSISTANT_PROVIDER", c.AssistantProvider, ProviderNone, ProviderGemini, ProviderOpenAI); err != nil {
		return err
	}
	if err := oneOf("PUBLISH_FAILURE_POLICY", c.PublishFailurePolicy, PublishContinue, PublishAbort); err != nil {
		return err
	}
	if err := oneOf("RECORD_ID_POLICY", c.RecordIDPolicy, RecordIDRandom, RecordIDContent); err != nil {
		return err
	}
	if err := oneOf("DISTANCE", c.Distance, "cosine", "dot"); err != nil {
		return err
	}

	if c.EmbeddingProvider == ProviderGemini || c.AssistantProvider == ProviderGemini {
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	}

	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: VECTOR_SIZE must be positive", ErrInvalidValue)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("%w: SEARCH_LIMIT must be positive", ErrInvalidValue)
	}
	if c.IngestMaxInFlight <= 0 || c.IngestConcurrency <= 0 {
		return fmt.Errorf("%w: INGEST_MAX_IN_FLIGHT and INGEST_CONCURRENCY must be positive", ErrInvalidValue)
	}
	if len(c.NormalizeFields) == 0 {
		return fmt.Errorf("%w: NORMALIZE_FIELDS", ErrMissingRequired)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q (allowed: %v)", ErrInvalidValue, key, value, allowed)
}
