package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"prodsync/apps/backend/internal/adapter/chromem"
	"prodsync/apps/backend/internal/adapter/fastembed"
	"prodsync/apps/backend/internal/adapter/gemini"
	"prodsync/apps/backend/internal/adapter/openai"
	"prodsync/apps/backend/internal/adapter/qdrant"
	wstore "prodsync/apps/backend/internal/adapter/weaviate"
	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/embedding"
	"prodsync/apps/backend/internal/queue"
)

// Dependencies are the external clients, built once and injected everywhere.
type Dependencies struct {
	DB         *sql.DB
	Catalog    catalog.Catalog
	Embedder   embedding.Embedder
	Assistant  Assistant
	Publisher  queue.Publisher
	Subscriber queue.Subscriber

	closers []func()
}

func (d *Dependencies) onClose(f func()) {
	d.closers = append(d.closers, f)
}

// Close releases everything in reverse order of creation.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	fail := func(err error) (*Dependencies, error) {
		deps.Close()
		return nil, err
	}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	db, err := OpenDatabase(ctx, cfg, retryDelay)
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	deps.onClose(func() { db.Close() })

	cat, closeCatalog, err := NewCatalog(cfg)
	if err != nil {
		return fail(fmt.Errorf("catalog client error: %w", err))
	}
	deps.Catalog = cat
	deps.onClose(closeCatalog)

	if err := EnsureCollectionWithRetry(ctx, cat, cfg, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return fail(fmt.Errorf("catalog collection error: %w", err))
	}

	emb, closeEmbedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("embedding provider error: %w", err))
	}
	deps.Embedder = embedding.WithTimeout(emb, cfg.EmbedTimeout, cfg.VectorSize)
	deps.onClose(closeEmbedder)

	asst, closeAssistant, err := NewAssistant(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("assistant provider error: %w", err))
	}
	deps.Assistant = asst
	deps.onClose(closeAssistant)

	pub, sub, closeQueue, err := ConnectQueue(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("queue error: %w", err))
	}
	deps.Publisher = pub
	deps.Subscriber = sub
	deps.onClose(closeQueue)

	return deps, nil
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)
}

// OpenDatabase connects with retries and applies the migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, func(attempt int) error {
		err := db.PingContext(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to ping db, retrying...", "attempt", attempt)
		}
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.InfoContext(ctx, "migrations applied")
	return db, nil
}

func noop() {}

// NewCatalog builds the catalog adapter selected by CATALOG_DRIVER.
func NewCatalog(cfg *config.Config) (catalog.Catalog, func(), error) {
	switch cfg.CatalogDriver {
	case config.CatalogQdrant:
		s, err := qdrant.NewStore(qdrant.Config{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.CatalogWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, err
		}
		return wstore.NewStore(client), noop, nil
	case config.CatalogMemory:
		if cfg.ChromemPath == "" {
			return chromem.NewStore(), noop, nil
		}
		s, err := chromem.NewPersistentStore(cfg.ChromemPath)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: CATALOG_DRIVER=%q", config.ErrInvalidValue, cfg.CatalogDriver)
	}
}

// EnsureCollectionWithRetry waits for the catalog to accept the collection.
func EnsureCollectionWithRetry(ctx context.Context, c catalog.Catalog, cfg *config.Config, attempts int, delay time.Duration) error {
	return retry(ctx, attempts, delay, func(attempt int) error {
		err := c.EnsureCollection(ctx, cfg.CollectionName, cfg.VectorSize, catalog.Distance(cfg.Distance))
		if err != nil {
			slog.WarnContext(ctx, "failed to ensure collection, retrying...", "attempt", attempt, "error", err)
		}
		return err
	})
}

// NewEmbedder builds the provider selected by EMBEDDING_PROVIDER.
func NewEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, func(), error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil
	case config.ProviderOpenAI:
		e, err := openai.NewEmbedder(openaiConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return e, noop, nil
	case config.ProviderFastEmbed:
		e, err := fastembed.NewEmbedder(fastembed.Config{CacheDir: cfg.FastEmbedCacheDir})
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", config.ErrInvalidValue, cfg.EmbeddingProvider)
	}
}

// Assistant gates and rewrites queries with a chat model.
type Assistant interface {
	Approve(ctx context.Context, text string) (bool, error)
	Rewrite(ctx context.Context, text string) (string, error)
}

// NewAssistant returns a nil Assistant for ASSISTANT_PROVIDER=none.
func NewAssistant(ctx context.Context, cfg *config.Config) (Assistant, func(), error) {
	switch cfg.AssistantProvider {
	case config.ProviderNone, "":
		return nil, noop, nil
	case config.ProviderGemini:
		a, err := gemini.NewAssistant(ctx, cfg.GeminiAPIKey, cfg.GeminiChatModel)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { a.Close() }, nil
	case config.ProviderOpenAI:
		a, err := openai.NewAssistant(openaiConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return a, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: ASSISTANT_PROVIDER=%q", config.ErrInvalidValue, cfg.AssistantProvider)
	}
}

func openaiConfig(cfg *config.Config) openai.Config {
	return openai.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		EmbedModel: cfg.OpenAIEmbedModel,
		ChatModel:  cfg.OpenAIChatModel,
	}
}

// ConnectQueue builds the publisher and subscriber for QUEUE_DRIVER.
func ConnectQueue(ctx context.Context, cfg *config.Config) (queue.Publisher, queue.Subscriber, func(), error) {
	switch cfg.QueueDriver {
	case config.QueueNSQ:
		pub, err := queue.NewNSQPublisher(cfg.NSQDHost)
		if err != nil {
			return nil, nil, nil, err
		}
		// Consumers polling lookupd fail until the topic exists.
		if err := queue.CreateTopics(ctx, cfg.NSQDHTTP, config.TopicIngestFile, config.TopicIngestRecord); err != nil {
			slog.WarnContext(ctx, "failed to pre-create NSQ topics", "error", err)
		}
		sub := &queue.NSQSubscriber{LookupdAddr: cfg.NSQLookupd, NSQDAddr: cfg.NSQDHost}
		return pub, sub, pub.Stop, nil
	case config.QueueJetStream:
		js, err := queue.ConnectJetStream(cfg.NATSURL)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, topic := range []string{config.TopicIngestFile, config.TopicIngestRecord} {
			if err := js.EnsureStream(ctx, topic); err != nil {
				js.Close()
				return nil, nil, nil, err
			}
		}
		return js, js, js.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: QUEUE_DRIVER=%q", config.ErrInvalidValue, cfg.QueueDriver)
	}
}

// retry runs f up to attempts times, sleeping delay between failures.
func retry(ctx context.Context, attempts int, delay time.Duration, f func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = f(i); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(delay):
		}
	}
	return err
}
