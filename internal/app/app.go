package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"prodsync/apps/backend/features/job"
	"prodsync/apps/backend/features/search"
	"prodsync/apps/backend/features/stats"
	"prodsync/apps/backend/features/upload"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/queue"
	"prodsync/apps/backend/internal/retrieval"
	"prodsync/apps/backend/internal/settings"
	"prodsync/apps/backend/internal/text"
	"prodsync/apps/backend/internal/worker"
)

type App struct {
	Handler        http.Handler
	Uploads        *upload.Service
	Jobs           *job.Service
	Retrieval      *retrieval.Service
	FileConsumer   *worker.FileConsumer
	IngestConsumer *worker.IngestConsumer

	cfg        *config.Config
	subscriber queue.Subscriber
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	if deps == nil || deps.DB == nil || deps.Catalog == nil || deps.Embedder == nil || deps.Publisher == nil {
		return nil, errors.New("app: incomplete dependencies")
	}
	db, cat, emb, pub := deps.DB, deps.Catalog, deps.Embedder, deps.Publisher

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(db), settings.Settings{
		SearchLimit:    cfg.SearchLimit,
		ScoreThreshold: cfg.ScoreThreshold,
	})
	settingsHandler := settings.NewHandler(settingsService)

	// Feature: Job (dead letters)
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub, cfg.PublishTimeout)
	jobHandler := job.NewHandler(jobService)

	// Feature: Upload
	uploadService := upload.NewService(upload.NewPostgresRepo(db), pub, cfg.UploadDir, cfg.PublishTimeout)
	uploadHandler := upload.NewHandler(uploadService, cfg.MaxUploadSizeMB<<20)

	// Feature: Stats
	statsHandler := stats.NewHandler(uploadService, jobService, cat, cfg.CollectionName)

	// Feature: Search
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	var opts []retrieval.Option
	if deps.Assistant != nil {
		opts = append(opts, retrieval.WithGate(deps.Assistant), retrieval.WithRewriter(deps.Assistant))
	}
	retrievalService := retrieval.NewService(emb, cat, settingsService, queryLogger, retrieval.Config{
		Collection:     cfg.CollectionName,
		SearchLimit:    cfg.SearchLimit,
		ScoreThreshold: cfg.ScoreThreshold,
		AssistTimeout:  cfg.EmbedTimeout,
		CatalogTimeout: cfg.CatalogTimeout,
	}, opts...)
	searchHandler := search.NewHandler(retrievalService)

	// Workers
	fileConsumer := worker.NewFileConsumer(pub, uploadService, jobService, worker.LocationOpener{}, worker.FileConfig{
		IDPolicy:       cfg.RecordIDPolicy,
		FailurePolicy:  cfg.PublishFailurePolicy,
		PublishTimeout: cfg.PublishTimeout,
		MaxAttempts:    cfg.IngestMaxAttempts,
	})
	ingestConsumer := worker.NewIngestConsumer(
		text.NewNormalizer(cfg.NormalizeFields, cfg.NormalizePrefix),
		emb, cat, jobService,
		worker.IngestConfig{
			Collection:     cfg.CollectionName,
			MaxAttempts:    cfg.IngestMaxAttempts,
			CatalogTimeout: cfg.CatalogTimeout,
		})

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.TenantHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	route := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.Tenant(enableCORS(h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /uploads", route(uploadHandler.Upload))
	mux.Handle("GET /uploads", route(uploadHandler.List))
	mux.Handle("GET /uploads/{id}", route(uploadHandler.Get))

	mux.Handle("GET /search", route(searchHandler.Search))

	mux.Handle("GET /settings", route(settingsHandler.GetSettings))
	mux.Handle("PUT /settings", route(settingsHandler.UpdateSettings))

	mux.Handle("GET /jobs/failed", route(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", route(jobHandler.Retry))

	mux.Handle("GET /stats", route(statsHandler.GetStats))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:        mux,
		Uploads:        uploadService,
		Jobs:           jobService,
		Retrieval:      retrievalService,
		FileConsumer:   fileConsumer,
		IngestConsumer: ingestConsumer,
		cfg:            cfg,
		subscriber:     deps.Subscriber,
	}, nil
}

// StartWorkers subscribes the consumers enabled by the role toggles.
func (a *App) StartWorkers(ctx context.Context) ([]queue.Subscription, error) {
	var subs []queue.Subscription
	stopAll := func() {
		for _, s := range subs {
			s.Stop()
		}
	}

	if a.cfg.EnableFileWorker || a.cfg.EnableIngestWorker {
		if a.subscriber == nil {
			return nil, errors.New("app: workers enabled without a queue subscriber")
		}
	}

	if a.cfg.EnableFileWorker {
		s, err := a.subscriber.Subscribe(ctx, queue.SubscribeConfig{
			Topic:       config.TopicIngestFile,
			Channel:     config.ChannelFileWorker,
			MaxInFlight: a.cfg.FileMaxInFlight,
			Concurrency: a.cfg.FileMaxInFlight,
		}, a.FileConsumer.Handle)
		if err != nil {
			return nil, fmt.Errorf("starting file worker: %w", err)
		}
		subs = append(subs, s)
		slog.InfoContext(ctx, "file worker started", "topic", config.TopicIngestFile)
	}

	if a.cfg.EnableIngestWorker {
		s, err := a.subscriber.Subscribe(ctx, queue.SubscribeConfig{
			Topic:       config.TopicIngestRecord,
			Channel:     config.ChannelIngestWorker,
			MaxInFlight: a.cfg.IngestMaxInFlight,
			Concurrency: a.cfg.IngestConcurrency,
		}, a.IngestConsumer.Handle)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("starting ingest worker: %w", err)
		}
		subs = append(subs, s)
		slog.InfoContext(ctx, "ingest worker started", "topic", config.TopicIngestRecord)
	}
	return subs, nil
}

// Run starts the enabled roles and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	subs, err := a.StartWorkers(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range subs {
			s.Stop()
		}
		slog.Info("workers stopped")
	}()

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
