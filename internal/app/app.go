package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"parley/backend/features/ask"
	"parley/backend/features/embeddings"
	"parley/backend/features/message"
	"parley/backend/features/reembed"
	synctrack "parley/backend/features/sync"
	"parley/backend/features/vectors"
	"parley/backend/internal/config"
	"parley/backend/internal/ingest"
	"parley/backend/internal/middleware"
	"parley/backend/internal/retrieval"
	"parley/backend/internal/scheduler"
	"parley/backend/internal/vectorstore"
	"parley/backend/internal/worker"
)

// VectorStore is the full gateway surface the app wires up. The concrete
// implementation is the Weaviate adapter; tests substitute fakes.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, records []vectorstore.Record) (vectorstore.UpsertSummary, error)
	QuerySimilar(ctx context.Context, queryVector []float32, topK int, f vectorstore.Filters) ([]vectorstore.Match, error)
	FetchByID(ctx context.Context, vectorID string) (vectorstore.Record, error)
	SampleRandom(ctx context.Context, n int) ([]vectorstore.Record, error)
	Stats(ctx context.Context) (vectorstore.Stats, error)
	DeleteByMessage(ctx context.Context, messageID string) error
}

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler       http.Handler
	Scheduler     *scheduler.Scheduler
	EventConsumer *worker.EventConsumer

	port int
}

// New wires every service from explicitly injected gateways. Nothing here
// creates clients; construction happens once in Bootstrap and fakes slot in
// for tests.
func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	embedder Embedder,
	generator Generator,
	pub EventPublisher,
) (*App, error) {

	// Repositories
	messageRepo := message.NewPostgresRepo(db)
	checkpointRepo := synctrack.NewPostgresRepo(db)

	// Ingestion pipeline
	ingestor := ingest.NewService(embedder, vecStore, checkpointRepo, ingest.Options{
		MaxChunkChars: cfg.ChunkMaxChars,
		ChunkOverlap:  cfg.ChunkOverlap,
		EmbedTimeout:  time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		StoreTimeout:  time.Duration(cfg.StoreTimeoutSeconds) * time.Second,
	})

	// Scheduler
	sched := scheduler.New(checkpointRepo, ingestor, pub,
		time.Duration(cfg.SchedulerIntervalSeconds)*time.Second, cfg.SchedulerPageSize)

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, generator, queryLogger, retrieval.Options{
		TopK:            cfg.AskTopK,
		ContextBudget:   cfg.ContextBudgetChars,
		EmbedTimeout:    time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		QueryTimeout:    time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutSeconds) * time.Second,
	})

	// Handlers
	embeddingsHandler := embeddings.NewHandler(checkpointRepo, messageRepo, ingestor)
	vectorsHandler := vectors.NewHandler(vecStore)
	reembedHandler := reembed.NewHandler(sched, vecStore, checkpointRepo)
	askHandler := ask.NewHandler(retrievalService)

	// Middleware: CORS runs before auth so preflight requests succeed
	// without a token.
	enableCORS := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	authn := middleware.Auth([]byte(cfg.AuthSecret))
	chain := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(enableCORS(authn(h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /embeddings/messages", chain(embeddingsHandler.ListPending))
	mux.Handle("POST /embeddings", chain(embeddingsHandler.Embed))
	mux.Handle("POST /vectorstore/upsert", chain(embeddingsHandler.Upsert))

	mux.Handle("GET /vectorstore/status", chain(vectorsHandler.Status))
	mux.Handle("GET /vectorstore/stats", chain(vectorsHandler.Stats))
	mux.Handle("GET /vectorstore/vectors/random", chain(vectorsHandler.Random))
	mux.Handle("GET /vectorstore/vectors/{id}", chain(vectorsHandler.Get))

	mux.Handle("GET /reembedding/status", chain(reembedHandler.Status))
	mux.Handle("POST /reembedding/run", chain(reembedHandler.Run))

	mux.Handle("POST /ask", chain(askHandler.Ask))
	mux.Handle("POST /search", chain(askHandler.Search))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (chat event cascade)
	eventConsumer := worker.NewEventConsumer(vecStore, checkpointRepo,
		time.Duration(cfg.StoreTimeoutSeconds)*time.Second)

	return &App{
		Handler:       mux,
		Scheduler:     sched,
		EventConsumer: eventConsumer,
		port:          cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
