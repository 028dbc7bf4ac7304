// Package app wires the application together: configuration, database pool,
// genkit, the ingestion pipeline, and the retrieval services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echobase-ai/echobase/internal/answer"
	"github.com/echobase-ai/echobase/internal/config"
	"github.com/echobase-ai/echobase/internal/database"
	"github.com/echobase-ai/echobase/internal/extract"
	"github.com/echobase-ai/echobase/internal/ingest"
	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/retrieve"
	"github.com/echobase-ai/echobase/internal/tools"
	"github.com/echobase-ai/echobase/internal/vector"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Docs    knowledge.DocumentStore
	Vectors vector.Store

	Orchestrator *ingest.Orchestrator
	IngestPool   *ingest.Pool
	Retriever    *retrieve.Service
	Answerer     *answer.Service

	cancel context.CancelFunc
}

// Setup creates and initializes the application. Call Close to release
// resources.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Docs = knowledge.NewPostgresStore(pool, logger)
	a.Vectors = vector.NewPgStore(pool, logger)

	a.Orchestrator = ingest.New(
		a.Docs,
		extract.NewHTTPFetcher(cfg.Ingest.MaxFetchBytes),
		provideExtractors(g, cfg),
		embedder,
		a.Vectors,
		ingest.Config{
			MaxChunkSize:     cfg.Ingest.MaxChunkSize,
			EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
			EmbedRate:        cfg.Ingest.EmbedRate,
			MaxAttempts:      cfg.Ingest.MaxAttempts,
		},
		logger,
	)
	a.IngestPool = ingest.NewPool(a.Orchestrator, cfg.Ingest.MaxParallel, 0, logger)

	a.Retriever = retrieve.New(embedder, a.Vectors, a.Docs, cfg.Retrieval.ScoreFloor, logger)
	a.Answerer = answer.New(
		a.Retriever,
		answer.NewGenkitGenerator(g, cfg.FullModelName()),
		cfg.Retrieval.TopK,
		logger,
	)

	tools.Register(g, a.Retriever, a.Answerer, logger)

	poolCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.IngestPool.Start(poolCtx)

	return a, nil
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}
	if a.IngestPool != nil {
		a.IngestPool.Wait()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// provideGenkit initializes genkit with the Google AI plugin.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
	)
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	slog.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideExtractors builds the format registry, adding the extractors that
// need external capabilities on top of the built-in ones.
func provideExtractors(g *genkit.Genkit, cfg *config.Config) *extract.Registry {
	registry := extract.NewRegistry()
	registry.Register(knowledge.FormatPDF, extract.PDF{})
	registry.Register(knowledge.FormatAudio, extract.Audio{
		Transcriber: &extract.ModelTranscriber{
			Genkit:    g,
			ModelName: cfg.FullModelName(),
		},
	})
	return registry
}
