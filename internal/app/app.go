package app

import (
	"context"
	"time"

	"github.com/pagemark-io/pagemark/internal/config"
	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/answer"
	"github.com/pagemark-io/pagemark/internal/core/chunker"
	db "github.com/pagemark-io/pagemark/internal/core/database"
	"github.com/pagemark-io/pagemark/internal/core/embedding"
	"github.com/pagemark-io/pagemark/internal/core/ingest"
	"github.com/pagemark-io/pagemark/internal/core/llm"
	objectclient "github.com/pagemark-io/pagemark/internal/core/object-client"
	"github.com/pagemark-io/pagemark/internal/core/retrieval"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// App owns every long-lived component: the database and object clients, the
// ingestion workers, and the HTTP server.
type App struct {
	Log    *logger.Logger
	DB     core.DbClient
	Obj    core.ObjectClient
	Ingest *ingest.Coordinator
	Server *Server

	stopWorkers context.CancelFunc
	closers     []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	objClient, err := objectclient.NewS3Client(initCtx, cfg, log)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	locator := objectclient.NewLocator(cfg.BucketName, cfg.AwsRegion, cfg.PublicAssetBase)

	embedProvider, llmProvider, closers, err := buildProviders(initCtx, cfg)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	embedder := embedding.New(embedProvider,
		embedding.WithRetryPolicy(embedding.RetryPolicy{
			MaxAttempts: cfg.EmbedMaxAttempts,
			BaseDelay:   cfg.EmbedBaseDelay,
			Multiplier:  cfg.EmbedBackoff,
		}),
		embedding.WithMaxChars(cfg.EmbedMaxChars),
		embedding.WithExpectedDim(cfg.EmbedDim),
		embedding.WithLogger(log),
	)

	chunks := chunker.New(
		chunker.WithStrategy(chunker.Strategy(cfg.ChunkStrategy)),
		chunker.WithTarget(cfg.ChunkTarget),
		chunker.WithOverlap(cfg.ChunkOverlap),
	)

	extractor := ingest.NewDocconvExtractor(false, log)
	coordinator := ingest.NewCoordinator(dbClient, objClient, embedder, extractor, chunks, ingest.ConfigFromApp(cfg), log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	coordinator.Start(workerCtx, cfg.Workers)

	retriever := retrieval.New(dbClient, embedder,
		retrieval.WithTopK(cfg.RetrievalTopK),
		retrieval.WithThreshold(cfg.RetrievalThreshold),
		retrieval.WithLogger(log),
	)
	streamer := answer.New(llmProvider, locator.PageImageURL,
		answer.WithCharSplit(cfg.StreamCharMode),
		answer.WithLogger(log),
	)

	server := NewServer(cfg, log, dbClient, objClient, locator, coordinator, retriever, streamer)

	return &App{
		Log:         log,
		DB:          dbClient,
		Obj:         objClient,
		Ingest:      coordinator,
		Server:      server,
		stopWorkers: stopWorkers,
		closers:     closers,
	}, nil
}

// buildProviders picks the embedding and generation backends from config.
// Gemini is the default; "openai" selects the OpenAI-compatible client for
// both roles.
func buildProviders(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.LLMProvider, []func() error, error) {
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, nil, apierr.Configuration("OPENAI_API_KEY not set")
		}
		client := llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel, cfg.EmbedModel)
		return client, client, nil, nil
	case "gemini", "":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, nil, apierr.Configuration("GEMINI_API_KEY not set")
		}
		embedder, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, nil, err
		}
		generator, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			_ = embedder.Close()
			return nil, nil, nil, err
		}
		return embedder, generator, []func() error{embedder.Close, generator.Close}, nil
	default:
		return nil, nil, nil, apierr.Configuration("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

func (a *App) Close() {
	if a.stopWorkers != nil {
		a.stopWorkers()
	}
	for _, c := range a.closers {
		_ = c()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
