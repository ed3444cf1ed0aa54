package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/config"
	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
	"github.com/nexuslabs/nexus-rag/internal/core/usecase"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/chunking"
	pdfextractor "github.com/nexuslabs/nexus-rag/internal/infrastructure/extractor/pdf"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/extractor/plaintext"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/llm/ollama"
	natsqueue "github.com/nexuslabs/nexus-rag/internal/infrastructure/queue/nats"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/repository/postgres"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/resilience"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/storage/localfs"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/vector/qdrant"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/websearch/searxng"
)

// App holds the wired object graph shared by the api and worker binaries.
type App struct {
	Config config.Config

	Workflow ports.WorkflowService
	Ingestor ports.DocumentIngestor
	Indexer  ports.DocumentIndexer
	Reader   ports.DocumentReader
	Remover  ports.DocumentRemover
	Queue    ports.MessageQueue

	orchestrator *usecase.Orchestrator
	closeFn      func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	parents := postgres.NewParentStore(db)
	checkpoints := postgres.NewCheckpointStore(db)

	objects, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	runner := resilience.NewRunner(resilience.DefaultPolicy())

	queue, err := natsqueue.New(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{Runner: runner})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, runner)
	embedder := ollama.NewEmbedder(llm)
	index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, runner)
	searcher := searxng.New(cfg.SearXNGURL, cfg.SearXNGMaxResults, runner)

	retriever := usecase.NewHybridRetriever(embedder, index, parents, ollama.NewReranker(llm), usecase.RetrieverConfig{
		FetchK:     cfg.RetrievalFetchK,
		RerankTopM: cfg.RetrievalRerankM,
		RRFK:       cfg.RetrievalRRFK,
	})

	orchestrator := usecase.NewOrchestrator(
		retriever,
		ollama.NewIntentClassifier(llm),
		ollama.NewGrader(llm),
		searcher,
		ollama.NewGenerator(llm),
		ollama.NewGroundingChecker(llm),
		checkpoints,
		domain.WorkflowLimits{
			MaxGenerationRetries: cfg.MaxGenerationRetries,
			MaxReviewRetries:     cfg.MaxReviewRetries,
			RetrieveTopN:         cfg.RetrievalTopN,
			StepTimeout:          time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		},
	)
	orchestrator.SetTokenChunkChars(cfg.StreamChunkChars)

	plain := plaintext.New(objects)
	indexer := usecase.NewIndexingService(
		repo,
		map[string]ports.TextExtractor{
			"application/pdf": pdfextractor.New(objects),
			"text/plain":      plain,
			"text/markdown":   plain,
			"":                plain,
		},
		chunking.NewSplitter(cfg.ParentChunkSize, cfg.ParentChunkOverlap),
		chunking.NewSplitter(cfg.ChildChunkSize, cfg.ChildChunkOverlap),
		embedder,
		parents,
		index,
	)
	indexer.SetEmbedBatch(cfg.EmbedBatchSize)

	documents := usecase.NewDocumentService(repo, objects, queue)

	return &App{
		Config:       cfg,
		Workflow:     orchestrator,
		Ingestor:     documents,
		Indexer:      indexer,
		Reader:       documents,
		Remover:      usecase.NewDeletionService(repo, objects, parents, index),
		Queue:        queue,
		orchestrator: orchestrator,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// ObserveWorkflow attaches a telemetry sink to the workflow engine. The api
// binary calls this once its metrics registry exists.
func (a *App) ObserveWorkflow(observer ports.WorkflowObserver) {
	a.orchestrator.SetObserver(observer)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
