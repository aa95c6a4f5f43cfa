package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfindex/internal/api/handlers"
	"github.com/markdave123-py/pdfindex/internal/config"
	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/core/chunker"
	db "github.com/markdave123-py/pdfindex/internal/core/database"
	"github.com/markdave123-py/pdfindex/internal/core/embedder"
	"github.com/markdave123-py/pdfindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfindex/internal/core/loader"
	objectclient "github.com/markdave123-py/pdfindex/internal/core/object-client"
	"github.com/markdave123-py/pdfindex/internal/core/publisher"
	"github.com/markdave123-py/pdfindex/internal/logger"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Config    *config.Config
	Catalog   core.DbClient
	Store     core.ObjectClient
	Publisher *publisher.Publisher
	Embedder  *embedder.Adapter
	Pipeline  *ingestion_engine.Pipeline
	Ingestor  *ingestion_engine.Ingestor
	Registry  *prometheus.Registry
	Server    *Server
}

// NewApp wires storage, catalog, embedding and the pipeline from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)
	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	catalog, err := newCatalog(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	if loaded, err := objectclient.LoadAWSConfig(appCtx, cfg); err != nil {
		log.Warn("aws config unavailable", "error", err)
	} else {
		awsCfg = &loaded
	}

	store, err := newStore(appCtx, cfg, awsCfg)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	keys, err := publisher.ParseKeyStrategy(cfg.KeyStrategy, cfg.PublishKey, cfg.PublishPrefix)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	pub := publisher.New(store, cfg.BucketName, keys, publisher.WithStaging(afero.NewOsFs(), cfg.StagingDir))

	docLoader, err := loader.New(cfg.Loader)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	factory := embedder.NewProviderFactory(embedder.ProviderConfig{
		AWS:          awsCfg,
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIURL:    cfg.OpenAIBaseURL,
	})
	adapter, err := embedder.NewAdapter(factory, cfg.EmbedModels,
		embedder.WithBatchSize(cfg.EmbedBatchSize),
		embedder.WithConcurrency(cfg.EmbedConcurrency),
		embedder.WithCacheSize(cfg.EmbedCacheSize),
	)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingestion_engine.NewMetrics(registry)

	pipeline, err := ingestion_engine.NewPipeline(docLoader,
		chunker.Settings{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		adapter, pub, ingestion_engine.WithMetrics(metrics))
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	ingestor := ingestion_engine.NewIngestor(pipeline, catalog, cfg.QueueSize, 0)
	metrics.RegisterQueueDepth(registry, ingestor.QueueDepth)

	handler := handlers.NewIngestionHandler(ingestor, catalog, pub, cfg.MaxUpload)
	server := NewServer(ctx, ":"+cfg.Port, handler, registry)

	log.Info("application wired",
		"storage", cfg.Storage, "bucket", cfg.BucketName, "keys", keys.String(),
		"models", cfg.EmbedModels, "loader", cfg.Loader)

	return &App{
		Config:    cfg,
		Catalog:   catalog,
		Store:     store,
		Publisher: pub,
		Embedder:  adapter,
		Pipeline:  pipeline,
		Ingestor:  ingestor,
		Registry:  registry,
		Server:    server,
	}, nil
}

func newCatalog(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg.DatabaseURL == "" {
		logger.FromContext(ctx).Warn("DATABASE_URL not set, using in-memory catalog")
		return db.NewMemoryClient(), nil
	}
	c, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("database initialized and ready")
	return c, nil
}

func newStore(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) (core.ObjectClient, error) {
	switch cfg.Storage {
	case config.StorageFS:
		return objectclient.NewFSClient(cfg.StorageDir)
	case config.StorageS3:
		if awsCfg == nil {
			return nil, fmt.Errorf("s3 storage needs a valid aws config")
		}
		return objectclient.NewS3Client(ctx, *awsCfg, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// Run serves HTTP and runs the ingestion workers until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.Ingestor.Start(gctx, a.Config.Workers)

	g.Go(func() error {
		return a.Server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	a.Ingestor.Wait()
	return err
}

func (a *App) Close() {
	if a.Catalog != nil {
		_ = a.Catalog.Close()
	}
}
