// Package di provides a centralized dependency injection container.
// NewContainer calls a sequence of initializeX steps in a fixed order, each
// populating the Container, and Shutdown runs registered teardown functions
// in reverse order.
package di

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"kgraph-backend/internal/cache"
	"kgraph-backend/internal/config"
	"kgraph-backend/internal/domainservices"
	"kgraph-backend/internal/embeddingadmin"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/events"
	"kgraph-backend/internal/extraction"
	"kgraph-backend/internal/ingestion"
	"kgraph-backend/internal/jobqueue"
	"kgraph-backend/internal/observability"
	"kgraph-backend/internal/providers/embedding"
	extractionprovider "kgraph-backend/internal/providers/extraction"
	"kgraph-backend/internal/query"
	"kgraph-backend/internal/resilience"
	"kgraph-backend/internal/scheduler"
	"kgraph-backend/internal/store/graph"
	"kgraph-backend/internal/store/relational"
	"kgraph-backend/internal/store/vectorindex"
	"kgraph-backend/internal/upsert"
	"kgraph-backend/internal/vocab"
)

// Container holds every long-lived dependency the worker process needs,
// wired once at startup.
type Container struct {
	Config  *config.Config
	Watcher *config.Watcher
	Logger  *zap.Logger

	DynamoDBClient *dynamodb.Client
	Events         *events.Publisher

	Relational  *relational.Store
	Graph       *graph.Store
	VectorIndex *vectorindex.Index
	Cache       cache.Cache

	EmbeddingProvider  embedding.Provider
	ExtractionProvider extractionprovider.Provider
	Embedder           *resilience.EmbeddingProvider
	Extractor          *resilience.ExtractionProvider

	Vocab  *vocab.Registry
	Upsert *upsert.Engine
	Worker *extraction.Worker
	Queue  *jobqueue.Queue
	Sched  *scheduler.Scheduler
	Loader *ingestion.PayloadLoader

	Ingestion      *ingestion.Service
	Query          *query.Service
	EmbeddingAdmin *embeddingadmin.Admin

	Tracing *observability.TracerProvider
	Metrics *observability.Collector

	loader      *config.Loader
	shutdownFns []func(context.Context) error
}

// NewContainer builds and wires every component in dependency order.
// configDir points at the directory config.Loader reads config.yaml and
// config.<environment>.yaml from.
func NewContainer(ctx context.Context, configDir string) (*Container, error) {
	c := &Container{}

	if err := c.initializeConfig(configDir); err != nil {
		return nil, fmt.Errorf("initialize config: %w", err)
	}
	if err := c.initializeLogger(); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	if err := c.initializeObservability(); err != nil {
		// Tracing is optional: log and continue rather than failing
		// startup when it can't reach a collector.
		c.Logger.Warn("observability initialization degraded", zap.Error(err))
	}
	if err := c.initializeStores(ctx); err != nil {
		return nil, fmt.Errorf("initialize stores: %w", err)
	}
	if err := c.initializeCache(ctx); err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	if err := c.initializeProviders(ctx); err != nil {
		return nil, fmt.Errorf("initialize providers: %w", err)
	}
	if err := c.initializeDomainServices(ctx); err != nil {
		return nil, fmt.Errorf("initialize domain services: %w", err)
	}
	c.initializeApplicationServices()

	c.Logger.Info("container initialized",
		zap.Strings("config_loaded_from", c.Config.LoadedFrom),
		zap.String("environment", string(c.Config.Environment)))
	return c, nil
}

func (c *Container) initializeConfig(configDir string) error {
	loader := config.NewLoader(configDir)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	c.loader = loader
	c.Config = cfg
	return nil
}

func (c *Container) initializeLogger() error {
	var logger *zap.Logger
	var err error
	if c.Config.Environment == config.Production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	c.Logger = logger
	c.Watcher = config.NewWatcher(c.loader, c.Config, logger)
	if err := c.Watcher.Start(); err != nil {
		logger.Warn("config hot-reload watcher unavailable", zap.Error(err))
	} else {
		c.addShutdown(func(context.Context) error { return c.Watcher.Stop() })
	}
	c.addShutdown(func(context.Context) error { return logger.Sync() })
	return nil
}

func (c *Container) initializeObservability() error {
	tp, err := observability.InitTracing(
		c.Config.Observability.ServiceName,
		string(c.Config.Environment),
		c.Config.Observability.OTLPEndpoint,
	)
	if err != nil {
		return err
	}
	c.Tracing = tp
	c.addShutdown(tp.Shutdown)
	c.Metrics = observability.NewCollector(c.Config.Observability.MetricsNamespace)
	return nil
}

func (c *Container) initializeStores(ctx context.Context) error {
	relStore, err := relational.Open(ctx, c.Config.RelationalDSN)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	if err := relStore.Migrate(ctx); err != nil {
		relStore.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	c.Relational = relStore
	c.addShutdown(func(context.Context) error { return relStore.Close() })

	version, err := relStore.SchemaVersion(ctx)
	if err != nil {
		c.Logger.Warn("could not read schema version", zap.Error(err))
	} else {
		c.Logger.Info("relational schema up to date", zap.Int64("version", version))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	c.DynamoDBClient = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	})

	if c.Config.Events.Enabled {
		c.Events = events.NewPublisher(eventbridge.NewFromConfig(awsCfg), c.Config.Events.EventBus, c.Config.Events.Source)
	}

	vecIdx, err := vectorindex.Open(ctx, c.Config.QdrantDSN, c.Config.QdrantCollection, activeOrDefaultDimension(ctx, relStore))
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	c.VectorIndex = vecIdx
	c.addShutdown(func(context.Context) error { return vecIdx.Close() })

	c.Graph = graph.New(c.DynamoDBClient, c.Config.DynamoTable, vecIdx)
	return nil
}

// activeOrDefaultDimension resolves the vector collection's dimension from
// whichever EmbeddingConfig row is active, falling back to a sane default
// when the configs table is empty — first boot, before any embedding
// config has been created. The collection still needs a dimension to be
// created with, even in that degraded state.
func activeOrDefaultDimension(ctx context.Context, store *relational.Store) int {
	const fallback = 1536
	active, err := store.GetActiveEmbeddingConfig(ctx)
	if err != nil {
		return fallback
	}
	return active.Dimensions
}

func (c *Container) initializeCache(ctx context.Context) error {
	redisCache, err := cache.NewRedisCache(ctx, c.Config.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis cache: %w", err)
	}
	c.Cache = redisCache
	c.addShutdown(func(context.Context) error { return redisCache.Close() })
	return nil
}

func (c *Container) initializeProviders(ctx context.Context) error {
	active, err := c.Relational.GetActiveEmbeddingConfig(ctx)
	if err != nil {
		c.Logger.Warn("no active embedding config at startup, using fallback settings", zap.Error(err))
		active.Provider, active.ModelName, active.Dimensions = "openai", "text-embedding-3-small", 1536
	}

	openaiProvider := embedding.NewOpenAIProvider(embedding.ProviderConfig{
		Provider:       active.Provider,
		Model:          active.ModelName,
		Dimension:      active.Dimensions,
		APIKey:         c.Config.Embedding.APIKey,
		QueryPrefix:    c.Config.Embedding.QueryPrefix,
		DocumentPrefix: c.Config.Embedding.DocumentPrefix,
	})
	c.EmbeddingProvider = cache.NewCachingEmbedder(openaiProvider, c.Cache)
	c.Embedder = resilience.WrapEmbedding(c.EmbeddingProvider, c.Config.Retry.ProviderMaxAttempts, c.Logger)

	anthropicProvider := extractionprovider.NewAnthropicProvider(extractionprovider.ProviderConfig{
		APIKey:    c.Config.Extraction.APIKey,
		Model:     c.Config.Extraction.Model,
		MaxTokens: c.Config.Extraction.MaxTokens,
	})
	c.ExtractionProvider = anthropicProvider
	c.Extractor = resilience.WrapExtraction(anthropicProvider, c.Config.Retry.ExtractionMaxAttempts, c.Logger)
	return nil
}

func (c *Container) initializeDomainServices(ctx context.Context) error {
	vocabStore := vocabStoreAdapter{relational: c.Relational, graph: c.Graph}
	c.Vocab = vocab.New(c.Config.Vocab, vocabStore, c.Embedder, c.Logger)
	if err := c.Vocab.Load(ctx); err != nil {
		return fmt.Errorf("load vocabulary registry: %w", err)
	}

	grounding := &domainservices.GroundingCalculator{Vocab: c.Vocab}
	c.Upsert = upsert.New(graphStoreAdapter{store: c.Graph}, c.Vocab, c.Embedder, grounding, c.Config.Upsert.MatchThreshold, c.Logger)

	c.Worker = extraction.New(c.Extractor, c.Embedder, c.Graph, c.Upsert, c.Config.Chunker, c.Logger)
	c.Queue = jobqueue.New(c.Relational, c.Logger)
	c.Loader = ingestion.NewPayloadLoader()
	c.Sched = scheduler.New(c.Queue, c.Loader, c.Worker, c.Config.Scheduler.Concurrency, c.Logger)
	if c.Events != nil {
		c.Sched.SetLifecyclePublisher(lifecycleEventAdapter{publisher: c.Events})
	}
	return nil
}

func (c *Container) initializeApplicationServices() {
	c.Ingestion = ingestion.New(c.Queue, c.Worker, c.Sched, c.Logger)
	c.EmbeddingAdmin = embeddingadmin.New(c.Relational, c.Graph, c.VectorIndex, c.Embedder, c.Vocab, c.Logger)
	c.Query = query.New(c.Graph, c.Embedder, c.EmbeddingAdmin, c.Logger)
}

func (c *Container) addShutdown(fn func(context.Context) error) {
	c.shutdownFns = append(c.shutdownFns, fn)
}

// Shutdown tears down every component in reverse initialization order.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.shutdownFns) - 1; i >= 0; i-- {
		if err := c.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
			log.Printf("error during container shutdown: %v", err)
		}
	}
	if len(errs) > 0 {
		return kgerrors.Wrap(errs[0], fmt.Sprintf("shutdown completed with %d errors", len(errs)))
	}
	return nil
}
