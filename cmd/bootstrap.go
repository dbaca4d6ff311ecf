package cmd

import (
	"context"
	"fmt"

	"embeddingjob/internal/adapter/outbound/lock"
	"embeddingjob/internal/adapter/outbound/messaging"
	"embeddingjob/internal/adapter/outbound/mongodb"
	"embeddingjob/internal/adapter/outbound/objectstore"
	"embeddingjob/internal/adapter/outbound/openai"
	"embeddingjob/internal/adapter/outbound/vectorindex"
	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/application/service"
	"embeddingjob/internal/application/worker"
	"embeddingjob/internal/config"
	"embeddingjob/internal/port/outbound"
)

// Probe names reported in the initializing stage.
const (
	ProbeDocuments   = "documents"
	ProbeProvider    = "provider"
	ProbeVectorIndex = "vector_index"
	ProbeObjectStore = "object_store"
	ProbeEventBus    = "event_bus"
	ProbeLock        = "lock"
)

type closer struct {
	name string
	fn   func(context.Context) error
}

// application is the composition root: every adapter built from config and
// the job runner wired over them.
type application struct {
	runner  *service.JobRunner
	meters  *meterSummary
	closers []closer
}

func (a *application) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			slogger.Warn(ctx, "Failed to close resource", slogger.Fields{
				"resource": c.name,
				"error":    err.Error(),
			})
		}
	}
	a.closers = nil
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongodb.Connection, error) {
	conn, err := mongodb.Connect(ctx, mongodb.ConnectionConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	}, mongodb.CollectionNames{
		Articles: cfg.Mongo.Collections.Articles,
		Jobs:     cfg.Mongo.Collections.Jobs,
		Batches:  cfg.Mongo.Collections.Batches,
		Logs:     cfg.Mongo.Collections.Logs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return conn, nil
}

// newApplication builds every configured backend. Only MongoDB is dialled
// here; the other clients connect lazily so an unreachable backend fails the
// job in its initializing stage. Optional backends (object store, event bus,
// lock) are left nil when their address is empty.
func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	conn, err := connectMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.onClose("mongodb", conn.Close)

	jobLogLevel, err := slogger.ParseLevel(cfg.Log.JobLogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log.job_log_level: %w", err)
	}
	if err := configureLogging(cfg, slogger.NewJobLogHandler(mongodb.NewJobLogRepository(conn), jobLogLevel)); err != nil {
		return nil, err
	}

	app.meters, err = newMeterSummary()
	if err != nil {
		return nil, err
	}
	app.onClose("meter_provider", app.meters.Shutdown)

	documents := mongodb.NewDocumentRepository(conn)
	jobs := mongodb.NewJobRepository(conn)
	batches := mongodb.NewBatchRepository(conn)
	if err := batches.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	provider, err := openai.NewBatchClient(openai.ClientConfig{
		APIKey:           cfg.OpenAI.APIKey,
		BaseURL:          cfg.OpenAI.BaseURL,
		Endpoint:         cfg.OpenAI.Endpoint,
		CompletionWindow: cfg.OpenAI.CompletionWindow,
		MaxRetries:       cfg.OpenAI.MaxRetries,
		Timeout:          cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	probes := []outbound.DependencyProbe{
		outbound.ProbeFunc{ProbeName: ProbeDocuments, Fn: conn.Ping},
		outbound.ProbeFunc{ProbeName: ProbeProvider, Fn: provider.Probe},
	}

	index, indexProbe, err := app.newVectorIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	probes = append(probes, outbound.ProbeFunc{ProbeName: ProbeVectorIndex, Fn: indexProbe})

	var artifacts outbound.ArtifactStore
	if cfg.ObjectStore.Bucket != "" {
		store, err := objectstore.NewS3Store(ctx, objectstore.Config{
			Bucket:       cfg.ObjectStore.Bucket,
			Region:       cfg.ObjectStore.Region,
			Endpoint:     cfg.ObjectStore.Endpoint,
			UsePathStyle: cfg.ObjectStore.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		artifacts = store
		probes = append(probes, outbound.ProbeFunc{ProbeName: ProbeObjectStore, Fn: store.Probe})
	}

	var events outbound.JobEventPublisher
	if cfg.NATS.URL != "" {
		publisher, err := messaging.NewNATSStagePublisher(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("invalid nats configuration: %w", err)
		}
		if err := publisher.Connect(); err != nil {
			return nil, err
		}
		app.onClose("nats", func(context.Context) error { return publisher.Disconnect() })
		events = publisher
		probes = append(probes, outbound.ProbeFunc{ProbeName: ProbeEventBus, Fn: publisher.Probe})
	}

	var jobLock outbound.JobLock
	if cfg.Redis.Addr != "" {
		redisLock, err := lock.NewRedisJobLock(lock.Options{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.LockTTL,
		})
		if err != nil {
			return nil, err
		}
		app.onClose("redis", func(context.Context) error { return redisLock.Close() })
		jobLock = redisLock
		probes = append(probes, outbound.ProbeFunc{ProbeName: ProbeLock, Fn: redisLock.Probe})
	}

	pipelineMetrics, err := worker.NewPipelineMetrics(app.meters.Meter("embeddingjob/worker"))
	if err != nil {
		return nil, err
	}
	stageMetrics, err := service.NewStageMetrics(app.meters.Meter("embeddingjob/service"))
	if err != nil {
		return nil, err
	}

	tokenizer, err := worker.NewTiktokenTokenizer()
	if err != nil {
		return nil, err
	}
	cutoff, err := cfg.Documents.Cutoff()
	if err != nil {
		return nil, err
	}

	builder := worker.NewBatchBuilder(
		documents,
		batches,
		worker.NewInputTextBuilder(tokenizer, cfg.Batch.MaxInputTokens),
		worker.BatchBuilderConfig{
			BatchSize:      cfg.Batch.Size,
			DisplayedSince: cutoff,
			PublishedState: cfg.Documents.PublishedState,
			MaxDocuments:   cfg.Documents.MaxDocuments,
			Model:          cfg.OpenAI.Model,
			Endpoint:       cfg.OpenAI.Endpoint,
			EncodingFormat: cfg.OpenAI.EncodingFormat,
		},
		pipelineMetrics,
	)
	submitter := worker.NewBatchSubmitter(batches, provider, artifacts, builder, worker.BatchSubmitterConfig{
		Concurrency:           cfg.Batch.SubmitConcurrency,
		MaxSubmissionAttempts: cfg.Batch.MaxSubmissionAttempts,
		InitialBackoff:        cfg.Batch.InitialBackoff,
		MaxBackoff:            cfg.Batch.MaxBackoff,
		ScratchDir:            cfg.Batch.ScratchDir,
		ArtifactPrefix:        cfg.ObjectStore.Prefix,
	}, pipelineMetrics)
	poller := worker.NewBatchPoller(batches, provider, worker.BatchPollerConfig{
		PollInterval: cfg.Poller.Interval,
		MaxDuration:  cfg.Poller.MaxDuration,
	}, pipelineMetrics)
	ingestor := worker.NewResultIngestor(batches, documents, provider, index, worker.ResultIngestorConfig{
		Dimensions: cfg.OpenAI.Dimensions,
	}, pipelineMetrics)

	app.runner, err = service.NewJobRunner(service.Dependencies{
		Jobs:      jobs,
		Batches:   batches,
		Builder:   builder,
		Submitter: submitter,
		Poller:    poller,
		Ingestor:  ingestor,
		Probes:    probes,
		Events:    events,
		Lock:      jobLock,
		Metrics:   stageMetrics,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newVectorIndex builds the configured vector index and its probe.
func (a *application) newVectorIndex(
	ctx context.Context,
	cfg *config.Config,
) (outbound.VectorIndex, func(context.Context) error, error) {
	switch cfg.VectorIndex.Driver {
	case config.VectorDriverPgvector:
		pool, err := vectorindex.NewDatabaseConnection(ctx, vectorindex.PoolConfig{DSN: cfg.Database.DSN()})
		if err != nil {
			return nil, nil, err
		}
		a.onClose("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
		index, err := vectorindex.NewPgvectorIndex(pool, cfg.VectorIndex.Name, cfg.OpenAI.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return index, index.Probe, nil
	case config.VectorDriverWeaviate:
		index, err := vectorindex.NewWeaviateIndex(vectorindex.WeaviateConfig{
			Host:   cfg.Weaviate.Host,
			Scheme: cfg.Weaviate.Scheme,
			APIKey: cfg.Weaviate.APIKey,
		}, cfg.VectorIndex.Name)
		if err != nil {
			return nil, nil, err
		}
		return index, index.Probe, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector index driver: %s", cfg.VectorIndex.Driver)
	}
}
