package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bwmarrin/snowflake"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	v1 "docrag/handler/http/v1"
	"docrag/src/core/chunker"
	"docrag/src/core/decoder"
	"docrag/src/core/embedder"
	"docrag/src/core/index"
	"docrag/src/core/ingestion"
	"docrag/src/core/query"
	"docrag/src/core/rag"
	"docrag/src/core/synthesizer"
	"docrag/src/core/trigger"
	"docrag/src/fsutil"
	"docrag/src/infrastructure/integrations"
	"docrag/src/infrastructure/integrations/unstructured"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
	"docrag/src/storage/minioctrl"
	"docrag/src/storage/pgvector"
	"docrag/src/storage/weaviate"
)

const (
	transportAMQP      = "amqp"
	transportGoChannel = "gochannel"
)

// app holds every component a command may need. Commands build it once with
// newApp and release it with Close.
type app struct {
	jobs       *job.JobService
	trigger    *trigger.Service
	queries    *query.Orchestrator
	index      index.Index
	minio      *minioctrl.MinioService
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
	health     map[string]v1.HealthCheck
	closers    []func() error
}

// newApp wires the pipeline from viper settings.
func newApp(ctx context.Context) (*app, error) {
	a := &app{
		logger: log.NewWatermillLogger(),
		health: make(map[string]v1.HealthCheck),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	// Job stores
	stores, err := a.openStores()
	if err != nil {
		return err
	}
	repo, steps, cooldowns := stores.jobs, stores.steps, stores.cooldowns

	// Message transport
	if err := a.openTransport(); err != nil {
		return err
	}

	// Vector index
	dimension := viper.GetInt("embedding.dimensions")
	idx, err := a.openIndex(ctx, dimension)
	if err != nil {
		return err
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector index: %w", err)
	}
	a.index = index.WithTimeout(idx, viper.GetDuration("index.timeout"))
	a.health["index"] = a.index.EnsureCollection

	// File access
	files := fsutil.NewRouter(fsutil.NewLocalFileStore(viper.GetString("files.root")))
	if endpoint := viper.GetString("minio.endpoint"); endpoint != "" {
		a.minio, err = minioctrl.NewMinioService(
			endpoint,
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetBool("minio.use_ssl"),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize minio service: %w", err)
		}
		files.Handle(minioctrl.Scheme, a.minio)
	}

	// Model providers
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	creds := integrations.Credentials{
		OpenAIKey:     viper.GetString("openai.api_key"),
		OpenAIBaseURL: viper.GetString("openai.base_url"),
		OllamaURL:     viper.GetString("ollama.url"),
		GeminiKey:     viper.GetString("gemini.api_key"),
		HTTPClient:    httpClient,
	}
	embeddingClient, err := integrations.NewEmbeddingClient(ctx, creds, integrations.ModelConfig{
		Provider:   viper.GetString("embedding.provider"),
		Model:      viper.GetString("embedding.model"),
		Dimensions: dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	llm, err := integrations.NewLanguageModel(ctx, creds, integrations.ModelConfig{
		Provider:    viper.GetString("llm.provider"),
		Model:       viper.GetString("llm.model"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize language model: %w", err)
	}
	vision, err := integrations.NewVisionModel(ctx, creds, integrations.ModelConfig{
		Provider:  viper.GetString("vision.provider"),
		Model:     viper.GetString("vision.model"),
		MaxTokens: viper.GetInt("llm.max_tokens"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vision model: %w", err)
	}

	// Pipeline components
	dec := newDecoder(files, vision, httpClient)
	chk, err := chunker.New(
		chunker.WithMaxChars(viper.GetInt("chunker.max_chars")),
		chunker.WithOverlap(viper.GetInt("chunker.overlap")),
	)
	if err != nil {
		return err
	}
	emb, err := embedder.New(embeddingClient, dimension, viper.GetInt("embedding.batch_size"))
	if err != nil {
		return err
	}

	ingest := ingestion.NewOrchestrator(dec, chk, emb, a.index, steps)
	limits := query.Limits{
		MinTopK: viper.GetInt("query.min_top_k"),
		MaxTopK: viper.GetInt("query.max_top_k"),
	}
	if viper.IsSet("index.score_threshold") {
		threshold := viper.GetFloat64("index.score_threshold")
		limits.ScoreThreshold = &threshold
	}
	a.queries = query.NewOrchestrator(emb, a.index, synthesizer.New(llm), steps, limits)

	// Job service
	node, err := snowflake.NewNode(viper.GetInt64("worker.node_id"))
	if err != nil {
		return fmt.Errorf("failed to create id generator: %w", err)
	}
	retry := job.DefaultRetryPolicy
	retry.MaxAttempts = viper.GetInt("retry.max_attempts")
	retry.InitialInterval = viper.GetDuration("retry.initial_interval")

	cooldown := job.NewSourceCooldown(cooldowns, viper.GetDuration("cooldown.window"))
	a.jobs = job.NewJobService(a.publisher, repo, node, retry, a.logger)
	a.jobs.Register(job.TaskTypeIngestFile, ingest.Task(), ingestion.ReleaseCooldown(cooldown))
	a.jobs.Register(job.TaskTypeQueryDocuments, a.queries.Task(), nil)

	maxWait := viper.GetDuration("throttle.max_wait")
	a.trigger = trigger.NewService(
		a.jobs,
		a.queries,
		a.index,
		cooldown,
		job.NewThrottle(stores.slots, job.TaskTypeIngestFile,
			viper.GetInt("throttle.ingest.limit"), viper.GetDuration("throttle.ingest.period"), maxWait),
		job.NewThrottle(stores.slots, job.TaskTypeQueryDocuments,
			viper.GetInt("throttle.query.limit"), viper.GetDuration("throttle.query.period"), maxWait),
	)

	return nil
}

// jobStores holds job state shared by every process using the same store.
type jobStores struct {
	jobs      job.JobRepository
	steps     job.StepLog
	cooldowns job.CooldownStore
	slots     job.SlotStore
}

func (a *app) openStores() (jobStores, error) {
	switch store := viper.GetString("jobs.store"); store {
	case "memory":
		return jobStores{
			jobs:      job.NewMemoryJobRepository(),
			steps:     job.NewMemoryStepLog(),
			cooldowns: job.NewMemoryCooldownStore(),
			slots:     job.NewMemorySlotStore(),
		}, nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			viper.GetString("postgres.host"),
			viper.GetString("postgres.user"),
			viper.GetString("postgres.password"),
			viper.GetString("postgres.db"),
			viper.GetString("postgres.port"),
		)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return jobStores{}, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Get underlying *sql.DB for cleanup
		sqlDB, err := db.DB()
		if err != nil {
			return jobStores{}, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.health["database"] = sqlDB.PingContext

		if err := job.Migrate(db); err != nil {
			return jobStores{}, fmt.Errorf("failed to migrate job tables: %w", err)
		}
		return jobStores{
			jobs:      job.NewPostgresJobRepository(db),
			steps:     job.NewPostgresStepLog(db),
			cooldowns: job.NewPostgresCooldownStore(db),
			slots:     job.NewPostgresSlotStore(db),
		}, nil
	default:
		return jobStores{}, fmt.Errorf("unknown jobs.store %q", store)
	}
}

func (a *app) openTransport() error {
	switch transport := viper.GetString("jobs.transport"); transport {
	case transportGoChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, a.logger)
		a.publisher, a.subscriber = pubSub, pubSub
		a.closers = append(a.closers, pubSub.Close)
		return nil
	case transportAMQP:
		amqpURL := viper.GetString("amqp.url")

		// Initialize AMQP publisher
		publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(amqpURL), a.logger)
		if err != nil {
			return fmt.Errorf("failed to create amqp publisher: %w", err)
		}
		a.publisher = publisher
		a.closers = append(a.closers, publisher.Close)

		// Initialize AMQP subscriber
		subscriberConfig := amqp.NewDurableQueueConfig(amqpURL)
		subscriberConfig.Consume.NoRequeueOnNack = true
		subscriber, err := amqp.NewSubscriber(subscriberConfig, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create amqp subscriber: %w", err)
		}
		a.subscriber = subscriber
		a.closers = append(a.closers, subscriber.Close)
		return nil
	default:
		return fmt.Errorf("unknown jobs.transport %q", transport)
	}
}

func (a *app) openIndex(ctx context.Context, dimension int) (index.Index, error) {
	switch backend := viper.GetString("index.backend"); backend {
	case "memory":
		return index.NewMemory(dimension), nil
	case "weaviate":
		wc, err := weaviateClient.NewClient(weaviateClient.Config{
			Host:   viper.GetString("weaviate.host"),
			Scheme: viper.GetString("weaviate.scheme"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create weaviate client: %w", err)
		}
		return weaviate.NewIndex(weaviate.NewSDK(wc), viper.GetString("weaviate.class"), dimension), nil
	case "pgvector":
		store, err := pgvector.New(ctx, viper.GetString("pgvector.url"), viper.GetString("pgvector.table"), dimension)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown index.backend %q", backend)
	}
}

func newDecoder(files decoder.FileReader, vision rag.VisionModel, httpClient *http.Client) *decoder.Decoder {
	var fallback decoder.Strategy
	if u := viper.GetString("unstructured.url"); u != "" {
		fallback = unstructured.NewUnstructuredService(u, httpClient)
	}

	var ocr, describe decoder.Strategy
	if viper.GetBool("ocr.enabled") {
		ocr = decoder.NewOCR(decoder.ExecRunner{}, viper.GetString("ocr.command"), viper.GetInt("ocr.min_chars"))
	}
	if vision != nil {
		describe = decoder.NewVision(vision)
	}

	return decoder.New(files,
		decoder.WithStrategies(rag.FileTypePDF, decoder.PDFText{}, fallback),
		decoder.WithStrategies(rag.FileTypeWord, decoder.DocxText{}, fallback),
		decoder.WithStrategies(rag.FileTypeImage, ocr, describe),
		decoder.WithStrategies(rag.FileTypeText, decoder.PlainText{}),
	)
}

// newRouter builds the job router. Competing AMQP consumers run
// worker.concurrency handlers per task type; gochannel fans out, so it gets
// exactly one.
func (a *app) newRouter() (*message.Router, error) {
	handlers := 1
	if viper.GetString("jobs.transport") == transportAMQP {
		handlers = viper.GetInt("worker.concurrency")
	}
	return a.jobs.NewRouter(a.subscriber, handlers, a.logger)
}

// embedded reports whether jobs only reach workers in this process.
func (a *app) embedded() bool {
	return viper.GetString("jobs.transport") == transportGoChannel
}

// startEmbeddedWorker runs a router in the background when the transport is
// in-process. The returned stop function waits for it to finish.
func (a *app) startEmbeddedWorker(ctx context.Context) (stop func(), err error) {
	if !a.embedded() {
		return func() {}, nil
	}

	router, err := a.newRouter()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Embedded worker stopped")
		}
	}()
	<-router.Running()

	return func() {
		cancel()
		<-done
	}, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error(err, "Failed to close resource")
		}
	}
	a.closers = nil
}
