package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/kirillkom/card-enricher/internal/config"
	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"github.com/kirillkom/card-enricher/internal/core/usecase"
	"github.com/kirillkom/card-enricher/internal/infrastructure/browser"
	"github.com/kirillkom/card-enricher/internal/infrastructure/extractor/document"
	"github.com/kirillkom/card-enricher/internal/infrastructure/httpfetch"
	"github.com/kirillkom/card-enricher/internal/infrastructure/imageproc"
	"github.com/kirillkom/card-enricher/internal/infrastructure/jsonld"
	"github.com/kirillkom/card-enricher/internal/infrastructure/llm"
	"github.com/kirillkom/card-enricher/internal/infrastructure/queue/nats"
	"github.com/kirillkom/card-enricher/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
	"github.com/kirillkom/card-enricher/internal/infrastructure/scheduler"
	"github.com/kirillkom/card-enricher/internal/infrastructure/storage/badgerstore"
	"github.com/kirillkom/card-enricher/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/card-enricher/internal/infrastructure/transcribe"
	"github.com/kirillkom/card-enricher/internal/infrastructure/unfurl"
	"github.com/kirillkom/card-enricher/internal/observability/metrics"
)

type Options struct {
	// Service labels metrics and logs ("api", "worker", "cardctl").
	Service string
	// ConnectQueue opens the NATS connection; only processes that publish or consume jobs need it.
	ConnectQueue bool
}

type App struct {
	Config config.Config

	DB        *sql.DB
	Cards     *postgres.CardRepository
	Jobs      *postgres.JobRepository
	Blobs     ports.BlobStore
	Scheduler ports.Scheduler
	Queue     *nats.Queue

	Intake  ports.CardIntake
	Admin   ports.Administration
	Handler ports.JobHandler

	Metrics *metrics.WorkerMetrics

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	if err := app.build(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	service := opts.Service
	if service == "" {
		service = "card-enricher"
	}
	a.Metrics = metrics.NewWorkerMetrics(service)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.DB = db
	a.Cards = postgres.NewCardRepository(db)
	a.Jobs = postgres.NewJobRepository(db)
	a.Scheduler = scheduler.NewDurable(a.Jobs)

	blobs, err := a.openBlobStore()
	if err != nil {
		return err
	}
	a.Blobs = blobs

	if opts.ConnectQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: a.executor(resilience.PublishConfig()),
			DrainTimeout:       time.Duration(cfg.NATSDrainTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		a.onClose(queue.Close)
		a.Queue = queue
	}

	external := a.executor(resilience.ExternalAPIConfig())

	describer, err := a.buildDescriber(ctx)
	if err != nil {
		return err
	}
	transcriber, err := a.buildTranscriber(ctx, external)
	if err != nil {
		return err
	}
	unfurler := a.buildUnfurler(external)

	fetcher := httpfetch.New(60*time.Second, int64(cfg.FetchMaxBytes), a.executor(resilience.DefaultConfig()))
	extractor := document.NewExtractor(cfg.DocumentTextMaxChars)
	processor := imageproc.New()
	sandbox := browser.NewSandbox(cfg.BrowserBin, cfg.BrowserHeadless)
	a.onClose(func() { _ = sandbox.Close() })

	structured := jsonld.New(a.executor(resilience.DefaultConfig()))

	pipeline := usecase.NewPipelineUseCase(a.Cards, a.Scheduler, structured)
	linkMetadata := usecase.NewLinkMetadataUseCase(a.Cards, unfurler, a.Scheduler, a.Metrics)
	aiMetadata := usecase.NewAIMetadataUseCase(a.Cards, blobs, fetcher, describer, transcriber, extractor, a.Scheduler, a.Metrics)
	renderables := usecase.NewRenderablesUseCase(
		a.Cards,
		usecase.NewImageThumbnailer(a.Cards, blobs, fetcher, processor),
		usecase.NewVideoThumbnailer(a.Cards, blobs, sandbox),
		usecase.NewSVGThumbnailer(a.Cards, blobs, fetcher, sandbox),
		usecase.NewPDFThumbnailer(a.Cards, blobs, sandbox),
		a.Scheduler,
		a.Metrics,
	)
	aiBackfill := usecase.NewAIBackfillUseCase(a.Cards, a.Scheduler)
	linkBackfill := usecase.NewLinkBackfillUseCase(a.Cards, a.Scheduler, cfg.LinkBackfillPageSize)
	cleanup := usecase.NewCleanupUseCase(a.Cards, blobs, a.Scheduler)

	a.Intake = pipeline
	a.Admin = usecase.NewAdminUseCase(a.Cards, blobs, pipeline, aiMetadata, renderables, linkMetadata, aiBackfill, linkBackfill, cleanup)
	a.Handler = usecase.NewJobRouter(pipeline, linkMetadata, aiMetadata, renderables, linkBackfill, aiBackfill, cleanup)
	return nil
}

func (a *App) executor(cfg resilience.Config) *resilience.Executor {
	return resilience.NewExecutor(cfg).WithObserver(a.Metrics)
}

func (a *App) openBlobStore() (ports.BlobStore, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case "badger":
		store, err := badgerstore.Open(cfg.BadgerPath, cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("open badger blob store: %w", err)
		}
		a.onClose(func() { _ = store.Close() })
		return store, nil
	case "fs", "":
		store, err := localfs.New(cfg.StoragePath, cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init blob storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob backend %q (supported: fs, badger)", cfg.BlobBackend)
	}
}

func (a *App) buildDescriber(ctx context.Context) (*llm.Describer, error) {
	cfg := a.Config
	llmCfg := llm.Config{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		TextModel:   cfg.LLMTextModel,
		VisionModel: cfg.LLMVisionModel,
		Version:     cfg.LLMModelVersion,
		Timeout:     time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
	}
	text, err := llm.NewChatModel(ctx, llmCfg, llmCfg.TextModel)
	if err != nil {
		return nil, fmt.Errorf("init text model: %w", err)
	}
	vision := text
	if llmCfg.VisionModel != "" && llmCfg.VisionModel != llmCfg.TextModel {
		vision, err = llm.NewChatModel(ctx, llmCfg, llmCfg.VisionModel)
		if err != nil {
			return nil, fmt.Errorf("init vision model: %w", err)
		}
	}
	meta := domain.AIModelMeta{
		Provider: llmCfg.Provider,
		Model:    llmCfg.TextModel,
		Version:  llmCfg.Version,
	}
	return llm.NewDescriber(text, vision, meta, a.executor(resilience.ExternalAPIConfig())), nil
}

func (a *App) buildTranscriber(ctx context.Context, executor *resilience.Executor) (ports.Transcriber, error) {
	cfg := a.Config
	var secondary ports.Transcriber
	if cfg.GenAIAPIKey != "" {
		gen, err := transcribe.NewGenAI(ctx, cfg.GenAIAPIKey, cfg.GenAITranscribeModel)
		if err != nil {
			return nil, fmt.Errorf("init genai transcriber: %w", err)
		}
		secondary = gen
	}
	if cfg.TranscribeAPIKey == "" && secondary != nil {
		return secondary, nil
	}
	primary := transcribe.New(cfg.TranscribeBaseURL, cfg.TranscribeAPIKey, cfg.TranscribeModel, executor)
	if secondary == nil {
		return primary, nil
	}
	return transcribe.NewFallback(primary, secondary), nil
}

func (a *App) buildUnfurler(executor *resilience.Executor) ports.Unfurler {
	cfg := a.Config
	microlink := unfurl.NewMicrolink(cfg.UnfurlBaseURL, executor)
	if cfg.UnfurlCacheRedisAddr == "" {
		return microlink
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.UnfurlCacheRedisAddr})
	a.onClose(func() { _ = client.Close() })
	slog.Info("unfurl_cache_enabled", "addr", cfg.UnfurlCacheRedisAddr, "ttl_seconds", cfg.UnfurlCacheTTLSeconds)
	return unfurl.NewCached(microlink, client, time.Duration(cfg.UnfurlCacheTTLSeconds)*time.Second)
}

// NewDispatcher moves due scheduled jobs onto the queue. Requires ConnectQueue.
func (a *App) NewDispatcher() (*scheduler.Dispatcher, error) {
	if a.Queue == nil {
		return nil, fmt.Errorf("dispatcher requires a queue connection")
	}
	cfg := a.Config
	return scheduler.NewDispatcher(a.Jobs, a.Queue, a.Metrics, scheduler.DispatcherConfig{
		PollInterval: time.Duration(cfg.DispatchPollMS) * time.Millisecond,
		BatchSize:    cfg.DispatchBatch,
		RatePerSec:   float64(cfg.DispatchRatePerSec),
		Retention:    time.Duration(cfg.DispatchRetentionHours) * time.Hour,
	}), nil
}

// StartCron registers the periodic triggers; callers stop the returned cron on shutdown.
func (a *App) StartCron(ctx context.Context) (*cron.Cron, error) {
	c, err := scheduler.NewCron(ctx, a.Scheduler, scheduler.PeriodicSpecs{
		Cleanup:      a.Config.CleanupCron,
		AIBackfill:   a.Config.AIBackfillCron,
		LinkBackfill: a.Config.LinkBackfillCron,
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
