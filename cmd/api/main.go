package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rfalcao/conceptminer/internal/budget"
	"github.com/rfalcao/conceptminer/internal/config"
	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/extract"
	"github.com/rfalcao/conceptminer/internal/gate"
	httpserver "github.com/rfalcao/conceptminer/internal/http"
	"github.com/rfalcao/conceptminer/internal/http/handlers"
	"github.com/rfalcao/conceptminer/internal/provider"
	"github.com/rfalcao/conceptminer/internal/queue"
	"github.com/rfalcao/conceptminer/internal/repository"
	"github.com/rfalcao/conceptminer/internal/route"
	"github.com/rfalcao/conceptminer/internal/segment"
	"github.com/rfalcao/conceptminer/internal/service"
	"github.com/rfalcao/conceptminer/internal/supervisor"
	"github.com/rfalcao/conceptminer/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[conceptminer] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	counterStore := setupCounterStore(ctx, cfg, logger)
	ledger := budget.NewLedger(counterStore, budget.Config{
		PerDocCaps: map[domain.Tier]int{
			domain.TierSmall: cfg.PerDocCapSmall,
			domain.TierBig:   cfg.PerDocCapBig,
		},
		DailyQuotas: map[domain.Tier]int{
			domain.TierSmall: cfg.DailyQuotaSmall,
			domain.TierBig:   cfg.DailyQuotaBig,
		},
	}, logger)

	dispatcher := dispatch.NewDispatcher(setupProvider(cfg, logger), []domain.Tier{domain.TierSmall, domain.TierBig}, dispatch.Config{
		CallsPerWindow: map[domain.Tier]int{
			domain.TierSmall: cfg.DispatchWindowSmall,
			domain.TierBig:   cfg.DispatchWindowBig,
		},
		MaxInFlight:   cfg.DispatchMaxInFlight,
		QueueCapacity: cfg.DispatchQueueCapacity,
		CallTimeout:   time.Duration(cfg.DispatchCallTimeoutMS) * time.Millisecond,
		Breaker: dispatch.BreakerConfig{
			ErrorThreshold: cfg.BreakerErrorThreshold,
			Cooldown:       time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
			MinSamples:     cfg.BreakerMinSamples,
		},
	}, logger)
	defer dispatcher.Close()

	tierRouter := route.NewRouter(route.Config{
		SparseEntityLimit: cfg.RouterSparseEntityLimit,
		DenseEntityLimit:  cfg.RouterDenseEntityLimit,
		LongSegmentTokens: cfg.RouterLongSegmentTokens,
	})
	resultCache := extract.NewResultCache(extract.CacheConfig{
		TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxEntries: cfg.CacheMaxEntries,
	})
	extractor := extract.NewExtractor(tierRouter, ledger, dispatcher, resultCache, extract.Config{
		MaxParallel: cfg.ExtractParallel,
	}, logger)

	profile, err := gate.ProfileByName(cfg.GateProfile)
	if err != nil {
		logger.Printf("%v, falling back to balanced", err)
		profile = gate.ProfileBalanced
	}
	qualityGate := gate.NewGate(gate.Config{
		Profile:           profile,
		SignificantMargin: cfg.GateMargin,
		DomainContext:     cfg.GateDomainContext,
	}, nil, logger)

	segmenter := segment.NewTextSegmenter(segment.TextSegmenterConfig{
		MaxTokens: cfg.SegmentMaxTokens,
	})

	engine, err := supervisor.NewEngine(supervisor.Config{
		TimeoutFloor:      time.Duration(cfg.SupervisorTimeoutFloorSeconds) * time.Second,
		TimeoutCeiling:    time.Duration(cfg.SupervisorTimeoutCeilingSeconds) * time.Second,
		PerSegmentTimeout: time.Duration(cfg.SupervisorPerSegmentTimeoutMS) * time.Millisecond,
		MaxSteps:          cfg.SupervisorMaxSteps,
	}, supervisor.Dependencies{
		Segmenter: segmenter,
		Extractor: extractor,
		Gate:      qualityGate,
		Budget:    ledger,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("engine setup failed: %v", err)
	}

	jobsService := service.NewJobsService(repo, producer)
	api := handlers.NewAPI(jobsService)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, repo, engine, logger)
		concurrency := cfg.WorkerConcurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		for i := 0; i < concurrency; i++ {
			go func() {
				if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Printf("worker stopped: %v", err)
				}
			}()
		}
		logger.Printf("worker enabled with concurrency=%d", concurrency)
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(cfg.LocalQueueBuffer, cfg.QueueMaxAttempts, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(cfg.LocalQueueBuffer, cfg.QueueMaxAttempts, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}

func setupCounterStore(ctx context.Context, cfg config.Config, logger *log.Logger) budget.CounterStore {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, daily quotas tracked in memory")
		return budget.NewMemoryCounterStore()
	}
	store, err := budget.NewRedisCounterStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Printf("failed to initialize redis counter store, fallback to memory: %v", err)
		return budget.NewMemoryCounterStore()
	}
	logger.Printf("redis counter store initialized")
	return store
}

func setupProvider(cfg config.Config, logger *log.Logger) dispatch.Provider {
	client := provider.NewHTTPClient(provider.HTTPClientConfig{
		APIKey:     cfg.ProviderAPIKey,
		BaseURL:    cfg.ProviderBaseURL,
		Timeout:    time.Duration(cfg.ProviderTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.ProviderMaxRetries,
		Models: map[domain.Tier]string{
			domain.TierSmall: cfg.ModelSmall,
			domain.TierBig:   cfg.ModelBig,
		},
		CostPerCall: map[domain.Tier]float64{
			domain.TierSmall: cfg.CostPerCallSmall,
			domain.TierBig:   cfg.CostPerCallBig,
		},
	})
	if !client.Available() {
		logger.Printf("PROVIDER_API_KEY not configured, using deterministic stub provider")
		return provider.NewStubProvider()
	}
	return client
}
