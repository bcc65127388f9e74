// The worker binary drains the analysis.requested topic: it fetches the
// archived document, runs the detection engine and persists the outcome.
// Concurrency is a pool of consumers sharing one group, so partitions
// spread across loops and across worker replicas alike.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	"github.com/defectwise/defectwise/internal/bootstrap"
	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/database/postgres"
	"github.com/defectwise/defectwise/internal/infrastructure/database/postgres/repositories"
	"github.com/defectwise/defectwise/internal/infrastructure/database/redis"
	"github.com/defectwise/defectwise/internal/infrastructure/messaging/kafka"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/prometheus"
	"github.com/defectwise/defectwise/internal/infrastructure/search/opensearch"
	"github.com/defectwise/defectwise/internal/infrastructure/storage/minio"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: environment only)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: []string{cfg.Log.Output},
	})
	if err != nil {
		return err
	}
	logger = logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		Subsystem:            "worker",
		EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
		EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	engine, err := bootstrap.BuildEngine(cfg, logger)
	if err != nil {
		return err
	}

	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	repo := repositories.NewAnalysisRepository(conn.Pool(), logger)

	var (
		cache redis.Cache
		locks *redis.LockFactory
	)
	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching and locking disabled", logging.Err(err))
	} else {
		defer func() { _ = redisClient.Close() }()
		cache = redis.NewCache(redisClient, logger,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.Redis.DefaultTTL))
		locks = redis.NewLockFactory(redisClient, logger)
	}

	// The producer carries completion and failure events back out.
	var publisher appAnalysis.Publisher
	producer, err := kafka.NewProducer(kafka.ProducerConfigFromApp(cfg.Kafka), logger)
	if err != nil {
		logger.Warn("kafka producer unavailable, lifecycle events disabled", logging.Err(err))
	} else {
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	// Without the archive, source-backed analyses cannot be processed.
	var archive appAnalysis.DocumentArchive
	minioClient, err := minio.NewClient(cfg.MinIO, logger)
	if err != nil {
		logger.Warn("minio unavailable, archived documents cannot be fetched", logging.Err(err))
	} else {
		defer func() { _ = minioClient.Close() }()
		archive = bootstrap.NewDocumentArchive(minio.NewObjectRepository(minioClient, logger))
	}

	var indexer appAnalysis.DefectIndexer
	osClient, err := opensearch.NewClient(cfg.OpenSearch, logger)
	if err != nil {
		logger.Warn("opensearch unavailable, defect indexing disabled", logging.Err(err))
	} else {
		defer func() { _ = osClient.Close() }()
		index := osClient.IndexName("defects")
		osIndexer := opensearch.NewIndexer(osClient, opensearch.IndexerConfig{BulkBatchSize: cfg.OpenSearch.BulkBatchSize}, logger)
		if err := osIndexer.EnsureIndex(ctx, index, opensearch.DefectsIndexMapping()); err != nil {
			logger.Warn("opensearch index unavailable, defect indexing disabled", logging.Err(err))
		} else {
			indexer = bootstrap.NewDefectIndexer(osIndexer, index)
		}
	}

	svc, err := appAnalysis.NewService(appAnalysis.Deps{
		Repo:      repo,
		Engine:    engine,
		Cache:     cache,
		Archive:   archive,
		Publisher: publisher,
		Indexer:   indexer,
		Metrics:   metrics,
		Logger:    logger.Named("analysis"),
	})
	if err != nil {
		return err
	}

	// Consumer pool. Each consumer runs one consume loop; they share a
	// group, so Kafka balances partitions across them.
	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	consumers := make([]*kafka.Consumer, 0, concurrency)
	defer func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	}()
	handler := requestedHandler(svc, locks, logger)
	for i := 0; i < concurrency; i++ {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFromApp(cfg.Kafka, kafka.TopicAnalysisRequested), logger.Named(fmt.Sprintf("consumer-%d", i)))
		if err != nil {
			return err
		}
		consumer.Subscribe(kafka.TopicAnalysisRequested, handler)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		consumers = append(consumers, consumer)
	}
	logger.Info("worker started",
		logging.Int("concurrency", concurrency),
		logging.String("topic", kafka.TopicAnalysisRequested))

	health := healthServer(cfg.Worker.HealthPort, collector.Handler())
	go func() {
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", logging.Err(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining consumers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
	return nil
}

// requestedHandler processes one analysis.requested event. A non-nil
// return leaves the message for the consumer's retry and dead letter
// path; nil commits it.
func requestedHandler(svc appAnalysis.Service, locks *redis.LockFactory, logger logging.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		env, err := kafka.MessageToEventEnvelope(msg)
		if err != nil {
			return err
		}
		var payload kafka.AnalysisRequestedPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}

		// A redelivered event may race a slow first delivery; the mutex
		// keeps one analysis on one worker at a time.
		if locks != nil {
			mu := locks.NewMutex("analysis:"+payload.AnalysisID, redis.WithWatchdog(true))
			acquired, err := mu.TryLock(ctx)
			if err != nil {
				return err
			}
			if !acquired {
				return redis.ErrLockNotAcquired
			}
			defer func() { _ = mu.Unlock(context.Background()) }()
		}

		err = svc.ProcessSubmitted(ctx, payload.AnalysisID)
		switch {
		case err == nil:
			return nil
		case appErrors.IsCode(err, appErrors.ErrCodeAnalysisNotFound):
			// The record was deleted after submission. Nothing to retry.
			logger.Warn("skipping event for deleted analysis",
				logging.String("analysis_id", payload.AnalysisID))
			return nil
		default:
			return err
		}
	}
}

// healthServer exposes liveness and metrics on the worker's side port.
func healthServer(port int, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metricsHandler)
	return &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
}
