// The apiserver binary runs the DefectWise REST API: it wires PostgreSQL,
// Redis, Kafka, OpenSearch and MinIO around the detection engine and serves
// the chi route tree. Every backing service except PostgreSQL is optional;
// missing ones degrade the matching feature instead of refusing to start.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	appReporting "github.com/defectwise/defectwise/internal/application/reporting"
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
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	httpiface "github.com/defectwise/defectwise/internal/interfaces/http"
	"github.com/defectwise/defectwise/internal/interfaces/http/handlers"
)

// version is injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (default: environment only)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
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
	logger = logger.Named("apiserver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
		EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	// Detection engine
	engine, err := bootstrap.BuildEngine(cfg, logger)
	if err != nil {
		return err
	}

	// PostgreSQL is the source of truth and therefore required.
	if err := postgres.Migrate(cfg.Database, logger); err != nil {
		return err
	}
	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	repo := repositories.NewAnalysisRepository(conn.Pool(), logger)

	checkers := []handlers.HealthChecker{
		healthChecker{name: "postgres", check: conn.HealthCheck},
	}

	// Redis: dedup and dashboard caching.
	var cache redis.Cache
	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", logging.Err(err))
	} else {
		defer func() { _ = redisClient.Close() }()
		cache = redis.NewCache(redisClient, logger,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.Redis.DefaultTTL))
		checkers = append(checkers, healthChecker{name: "redis", check: redisClient.Ping})
	}

	// Kafka: lifecycle events and async submission.
	var publisher appAnalysis.Publisher
	producer, err := kafka.NewProducer(kafka.ProducerConfigFromApp(cfg.Kafka), logger)
	if err != nil {
		logger.Warn("kafka unavailable, async submission disabled", logging.Err(err))
	} else {
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	// MinIO: the raw document archive.
	var archive appAnalysis.DocumentArchive
	minioClient, err := minio.NewClient(cfg.MinIO, logger)
	if err != nil {
		logger.Warn("minio unavailable, document archive disabled", logging.Err(err))
	} else {
		defer func() { _ = minioClient.Close() }()
		if err := minioClient.EnsureBucket(ctx); err != nil {
			logger.Warn("minio bucket unavailable, document archive disabled", logging.Err(err))
		} else {
			archive = bootstrap.NewDocumentArchive(minio.NewObjectRepository(minioClient, logger))
			checkers = append(checkers, healthChecker{name: "minio", check: func(ctx context.Context) error {
				_, err := minioClient.HealthCheck(ctx)
				return err
			}})
		}
	}

	// OpenSearch: defect search and dashboard aggregations.
	var (
		indexer  appAnalysis.DefectIndexer
		searcher appReporting.Searcher
		index    string
	)
	osClient, err := opensearch.NewClient(cfg.OpenSearch, logger)
	if err != nil {
		logger.Warn("opensearch unavailable, defect search disabled", logging.Err(err))
	} else {
		defer func() { _ = osClient.Close() }()
		index = osClient.IndexName("defects")
		osIndexer := opensearch.NewIndexer(osClient, opensearch.IndexerConfig{BulkBatchSize: cfg.OpenSearch.BulkBatchSize}, logger)
		if err := osIndexer.EnsureIndex(ctx, index, opensearch.DefectsIndexMapping()); err != nil {
			logger.Warn("opensearch index unavailable, defect search disabled", logging.Err(err))
		} else {
			indexer = bootstrap.NewDefectIndexer(osIndexer, index)
			searcher = opensearch.NewSearcher(osClient, opensearch.SearcherConfig{}, logger)
			checkers = append(checkers, healthChecker{name: "opensearch", check: osClient.Ping})
		}
	}

	// Application services
	analysisSvc, err := appAnalysis.NewService(appAnalysis.Deps{
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
	reportingSvc, err := appReporting.NewService(appReporting.Deps{
		Repo:     repo,
		Searcher: searcher,
		Index:    index,
		Cache:    cache,
		Logger:   logger.Named("reporting"),
	})
	if err != nil {
		return err
	}

	// HTTP surface
	tax, err := bootstrap.LoadTaxonomy(cfg)
	if err != nil {
		return err
	}
	router := httpiface.NewRouter(cfg.Server, httpiface.RouterDeps{
		Analysis:       handlers.NewAnalysisHandler(analysisSvc, logger.Named("http")),
		Reporting:      handlers.NewReportingHandler(reportingSvc, logger.Named("http")),
		Taxonomy:       handlers.NewTaxonomyHandler(tax, detector.DefaultAreas()),
		Health:         handlers.NewHealthHandler(version, checkers...),
		MetricsHandler: collector.Handler(),
		Metrics:        metrics,
		Logger:         logger.Named("http"),
	})

	server := httpiface.NewServer(cfg.Server, router, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	return server.Shutdown(context.Background())
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}
