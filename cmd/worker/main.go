// Package main provides the entry point for the pipeline's Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/config"
	"github.com/helixir/slr-pipeline/internal/database"
	"github.com/helixir/slr-pipeline/internal/fulltext"
	"github.com/helixir/slr-pipeline/internal/inference"
	"github.com/helixir/slr-pipeline/internal/notify"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/papersources"
	"github.com/helixir/slr-pipeline/internal/papersources/arxiv"
	"github.com/helixir/slr-pipeline/internal/papersources/openalex"
	"github.com/helixir/slr-pipeline/internal/papersources/pubmed"
	"github.com/helixir/slr-pipeline/internal/pipeline"
	"github.com/helixir/slr-pipeline/internal/repository"
	"github.com/helixir/slr-pipeline/internal/scoring"
	"github.com/helixir/slr-pipeline/internal/search"
	"github.com/helixir/slr-pipeline/internal/temporal"
	"github.com/helixir/slr-pipeline/internal/temporal/activities"
	"github.com/helixir/slr-pipeline/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("slr-pipeline worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		metricsSrv := startMetricsServer(cfg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}()
	}

	projects := repository.NewPgProjectRepository(db)
	records := repository.NewPgRecordStore(db)
	extractions := repository.NewPgExtractionRepository(db)
	logs := repository.NewPgProcessingLogRepository(db)
	analyses := repository.NewPgAnalysisRepository(db)

	registry := papersources.NewRegistry()
	registerPaperSources(registry, cfg, logger, metrics)

	completer := inference.New(inference.Config{
		BaseURL:     cfg.Inference.BaseURL,
		APIKey:      cfg.Inference.APIKey,
		RepairModel: cfg.Inference.RepairModel,
		Options: inference.Options{
			Temperature: cfg.Inference.Temperature,
			TopP:        cfg.Inference.TopP,
			MaxTokens:   cfg.Inference.MaxTokens,
			Stop:        cfg.Inference.Stop,
		},
		Timeout:       cfg.Inference.Timeout,
		MaxRetries:    cfg.Inference.MaxRetries,
		RetryDelay:    cfg.Inference.RetryDelay,
		MaxRetryDelay: cfg.Inference.MaxRetryDelay,
	}, nil, logger, metrics)
	logger.Info().
		Str("base_url", cfg.Inference.BaseURL).
		Str("screening_model", cfg.Inference.ScreeningModel).
		Str("extraction_model", cfg.Inference.ExtractionModel).
		Msg("inference client created")

	// Progress events go nowhere unless Kafka is configured.
	var channel notify.Channel
	if cfg.Kafka.Enabled {
		publisher := notify.NewPublisher(notify.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close notification publisher")
			}
		}()
		channel = publisher
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.NotificationsTopic).
			Msg("notification publisher created")
	}
	tracker := notify.NewTracker(channel, cfg.Kafka.NotificationsTopic, logger, metrics)

	deps := pipeline.Deps{
		Completer:   completer,
		Records:     records,
		Extractions: extractions,
		Logs:        logs,
		Projects:    projects,
		Notifier:    tracker,
		Logger:      logger,
		Metrics:     metrics,
	}
	if cfg.Pipeline.FullTextDir != "" {
		deps.FullText = fulltext.NewLocalExtractor(cfg.Pipeline.FullTextDir, logger)
	}
	articles := pipeline.New(pipeline.Config{
		ScreeningModel:   cfg.Inference.ScreeningModel,
		ExtractionModel:  cfg.Inference.ExtractionModel,
		MinContentLength: cfg.Pipeline.MinContentLength,
	}, deps)

	scorer, err := newScoringService(cfg, extractions, analyses, logger, metrics)
	if err != nil {
		return err
	}

	coordinator := search.NewCoordinator(registry, records, logger, metrics)

	temporalClient, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.WorkerConfigs(cfg.Temporal.Queues), logger)
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	workflows.New(workflows.ActivityPolicy{
		HeartbeatTimeout: cfg.Temporal.HeartbeatTimeout,
		MaxAttempts:      cfg.Temporal.ActivityMaxAttempts,
	}).Register(manager)

	manager.RegisterActivity(activities.NewSearchActivities(coordinator, projects, tracker))
	manager.RegisterActivity(activities.NewArticleActivities(articles))
	manager.RegisterActivity(activities.NewScoringActivities(scorer))
	manager.RegisterActivity(activities.NewImportActivities(registry, records, projects))
	manager.RegisterActivity(activities.NewStatusActivities(projects, tracker))

	logger.Info().
		Strs("task_queues", manager.Queues()).
		Msg("starting temporal workers")

	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}
	return nil
}

// newScoringService builds the scoring service from the configured term
// list, falling back to the built-in terms.
func newScoringService(
	cfg *config.Config,
	extractions repository.ExtractionRepository,
	analyses repository.AnalysisRepository,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*scoring.Service, error) {
	terms := scoring.DefaultTerms()
	if cfg.Scoring.TermsFile != "" {
		loaded, err := scoring.LoadTerms(cfg.Scoring.TermsFile)
		if err != nil {
			return nil, fmt.Errorf("load scoring terms: %w", err)
		}
		terms = loaded
	}

	engine, err := scoring.NewEngine(terms, cfg.Scoring.ValidationThreshold)
	if err != nil {
		return nil, fmt.Errorf("create scoring engine: %w", err)
	}
	logger.Info().
		Int("terms", len(terms)).
		Float64("validation_threshold", cfg.Scoring.ValidationThreshold).
		Msg("scoring engine created")

	return scoring.NewService(engine, extractions, analyses, cfg.Scoring.AnalysisType, logger, metrics), nil
}

// startMetricsServer serves the Prometheus registry on the metrics port.
func startMetricsServer(cfg *config.Config, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.MetricsAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("address", srv.Addr).Str("path", cfg.Metrics.Path).Msg("metrics server started")
	return srv
}

// registerPaperSources registers all enabled paper sources with the registry.
func registerPaperSources(registry *papersources.Registry, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) {
	ps := cfg.PaperSources

	if ps.PubMed.Enabled {
		registry.Register(pubmed.New(pubmed.Config{
			Enabled:       true,
			BaseURL:       ps.PubMed.BaseURL,
			APIKey:        ps.PubMed.APIKey,
			Email:         ps.PubMed.Email,
			Timeout:       ps.PubMed.Timeout,
			RateLimit:     ps.PubMed.RateLimit,
			MaxResults:    ps.PubMed.MaxResults,
			MaxRetries:    ps.MaxRetries,
			RetryDelay:    ps.RetryDelay,
			MaxRetryDelay: ps.MaxRetryDelay,
		}, nil, logger, metrics))
		logger.Info().Msg("registered paper source: PubMed")
	}

	if ps.ArXiv.Enabled {
		registry.Register(arxiv.New(arxiv.Config{
			Enabled:       true,
			BaseURL:       ps.ArXiv.BaseURL,
			Timeout:       ps.ArXiv.Timeout,
			RateLimit:     ps.ArXiv.RateLimit,
			MaxResults:    ps.ArXiv.MaxResults,
			MaxRetries:    ps.MaxRetries,
			RetryDelay:    ps.RetryDelay,
			MaxRetryDelay: ps.MaxRetryDelay,
		}, nil, logger, metrics))
		logger.Info().Msg("registered paper source: arXiv")
	}

	if ps.OpenAlex.Enabled {
		registry.Register(openalex.New(openalex.Config{
			Enabled:       true,
			BaseURL:       ps.OpenAlex.BaseURL,
			APIKey:        ps.OpenAlex.APIKey,
			Email:         ps.OpenAlex.Email,
			Timeout:       ps.OpenAlex.Timeout,
			RateLimit:     ps.OpenAlex.RateLimit,
			MaxResults:    ps.OpenAlex.MaxResults,
			MaxRetries:    ps.MaxRetries,
			RetryDelay:    ps.RetryDelay,
			MaxRetryDelay: ps.MaxRetryDelay,
		}, nil, logger, metrics))
		logger.Info().Msg("registered paper source: OpenAlex")
	}
}
