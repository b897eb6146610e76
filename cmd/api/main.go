package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"corrlab/internal/api"
	"corrlab/internal/api/handlers"
	"corrlab/internal/config"
	"corrlab/internal/domain/models"
	"corrlab/internal/domain/services"
	"corrlab/internal/infrastructure/cache"
	"corrlab/internal/infrastructure/database"
	"corrlab/internal/infrastructure/database/repository"
	"corrlab/internal/infrastructure/graph"
	"corrlab/internal/streaming"
	"corrlab/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.New(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format})
	}
	logger.SetGlobal(log)

	// run owns all deferred cleanup; a Fatal here would skip it.
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("correlation engine failed")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting correlation engine")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisCache.Close()

	repos := repository.New(db.Pool(), cfg.Engine.FlowFetchTimeout)

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without durable streaming")
			natsPublisher = nil
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	// The bus owns the NATS connection and closes it on shutdown.
	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()

	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)
	go wsHub.RelayEvents(ctx, eventBus)

	eventPublisher := streaming.NewPublisher(eventBus)

	// Initialize Neo4j graph mirror (if enabled)
	var exporter services.GraphExporter
	if cfg.Neo4j.Enabled {
		neo4jClient, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Neo4j, graph mirror disabled")
		} else {
			defer neo4jClient.Close(ctx)
			exporter = graph.NewExporter(neo4jClient, log)
			log.Info().Str("uri", cfg.Neo4j.URI).Msg("Neo4j graph mirror initialized")
		}
	}

	// Initialize engine services
	matcher := services.NewMatcher(services.MatcherConfig{
		FuzzyThreshold:   cfg.Engine.FuzzyMatchThreshold,
		SubnetPrefixBits: cfg.Engine.SubnetPrefixBits,
		TrustedSources:   cfg.Engine.TrustedSources,
	}, log)

	scorer, err := services.NewScorer(services.ScorerConfig{
		Weights: models.ScoringWeights{
			IOCMatch:       cfg.Engine.Weights.IOCMatch,
			TTPMatch:       cfg.Engine.Weights.TTPMatch,
			Temporal:       cfg.Engine.Weights.Temporal,
			Infrastructure: cfg.Engine.Weights.Infrastructure,
		},
		MaxTemporalDistanceHours:   cfg.Engine.MaxTemporalDistanceHours,
		CampaignDetectionThreshold: cfg.Engine.CampaignDetectionThreshold,
		MinCorrelationScore:        cfg.Engine.MinCorrelationScore,
	}, matcher, log)
	if err != nil {
		return fmt.Errorf("invalid scoring configuration: %w", err)
	}

	detector := services.NewDetector(repos.Campaigns, repos.Correlations, repos.Flows, matcher, redisCache, eventPublisher, services.DetectorConfig{
		CampaignDetectionThreshold: cfg.Engine.CampaignDetectionThreshold,
		CampaignMergeThreshold:     cfg.Engine.CampaignMergeThreshold,
		InactivityWindow:           cfg.Engine.InactivityWindow,
		RecentEdgeBias:             cfg.Engine.RecentEdgeBias,
	}, log)

	// Analysis feeds detection: every run that persists correlations
	// triggers a campaign detection pass.
	analyzer := services.NewAnalyzer(repos.Flows, repos.Correlations, repos.Campaigns, scorer, detector, eventPublisher, services.AnalyzerConfig{
		TopCorrelations: cfg.Engine.TopCorrelations,
		Workers:         cfg.Engine.Workers,
	}, log)

	graphBuilder := services.NewGraphBuilder(repos.Flows, repos.Correlations, repos.Campaigns, exporter, log)
	reporter := services.NewReporter(repos.Campaigns, repos.Flows, matcher, nil, log)
	engineStats := services.NewEngineStats()

	// Initialize handlers and router
	h := handlers.NewHandlers(handlers.Dependencies{
		Analyzer:     analyzer,
		Detector:     detector,
		GraphBuilder: graphBuilder,
		Reporter:     reporter,
		Stats:        engineStats,
		Campaigns:    repos.Campaigns,
		DB:           db,
		Cache:        redisCache,
		Logger:       log,
	})

	router := api.NewRouter(*cfg, h, redisCache, wsHub, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
