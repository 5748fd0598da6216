// api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"revsend/api/analytics"
	"revsend/api/config"
	"revsend/api/database"
	"revsend/api/handlers"
	"revsend/api/logging"
	"revsend/api/metrics"
	"revsend/api/middleware"
	"revsend/api/pipeline"
	"revsend/api/provider"
	"revsend/api/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	metrics.Init()

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Data sources ---
	synth, err := provider.NewSynthetic(provider.SyntheticConfig{
		Samples:        cfg.Pipeline.Samples,
		Seed:           cfg.Pipeline.Seed,
		ConversionRate: cfg.Pipeline.ConversionRate,
		ActiveRate:     cfg.Pipeline.ActiveRate,
		Start:          provider.DefaultSyntheticConfig().Start,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure synthetic provider")
	}
	selector := &provider.Selector{Synthetic: synth}

	if cfg.WarehouseEnabled() {
		// --- Initialize PostgreSQL Database (for users) ---
		dbClient, err := database.NewPostgresDB(ctx, cfg.Postgres)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize PostgreSQL database")
		}
		defer dbClient.Close()

		// --- Initialize ClickHouse Database (for tracking events) ---
		chClient, err := database.NewClickHouseDB(ctx, cfg.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize ClickHouse database")
		}
		defer chClient.Close()

		whCfg := provider.DefaultWarehouseConfig()
		whCfg.ActivityWindow = cfg.Pipeline.ActivityWindow
		selector.Warehouse = provider.NewWarehouse(
			store.NewEventStore(chClient),
			store.NewUserStore(dbClient.DB),
			whCfg,
		)
	} else {
		logging.Info().Msg("Warehouse not configured; serving synthetic data only")
	}

	// --- Pipeline ---
	analyticsStore := store.NewAnalyticsStore()
	orchestrator := pipeline.NewOrchestrator(selector, analyticsStore, pipeline.Config{
		Importance: analytics.ImportanceOptions{
			Trees:            cfg.Pipeline.Trees,
			Seed:             cfg.Pipeline.Seed,
			MaxDepth:         cfg.Pipeline.MaxDepth,
			MaxFeatures:      cfg.Pipeline.MaxFeatures,
			DisableBootstrap: !cfg.Pipeline.Bootstrap,
		},
		Segments: analytics.SegmentOptions{
			Clusters: cfg.Pipeline.Clusters,
			Seed:     cfg.Pipeline.Seed,
			NInit:    cfg.Pipeline.KMeansNInit,
			MaxIter:  cfg.Pipeline.KMeansIter,
			Tol:      cfg.Pipeline.KMeansTol,
		},
		TopN: analytics.TopFeatureCount,
	})
	logging.Debug().
		Int("trees", cfg.Pipeline.Trees).
		Int("max_depth", cfg.Pipeline.MaxDepth).
		Bool("bootstrap", cfg.Pipeline.Bootstrap).
		Int("clusters", cfg.Pipeline.Clusters).
		Int("kmeans_n_init", cfg.Pipeline.KMeansNInit).
		Msg("Pipeline configured")

	startupCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
	if _, err := orchestrator.TriggerRun(startupCtx, ""); err != nil {
		logging.Error().Err(err).Msg("Startup pipeline run failed; endpoints report empty results until the next run")
	}
	cancel()
	orchestrator.Start(ctx, cfg.Pipeline.RefreshInterval)

	// --- Initialize Handlers ---
	analyticsHandlers := handlers.NewAnalyticsHandlers(analyticsStore, orchestrator, cfg.Pipeline.RunTimeout)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestMetrics())
	r.Use(middleware.CORSMiddleware(cfg.Server.FEOrigin))

	analyticsHandlers.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Server.Port).Msg("Analytics API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("Analytics API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}

	logging.Info().Msg("Server exiting.")
}
