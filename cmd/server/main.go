package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fnol-observability-api/internal/api"
	"fnol-observability-api/internal/config"
	"fnol-observability-api/internal/core"
	"fnol-observability-api/internal/observability/logging"
	"fnol-observability-api/internal/seed"
	"fnol-observability-api/internal/store"
)

func main() {
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.LogLevel)
	logger.Info("starting FNOL observability API", "environment", cfg.Environment)

	seedCount := flag.Int("seed", 0, "Insert N sample FNOL records and exit")
	seedRand := flag.Int64("seed-rand", time.Now().UnixNano(), "Rand seed for -seed data generation")
	flag.Parse()

	dbStore, err := store.NewStore(cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		logger.Error("failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer dbStore.Close()

	if *seedCount > 0 {
		n, err := seed.Run(context.Background(), dbStore, *seedCount, *seedRand)
		if err != nil {
			logger.Error("seeding failed", "inserted", n, "error", err.Error())
			os.Exit(1)
		}
		logger.Info("seeding complete", "inserted", n)
		return
	}

	extractor, err := core.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("failed to initialize extractor", "error", err.Error())
		os.Exit(1)
	}
	defer extractor.Close()

	ingestService := core.NewIngestService(dbStore, extractor, logger, cfg.LLMTimeout)
	queryService := core.NewQueryService(dbStore, logger)

	apiHandler := api.NewAPIHandler(ingestService, queryService, logger)
	router := api.NewRouter(apiHandler, logger, cfg.CORSOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // extraction calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server exited gracefully")
}
