package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/database"
	"vehicle-deal-tracker/internal/fetch"
	"vehicle-deal-tracker/internal/handlers"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/query"
	"vehicle-deal-tracker/internal/ratelimit"
	"vehicle-deal-tracker/internal/scheduler"
	"vehicle-deal-tracker/internal/search"
)

func main() {
	// Load configuration
	configPath := getEnv("CONFIG_PATH", "config/dealfinder.yaml")
	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}
	log.Printf("Loaded configuration from %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database based on configuration
	store, err := database.Open(appConfig.Database, appConfig.Logging.GormLogLevel())
	if err != nil {
		log.Fatalf("Failed to open %s database: %v", appConfig.Database.Type, err)
	}
	defer store.Close()
	log.Printf("Using %s database", appConfig.Database.Type)

	queryService := query.NewService(store, appConfig.Filters)
	engine := merge.NewEngineWithConfig(store, merge.EngineConfig{
		MaxConflictRetries: appConfig.Merge.MaxConflictRetries,
	})

	// Initialize Meilisearch using config
	var searcher handlers.Searcher
	var indexer scheduler.Indexer
	if searchClient := search.NewClient(appConfig.Search.Meilisearch); searchClient != nil {
		if err := searchClient.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
		searcher = searchClient
		indexer = searchClient
	} else {
		log.Println("Meilisearch host not configured, search disabled")
	}

	// Initialize rate limiter
	rateLimiter := ratelimit.NewRateLimiter(
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)
	log.Printf("Rate limiter initialized: %d req/min, %d req/hour (enabled: %v)",
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)

	fetchers := fetch.NewFetchers(appConfig.Scraper)
	runner := scheduler.NewRunner(store, engine, fetchers, indexer, appConfig)

	// Initialize and start scheduler
	appScheduler := scheduler.NewScheduler(runner, appConfig)
	if err := appScheduler.Start(); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}
	defer appScheduler.Stop()

	// Setup Gin router
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     appConfig.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	handlers.NewAPI(store, queryService, engine, searcher, rateLimiter).Register(r)
	handlers.NewAdminHandler(ctx, store, runner).Register(r)

	go func() {
		log.Printf("Server starting on port %s", appConfig.Server.Port)
		if err := r.Run(":" + appConfig.Server.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
