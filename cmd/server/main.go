package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/accounts"
	"github.com/ksred/folio-api/internal/auth"
	"github.com/ksred/folio-api/internal/batch"
	"github.com/ksred/folio-api/internal/cache"
	"github.com/ksred/folio-api/internal/database"
	"github.com/ksred/folio-api/internal/equity"
	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/history"
	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/reconcile"
	"github.com/ksred/folio-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the portfolio API server with graceful shutdown
// support. It sets up the exchange clients, the history engine, the database
// connection and all API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService("folio-secret-key")
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Exchange client registry: the mock exchange is always available for
	// testnet accounts; the REST client is registered when a gateway URL
	// is configured.
	registry := exchange.NewRegistry()
	registry.Register("mock", exchange.NewMockExchange())
	if gatewayURL := os.Getenv("EXCHANGE_API_URL"); gatewayURL != "" {
		restClient := exchange.NewRESTClient(
			exchange.RESTClientConfig{BaseURL: gatewayURL},
			exchange.EnvSignerProvider{},
		)
		registry.Register("bybit", restClient)
	}

	cacheStore := cache.NewStore(db)
	reporter := progress.NewReporter()

	historyService := history.NewService(cacheStore, reporter, registry)
	accountsService := accounts.NewService(db, cacheStore, equity.NewDatabase(db), historyService)
	accountsHandlers := accounts.NewGinHandlers(accountsService)
	historyHandlers := history.NewGinHandlers(historyService, accountsService)

	equityService := equity.NewService(db, accountsService, historyService, registry)
	equityHandlers := equity.NewGinHandlers(equityService)

	reconciler := reconcile.NewReconciler(cacheStore, registry, historyService)
	reconcileHandlers := reconcile.NewGinHandlers(reconciler, accountsService)

	orchestrator := batch.NewOrchestrator(historyService, accountsService, reporter)
	batchHandlers := batch.NewGinHandlers(orchestrator)

	// Create and start the background refresh processor
	refreshProcessor := reconcile.NewProcessor(reconciler, accountsService)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go refreshProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, accountsHandlers, historyHandlers, batchHandlers, reconcileHandlers, equityHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Data routes: Protected by JWT authentication
// Parameters:
//   - router: The main Gin router instance
//   - authHandlers: Handlers for authentication endpoints
//   - accountsHandlers: Handlers for account lifecycle
//   - historyHandlers: Handlers for historical fetches
//   - batchHandlers: Handlers for batch fetch orchestration
//   - reconcileHandlers: Handlers for the merged portfolio view
//   - equityHandlers: Handlers for equity series and backfill
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	accountsHandlers *accounts.GinHandlers,
	historyHandlers *history.GinHandlers,
	batchHandlers *batch.GinHandlers,
	reconcileHandlers *reconcile.GinHandlers,
	equityHandlers *equity.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account routes
		accountsGroup := v1.Group("/accounts")
		accountsGroup.Use(middleware.JWTAuth())
		{
			accountsGroup.POST("", accountsHandlers.CreateAccountHandler())
			accountsGroup.GET("", accountsHandlers.ListAccountsHandler())
			accountsGroup.GET("/:account_id", accountsHandlers.GetAccountHandler())
			accountsGroup.DELETE("/:account_id", accountsHandlers.DeleteAccountHandler())
		}

		// Historical fetch routes
		historyGroup := v1.Group("/history")
		historyGroup.Use(middleware.JWTAuth())
		{
			historyGroup.POST("/fetch/:account_id", historyHandlers.FetchHandler())
			historyGroup.GET("/accounts/:account_id", historyHandlers.GetHistoryHandler())
			historyGroup.POST("/batch", batchHandlers.StartBatchHandler())
			historyGroup.GET("/batch/status", batchHandlers.BatchStatusHandler())
		}

		// Merged portfolio view
		portfolioGroup := v1.Group("/portfolio")
		portfolioGroup.Use(middleware.JWTAuth())
		{
			portfolioGroup.GET("", reconcileHandlers.PortfolioHandler())
		}

		// Equity series routes
		equityGroup := v1.Group("/equity")
		equityGroup.Use(middleware.JWTAuth())
		{
			equityGroup.POST("/backfill", equityHandlers.BackfillHandler())
			equityGroup.GET("/history", equityHandlers.HistoryHandler())
		}
	}
}
