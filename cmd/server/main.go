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

	"github.com/greencycle/ewaste-auction/internal/auction"
	"github.com/greencycle/ewaste-auction/internal/auth"
	"github.com/greencycle/ewaste-auction/internal/config"
	"github.com/greencycle/ewaste-auction/internal/database"
	"github.com/greencycle/ewaste-auction/internal/ledger"
	"github.com/greencycle/ewaste-auction/internal/notify"
	"github.com/greencycle/ewaste-auction/internal/sweeper"
	"github.com/greencycle/ewaste-auction/pkg/middleware"

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

// main initializes and runs the auction engine with graceful shutdown
// support. It wires the directory store, auth, the notification
// dispatcher and the background expiration sweeper.
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Notification fan-out to the external display/audit collaborator
	dispatcher := notify.NewDispatcher(notify.LogSink{}, 256)
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Start(dispatcherCtx)

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterVendor(auth.TestVendorAPIKey, auth.TestVendorAPISecret, "vendor-test")
	authService.RegisterOperator("test-operator-key", "test-operator-secret", "operator-test")

	auctionService := auction.NewService(db, dispatcher)
	auctionHandlers := auction.NewGinHandlers(auctionService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	// Create and start the expiration sweeper
	sweepProcessor := sweeper.NewProcessor(db, dispatcher, cfg.SweepInterval)
	sweepHandlers := sweeper.NewGinHandlers(sweepProcessor)

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	go sweepProcessor.Start(sweeperCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, auctionHandlers, ledgerHandlers, sweepHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
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
// - Auction routes: Public reads; bid submission protected by JWT
// - Internal routes: Sweep trigger and auction seeding for operators
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	sweepHandlers *sweeper.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Auction routes
		auctions := v1.Group("/auctions")
		{
			auctions.GET("/:auction_id", auctionHandlers.GetAuctionHandler())
			auctions.GET("/:auction_id/bids", ledgerHandlers.ListBidHistoryHandler())
			auctions.POST("/:auction_id/bids", middleware.JWTAuth(jwtSecret), auctionHandlers.SubmitBidHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/sweep", sweepHandlers.SweepHandler())
			internal.POST("/auctions", auctionHandlers.CreateAuctionHandler())
		}
	}
}
