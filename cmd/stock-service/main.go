package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/schoolclinic/clinic-backend/internal/stock/consumers"
	"github.com/schoolclinic/clinic-backend/internal/stock/events"
	"github.com/schoolclinic/clinic-backend/internal/stock/handler"
	"github.com/schoolclinic/clinic-backend/internal/stock/repository"
	"github.com/schoolclinic/clinic-backend/internal/stock/service"
	"github.com/schoolclinic/clinic-backend/pkg/config"
	"github.com/schoolclinic/clinic-backend/pkg/database"
	"github.com/schoolclinic/clinic-backend/pkg/httputil"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/messaging"
)

const serviceName = "stock-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events are optional; without a broker the ledger still works
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.StockEventPublisher
	)
	if cfg.Stock.PublishEvents {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewStockEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("event publishing disabled, issuance requests will not be consumed")
	}

	// Initialize repository and service
	ledgerRepo := repository.NewLedgerRepository(db)
	ledgerService := service.NewLedgerService(ledgerRepo, publisher, log)

	// Start issuance request consumer
	if rmq != nil {
		issuanceHandler := consumers.NewIssuanceHandler(ledgerService, publisher, log)
		issuanceConsumer, err := consumers.NewIssuanceConsumer(rmq, issuanceHandler, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create issuance consumer")
		}
		if err := issuanceConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start issuance consumer")
		}

		go rmq.Watch(ctx, func() error {
			return issuanceConsumer.Start(ctx)
		})
	}

	// Start integrity job
	if cfg.Stock.IntegrityEnabled {
		scheduler := service.NewIntegrityScheduler(ledgerService, cfg.Stock.IntegrityInterval, log)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	stockHandler := handler.NewStockHandler(ledgerService, log)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.Authenticate(httputil.AuthConfig{
		Secret:              cfg.JWT.Secret,
		Issuer:              cfg.JWT.Issuer,
		TrustGatewayHeaders: cfg.JWT.TrustGatewayHeaders,
	}, log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	// API routes
	r.Route("/api/v1/stock", stockHandler.RegisterRoutes)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop consumers and the integrity job after in-flight requests finished
	cancel()

	log.Info().Msg("server stopped")
}
