package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rifa-service/internal/auth"
	"rifa-service/internal/config"
	"rifa-service/internal/kafka"
	"rifa-service/internal/lock"
	"rifa-service/internal/logger"
	"rifa-service/internal/payment/handler"
	"rifa-service/internal/payment/services"
	"rifa-service/internal/raffle"
	"rifa-service/internal/raffle/api"
	raffledb "rifa-service/internal/raffle/db"
	"rifa-service/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting raffle service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers, log, cfg.Kafka.MockMode)
		defer kafkaProducer.Close()

		if !cfg.Kafka.MockMode {
			requiredTopics := []string{
				cfg.Kafka.Topics.OrderCreated,
				cfg.Kafka.Topics.OrderAwaiting,
				cfg.Kafka.Topics.OrderCompleted,
				cfg.Kafka.Topics.OrderCancelled,
				cfg.Kafka.Topics.OrderExpired,
			}
			if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
				log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
			} else {
				log.Info("KAFKA", "Required topics ensured successfully")
			}
		}
		log.Info("KAFKA", "Kafka producer initialized")
	} else {
		log.Warn("KAFKA", "Kafka disabled, order lifecycle events will not be published")
	}

	emitter := sse.NewRowEventEmitter()
	bridge := sse.NewRedisBridge(redisClient, cfg.Redis.Channel, emitter, log)
	go bridge.Run(ctx)

	var publisher raffle.KafkaPublisher
	if kafkaProducer != nil {
		publisher = kafkaProducer
	}
	raffleService := raffle.NewService(
		&raffledb.DB{Bun: bunDB},
		publisher,
		bridge,
		cfg.Raffle,
		cfg.Kafka.Topics,
		log,
	)

	client := &http.Client{
		Timeout: time.Second * 10,
	}
	tilopayService := services.NewTiloPayService(client, cfg.Payment, log)
	tilopayHandler := handler.NewTiloPayHandler(tilopayService, log)

	raffleHandler := api.NewHandler(raffleService, cfg.Cleanup, log)
	sseHandler := api.NewSSEHandler(emitter, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/api/tickets", raffleHandler.ListTickets)
	r.Get("/api/tickets/stats", raffleHandler.TicketStats)
	r.Post("/api/orders", raffleHandler.CreateOrder)
	r.Post("/api/user-confirm-payment", raffleHandler.UserConfirmPayment)
	r.Get("/api/events/{table}", sseHandler.HandleTableEvents)
	r.Post("/api/tilopay-token", tilopayHandler.SDKToken)
	log.Info("ROUTER", "Public routes registered")

	// --- Cleanup (shared-secret gated, POST with GET alias) ---
	r.Post("/api/cleanup-pending-tickets", raffleHandler.CleanupPendingTickets)
	r.Get("/api/cleanup-pending-tickets", raffleHandler.CleanupPendingTickets)
	log.Info("ROUTER", "Cleanup endpoint registered")

	// --- Admin Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
		r.Post("/api/confirm-payment-sinpe", raffleHandler.ConfirmPaymentSinpe)
		r.Post("/api/cancel-order", raffleHandler.CancelOrder)
		r.Get("/api/orders", raffleHandler.ListOrders)
	})
	log.Info("ROUTER", "Admin routes registered behind OIDC middleware")

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// The external scheduler remains the authority for expiry; this ticker
	// just keeps the window short when the scheduler is late. The Redis
	// lock keeps a multi-instance deployment down to one pass per tick.
	sweepLock := lock.New(redisClient, "raffle:sweep_lock", cfg.Raffle.SweepInterval)
	go raffleService.RunSweeper(ctx, cfg.Raffle.SweepInterval, sweepLock)
	log.Info("SWEEP", fmt.Sprintf("In-process sweeper running every %s", cfg.Raffle.SweepInterval))

	go func() {
		log.Info("HTTP", fmt.Sprintf("Raffle service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Raffle service shutdown complete")
	}
}
