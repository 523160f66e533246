/**
 * @description
 * This is the main entry point for the vault-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, the card payment gateway client, message brokers,
 * repositories, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store, internal/vault:
 *   Internal packages for the service.
 * - pkg/gatewayclient: Client for the external card payment gateway.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pharmacore/vault-service/internal/api"
	"github.com/pharmacore/vault-service/internal/app"
	"github.com/pharmacore/vault-service/internal/config"
	"github.com/pharmacore/vault-service/internal/domain"
	"github.com/pharmacore/vault-service/internal/store"
	"github.com/pharmacore/vault-service/internal/vault"
	"github.com/pharmacore/vault-service/pkg/gatewayclient"
	rmrabbit "github.com/pharmacore/vault-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSigningSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt signing secret must be configured\" env=JWT_SIGNING_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting vault-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. Missing RabbitMQ
	// should not prevent the service from booting; event publication degrades
	// to a logging fallback.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		producer = rabbitProducer
	}

	// Initialize the client for the external card payment gateway.
	gatewayClient := gatewayclient.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayAPIKey)

	// Optional Redis for fleet-wide lockout tracking. Without it each
	// instance tracks failed attempts in memory.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-memory lockout tracking\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-memory lockout tracking\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	lockoutPolicy := vault.Policy{
		MaxAttempts:     cfg.LoginMaxAttempts,
		LockoutDuration: time.Duration(cfg.LoginLockoutSeconds) * time.Second,
	}
	trackers := func(registry domain.Registry) vault.AttemptTracker {
		if redisClient != nil {
			prefix := fmt.Sprintf("%s:%s", cfg.RedisLockoutPrefix, registry)
			return app.NewRedisLockoutStore(redisClient, prefix, lockoutPolicy)
		}
		return vault.NewLockoutTracker(lockoutPolicy)
	}

	// Initialize the core application service with its dependencies.
	vaultService := app.NewService(
		vault.NewHasher(cfg.SecretHashIterations),
		lockoutPolicy,
		trackers,
		repository,
		gatewayClient,
		producer,
	)

	// Initialize the API handlers.
	vaultHandlers := api.NewVaultHandlers(vaultService, cfg.JWTSigningSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/v1", api.VaultRoutes(vaultHandlers, cfg.JWTSigningSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
