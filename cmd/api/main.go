package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/shaham1/raftregatta/internal/api"
	"github.com/shaham1/raftregatta/internal/game"
	"github.com/shaham1/raftregatta/internal/infra/cache"
	"github.com/shaham1/raftregatta/internal/infra/database"
	"github.com/shaham1/raftregatta/internal/infra/events"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	// 1. Initialize Postgres Connection Pool
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	dbConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// 2. Initialize RabbitMQ Publisher
	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		logger.Error("RABBITMQ_URL is not set")
		os.Exit(1)
	}

	amqpConn, err := amqp091.Dial(rabbitURL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	rabbitPublisher, err := events.NewRabbitMQPublisher(amqpConn)
	if err != nil {
		logger.Error("Failed to create RabbitMQ publisher", "error", err)
		os.Exit(1)
	}
	defer rabbitPublisher.Close()
	logger.Info("RabbitMQ Connected")

	// 3. Optional redis cache for the current-round projection
	var roundCache game.RoundCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, running without round cache", "error", err)
		} else {
			roundCache = cache.NewRedisRoundCache(rdb, 2*time.Second)
			logger.Info("Redis Connected")
		}
	}

	// 4. Initialize Repositories (Infrastructure Layer)
	txManager := database.NewPostgresTransactionManager(pool, 3*time.Second)
	teamRepo := database.NewPostgresTeamRepository(pool)
	catalogRepo := database.NewPostgresCatalogRepository(pool)
	roundRepo := database.NewPostgresRoundRepository(pool)
	bidRepo := database.NewPostgresBidRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	// 5. Initialize Service (Domain Layer)
	minBids, err := loadMinBidTable()
	if err != nil {
		logger.Error("Failed to load minimum bid table", "error", err)
		os.Exit(1)
	}

	cfg := game.Config{
		ExcludeUsedImages: os.Getenv("EXCLUDE_USED_IMAGES") == "true",
	}

	gameService := game.NewGameService(
		cfg,
		txManager,
		teamRepo,
		catalogRepo,
		roundRepo,
		bidRepo,
		outboxRepo,
		minBids,
		roundCache,
		logger,
	)

	// 6. Initialize API Handler
	handler := api.NewHandler(gameService, logger)

	// 7. Outbox Relay alongside the server
	outboxRelay := events.NewOutboxRelay(
		outboxRepo,
		rabbitPublisher,
		txManager,
		10,             // batch size
		1*time.Second,  // interval
		events.Exchange,
		logger,
	)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Use h2c for HTTP/2 without TLS (internal services / local dev)
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler.Routes(), &http2.Server{}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting Outbox Relay...")
		return outboxRelay.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting API server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// loadMinBidTable reads per-category minimum bids from MIN_BID_FLOORS
// (a JSON object of category name to amount) and the default floor from
// MIN_BID_DEFAULT. Both are optional.
func loadMinBidTable() (game.MinBidTable, error) {
	defaultFloor := decimal.Zero
	if raw := os.Getenv("MIN_BID_DEFAULT"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return game.MinBidTable{}, err
		}
		defaultFloor = parsed
	}

	floors := map[string]decimal.Decimal{}
	if raw := os.Getenv("MIN_BID_FLOORS"); raw != "" {
		var entries map[string]string
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return game.MinBidTable{}, err
		}
		for name, value := range entries {
			parsed, err := decimal.NewFromString(value)
			if err != nil {
				return game.MinBidTable{}, err
			}
			floors[name] = parsed
		}
	}

	return game.NewMinBidTable(floors, defaultFloor), nil
}
