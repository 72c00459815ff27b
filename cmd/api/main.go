package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	mongoadapter "github.com/ovasilenko/coin-auctions/internal/adapters/mongo"
	"github.com/ovasilenko/coin-auctions/internal/adapters/rabbit"
	redisadapter "github.com/ovasilenko/coin-auctions/internal/adapters/redis"
	"github.com/ovasilenko/coin-auctions/internal/auction"
	"github.com/ovasilenko/coin-auctions/internal/auth"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/config"
	httphandler "github.com/ovasilenko/coin-auctions/internal/http"
	"github.com/ovasilenko/coin-auctions/internal/idempotency"
	"github.com/ovasilenko/coin-auctions/internal/lock"
	"github.com/ovasilenko/coin-auctions/internal/observability"
	"github.com/ovasilenko/coin-auctions/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	verifier, err := auth.NewVerifier([]byte(cfg.JWTPublicKey))
	if err != nil {
		log.Fatalf("failed to load JWT public key: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("coinauctions")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	hub := broadcast.NewHub()
	locks := lock.NewKeyed()

	svc := auction.NewService(repo, repo, repo, repo, catalog, locks, hub, cache, audit, logger, cfg.BidLockWait)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Updates committed on other API instances arrive through the broker
	// and fan out to this instance's SSE viewers. Locally accepted bids are
	// pushed directly as well; duplicate delivery is fine, the client
	// re-renders idempotently.
	go consumeUpdates(ctx, rabbitConn, hub, logger)

	handlers := httphandler.NewHandlers(cfg, svc, cache, idemp, hub, logger)
	r := httphandler.SetupRouter(handlers, logger, verifier, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

func consumeUpdates(ctx context.Context, conn *amqp.Connection, hub *broadcast.Hub, logger observability.Logger) {
	consumer, err := rabbit.NewConsumer(conn, "auction.*")
	if err != nil {
		logger.Error("failed to create update consumer", err)
		return
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		logger.Error("failed to consume updates", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			var update broadcast.AuctionUpdate
			if err := json.Unmarshal(msg.Body, &update); err != nil {
				logger.Warn("malformed auction update", err)
				continue
			}
			hub.Publish(update)
		}
	}
}
