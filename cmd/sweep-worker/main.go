package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	mongoadapter "github.com/ovasilenko/coin-auctions/internal/adapters/mongo"
	redisadapter "github.com/ovasilenko/coin-auctions/internal/adapters/redis"
	"github.com/ovasilenko/coin-auctions/internal/auction"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/config"
	"github.com/ovasilenko/coin-auctions/internal/lock"
	"github.com/ovasilenko/coin-auctions/internal/observability"
)

// The sweep worker advances auction lifecycles on schedule. Status changes
// it commits reach viewers through the outbox relay; the worker itself has
// no subscribers, so its hub stays empty.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

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

	svc := auction.NewService(repo, repo, repo, repo, catalog, lock.NewKeyed(), broadcast.NewHub(), cache, audit, logger, cfg.BidLockWait)
	sweeper := auction.NewSweeper(svc, logger, cfg.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweep worker")
}
