package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string

	// SweepInterval paces the lifecycle sweep; the observed client poll
	// interval is 5s, so the sweep defaults to the same cadence.
	SweepInterval time.Duration
	// BidLockWait bounds how long a bid waits for a contended auction
	// before failing with a retryable busy error.
	BidLockWait time.Duration
	// SnapshotTTL caps staleness of the poll-fallback cache.
	SnapshotTTL time.Duration
	// IdempotencyTTL is how long replayed bid responses are kept.
	IdempotencyTTL time.Duration
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return fallback
	}
	return d
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return &Config{
		HTTPAddr:       addr,
		CRDBDSN:        os.Getenv("CRDB_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		JWTPublicKey:   os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SweepInterval:  durationEnv("SWEEP_INTERVAL", 5*time.Second),
		BidLockWait:    durationEnv("BID_LOCK_WAIT", 2*time.Second),
		SnapshotTTL:    durationEnv("SNAPSHOT_TTL", 5*time.Second),
		IdempotencyTTL: durationEnv("IDEMPOTENCY_TTL", time.Hour),
	}, nil
}
