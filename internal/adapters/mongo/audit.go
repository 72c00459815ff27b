package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records admin lifecycle commands and accepted bids for the
// dashboard. Best-effort: a write failure is logged, never propagated into
// the bid path.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	ActorID   uuid.UUID `bson:"actor_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, actorID uuid.UUID, data map[string]interface{}) {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.Error("failed to insert audit log", err)
	}
}

func (a *AuditLogger) LogBid(ctx context.Context, bid domain.Bid) {
	a.LogEvent(ctx, "bid.accepted", bid.BidderID, map[string]interface{}{
		"bid_id":     bid.ID,
		"auction_id": bid.AuctionID,
		"amount":     bid.Amount,
		"placed_at":  bid.PlacedAt.Format(time.RFC3339),
	})
}

func (a *AuditLogger) LogStatusChange(ctx context.Context, actorID uuid.UUID, auctionID uuid.UUID, from, to domain.Status) {
	a.LogEvent(ctx, "auction.status_changed", actorID, map[string]interface{}{
		"auction_id": auctionID,
		"from":       string(from),
		"to":         string(to),
	})
}

func (a *AuditLogger) LogReset(ctx context.Context, actorID uuid.UUID) {
	a.LogEvent(ctx, "admin.reset", actorID, map[string]interface{}{})
}

func (a *AuditLogger) LogAuctionCreated(ctx context.Context, actorID uuid.UUID, auction *domain.Auction) {
	a.LogEvent(ctx, "auction.created", actorID, map[string]interface{}{
		"auction_id": auction.ID,
		"lot_number": auction.LotNumber,
		"base_price": auction.BasePrice,
	})
}
