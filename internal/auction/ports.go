package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/domain"
)

// TxRunner scopes a unit of work to one database transaction. Tx-scoped
// store methods only see committed state once the whole unit commits, which
// is what keeps the ledger and the auction record from diverging.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// AuctionStore is the durable auction record store.
type AuctionStore interface {
	CreateAuction(ctx context.Context, tx pgx.Tx, a *domain.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	GetAuctionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error)
	ListAuctions(ctx context.Context, status *domain.Status) ([]*domain.Auction, error)
	UpdateAuctionPrice(ctx context.Context, tx pgx.Tx, id uuid.UUID, price int64, bidder domain.Bidder) error
	UpdateAuctionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.Status) error
	UpdateAuctionDetails(ctx context.Context, tx pgx.Tx, a *domain.Auction) error
	UpdateAuctionBase(ctx context.Context, tx pgx.Tx, id uuid.UUID, basePrice int64, lotNumber string) error
	DeleteAuction(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	GetDueAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error)
}

// BidLedger is the append-only bid history.
type BidLedger interface {
	InsertBid(ctx context.Context, tx pgx.Tx, bid domain.Bid) error
	ListBidsByAuction(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error)
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*domain.Bid, error)
	CountBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error)
	PurgeBids(ctx context.Context, tx pgx.Tx) error
}

// OutboxStore records events in the same transaction as the state change
// they describe.
type OutboxStore interface {
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// Catalog supplies the product snapshot at auction creation. Not consulted
// afterwards.
type Catalog interface {
	GetProductSnapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error)
}

// Locker serializes work per auction id.
type Locker interface {
	Acquire(ctx context.Context, id uuid.UUID) (release func(), err error)
	TryAcquire(id uuid.UUID) (release func(), ok bool)
	Forget(id uuid.UUID)
}

// Notifier pushes an update to connected viewers. Best-effort.
type Notifier interface {
	Publish(update broadcast.AuctionUpdate)
}

// SnapshotCache invalidates the poll-fallback cache after a state change.
type SnapshotCache interface {
	InvalidateSnapshot(ctx context.Context, auctionID string) error
}

// Audit records administrative commands and accepted bids. Implementations
// must be best-effort and never fail the calling path.
type Audit interface {
	LogBid(ctx context.Context, bid domain.Bid)
	LogStatusChange(ctx context.Context, actorID uuid.UUID, auctionID uuid.UUID, from, to domain.Status)
	LogAuctionCreated(ctx context.Context, actorID uuid.UUID, a *domain.Auction)
	LogReset(ctx context.Context, actorID uuid.UUID)
}
