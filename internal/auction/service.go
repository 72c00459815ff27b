package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	"github.com/ovasilenko/coin-auctions/internal/broadcast"
	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/observability"
)

const (
	EventBidAccepted   = "auction.bid_accepted"
	EventStatusChanged = "auction.status_changed"
)

// Service owns the auction lifecycle and the bid path. Every mutation of a
// single auction runs under that auction's lock and inside one transaction,
// so the record and the ledger move together or not at all.
type Service struct {
	tx       TxRunner
	auctions AuctionStore
	bids     BidLedger
	outbox   OutboxStore
	catalog  Catalog
	locks    Locker
	notifier Notifier
	cache    SnapshotCache
	audit    Audit
	logger   observability.Logger
	lockWait time.Duration
}

func NewService(
	tx TxRunner,
	auctions AuctionStore,
	bids BidLedger,
	outbox OutboxStore,
	catalog Catalog,
	locks Locker,
	notifier Notifier,
	cache SnapshotCache,
	audit Audit,
	logger observability.Logger,
	lockWait time.Duration,
) *Service {
	return &Service{
		tx:       tx,
		auctions: auctions,
		bids:     bids,
		outbox:   outbox,
		catalog:  catalog,
		locks:    locks,
		notifier: notifier,
		cache:    cache,
		audit:    audit,
		logger:   logger,
		lockWait: lockWait,
	}
}

type CreateAuctionCommand struct {
	ProductID       string
	LotNumber       string
	BasePrice       int64
	MinEstimate     int64
	MaxEstimate     int64
	IncrementAmount int64
	StartTime       time.Time
	EndTime         time.Time
}

type UpdateAuctionCommand struct {
	BasePrice       *int64
	LotNumber       *string
	MinEstimate     *int64
	MaxEstimate     *int64
	IncrementAmount *int64
	StartTime       *time.Time
	EndTime         *time.Time
}

// CreateAuction snapshots the catalog product and records a new UPCOMING lot.
func (s *Service) CreateAuction(ctx context.Context, actorID uuid.UUID, cmd CreateAuctionCommand) (*domain.Auction, error) {
	product, err := s.catalog.GetProductSnapshot(ctx, cmd.ProductID)
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}

	a, err := domain.NewAuction(product, cmd.LotNumber, cmd.BasePrice, cmd.MinEstimate, cmd.MaxEstimate, cmd.IncrementAmount, cmd.StartTime, cmd.EndTime)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.auctions.CreateAuction(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAuctionCreated(ctx, actorID, a)
	return a, nil
}

// PlaceBid is the serialized bid path: per-auction lock, then one
// transaction covering validate, ledger append, record update and outbox
// event. A lock that cannot be had within the configured wait fails with
// ErrBusy so the client can retry instead of queueing.
func (s *Service) PlaceBid(ctx context.Context, auctionID uuid.UUID, bidder domain.Bidder, amount int64) (*domain.Bid, *domain.Auction, error) {
	lockStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, auctionID)
	observability.BidLockWait.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		observability.BidsRejected.WithLabelValues("busy").Inc()
		return nil, nil, domain.ErrBusy
	}
	defer release()

	var bid domain.Bid
	var updated *domain.Auction

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.auctions.GetAuctionForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		if err := domain.ValidateBid(a, bidder.ID, amount, time.Now().UTC()); err != nil {
			return err
		}

		bid = domain.NewBid(a.ID, bidder, amount)
		if err := s.bids.InsertBid(ctx, tx, bid); err != nil {
			return fmt.Errorf("append bid: %w", err)
		}

		a.ApplyBid(bidder, amount)
		if err := s.auctions.UpdateAuctionPrice(ctx, tx, a.ID, a.CurrentPrice, bidder); err != nil {
			return fmt.Errorf("update price: %w", err)
		}

		if err := s.insertEvent(ctx, tx, a, EventBidAccepted, bid.ID.String()); err != nil {
			return fmt.Errorf("record event: %w", err)
		}

		updated = a
		return nil
	})
	if err != nil {
		s.countRejection(err)
		return nil, nil, err
	}

	observability.BidsAccepted.Inc()
	s.afterChange(ctx, updated)
	s.audit.LogBid(ctx, bid)
	return &bid, updated, nil
}

// SetStatus applies an explicit administrative lifecycle command. Commanding
// the current status is a no-op, so repeated commands and sweep overlap stay
// harmless. Transitioning shares the bid path's lock: an auction cannot end
// while a bid is mid-validation.
func (s *Service) SetStatus(ctx context.Context, actorID uuid.UUID, auctionID uuid.UUID, target domain.Status) (*domain.Auction, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, auctionID)
	if err != nil {
		return nil, domain.ErrBusy
	}
	defer release()

	var updated *domain.Auction
	var from domain.Status
	changed := false

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.auctions.GetAuctionForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		from = a.Status
		if err := a.Transition(target); err != nil {
			return err
		}
		updated = a
		if a.Status == from {
			return nil
		}
		changed = true
		if err := s.auctions.UpdateAuctionStatus(ctx, tx, a.ID, a.Status); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, a, EventStatusChanged, uuid.New().String())
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterChange(ctx, updated)
		s.audit.LogStatusChange(ctx, actorID, auctionID, from, updated.Status)
		if updated.Status == domain.StatusEnded {
			s.locks.Forget(auctionID)
		}
	}
	return updated, nil
}

// UpdateAuction edits the fields an administrator may still change. Base
// price and lot number are frozen once any bid exists.
func (s *Service) UpdateAuction(ctx context.Context, auctionID uuid.UUID, cmd UpdateAuctionCommand) (*domain.Auction, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, auctionID)
	if err != nil {
		return nil, domain.ErrBusy
	}
	defer release()

	var updated *domain.Auction
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.auctions.GetAuctionForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if a.Status == domain.StatusEnded {
			return domain.ErrAuctionEnded
		}

		if cmd.MinEstimate != nil {
			a.MinEstimate = *cmd.MinEstimate
		}
		if cmd.MaxEstimate != nil {
			a.MaxEstimate = *cmd.MaxEstimate
		}
		if cmd.IncrementAmount != nil {
			a.IncrementAmount = *cmd.IncrementAmount
		}
		if cmd.StartTime != nil {
			a.StartTime = *cmd.StartTime
		}
		if cmd.EndTime != nil {
			a.EndTime = *cmd.EndTime
		}
		if a.MinEstimate < 0 || a.MaxEstimate < 0 || a.IncrementAmount < 0 || !a.EndTime.After(a.StartTime) {
			return domain.ErrInvalidInput
		}
		if err := s.auctions.UpdateAuctionDetails(ctx, tx, a); err != nil {
			return err
		}

		if cmd.BasePrice != nil || cmd.LotNumber != nil {
			base := a.BasePrice
			lot := a.LotNumber
			if cmd.BasePrice != nil {
				if *cmd.BasePrice < 0 {
					return domain.ErrInvalidInput
				}
				base = *cmd.BasePrice
			}
			if cmd.LotNumber != nil {
				if *cmd.LotNumber == "" {
					return domain.ErrInvalidInput
				}
				lot = *cmd.LotNumber
			}
			if err := s.auctions.UpdateAuctionBase(ctx, tx, a.ID, base, lot); err != nil {
				return err
			}
			a.BasePrice = base
			a.CurrentPrice = base
			a.LotNumber = lot
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if invErr := s.cache.InvalidateSnapshot(ctx, auctionID.String()); invErr != nil {
		s.logger.Warn("snapshot invalidation failed", invErr)
	}
	return updated, nil
}

// DeleteAuction soft-deletes a lot. Rejected with ErrHasBids once any bid
// exists; the ledger is archival at that point.
func (s *Service) DeleteAuction(ctx context.Context, auctionID uuid.UUID) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, auctionID)
	if err != nil {
		return domain.ErrBusy
	}
	defer release()

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.auctions.DeleteAuction(ctx, tx, auctionID)
	})
	if err != nil {
		return err
	}
	if invErr := s.cache.InvalidateSnapshot(ctx, auctionID.String()); invErr != nil {
		s.logger.Warn("snapshot invalidation failed", invErr)
	}
	s.locks.Forget(auctionID)
	return nil
}

func (s *Service) GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return s.auctions.GetAuction(ctx, auctionID)
}

func (s *Service) ListAuctions(ctx context.Context, status *domain.Status) ([]*domain.Auction, error) {
	return s.auctions.ListAuctions(ctx, status)
}

func (s *Service) ListBids(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	if _, err := s.auctions.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.bids.ListBidsByAuction(ctx, auctionID)
}

// Reset purges the whole bid ledger and rewinds auction prices to their base.
// Bulk test-data cleanup for the admin dashboard.
func (s *Service) Reset(ctx context.Context, actorID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.bids.PurgeBids(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.audit.LogReset(ctx, actorID)
	return nil
}

func (s *Service) insertEvent(ctx context.Context, tx pgx.Tx, a *domain.Auction, eventType, dedupeKey string) error {
	payload, err := json.Marshal(broadcast.SnapshotFrom(a))
	if err != nil {
		return err
	}
	return s.outbox.InsertOutbox(ctx, tx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "auction",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     dedupeKey,
	})
}

// afterChange runs the best-effort post-commit fanout: push to connected
// viewers and drop the poll cache.
func (s *Service) afterChange(ctx context.Context, a *domain.Auction) {
	s.notifier.Publish(broadcast.SnapshotFrom(a))
	if err := s.cache.InvalidateSnapshot(ctx, a.ID.String()); err != nil {
		s.logger.Warn("snapshot invalidation failed", err)
	}
}

func (s *Service) countRejection(err error) {
	reason := "storage"
	switch {
	case errors.Is(err, domain.ErrBidTooLow):
		reason = "bid_too_low"
	case errors.Is(err, domain.ErrAlreadyHighestBidder):
		reason = "already_highest"
	case errors.Is(err, domain.ErrAuctionNotLive):
		reason = "not_live"
	case errors.Is(err, domain.ErrAuctionWindowClosed):
		reason = "window_closed"
	case errors.Is(err, domain.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, domain.ErrSerializationFailure):
		reason = "serialization"
	}
	observability.BidsRejected.WithLabelValues(reason).Inc()
}
