package auction

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/observability"
)

// Sweeper advances auctions through their time-triggered transitions:
// UPCOMING to LIVE once the window opens, anything non-terminal to ENDED
// once it closes. It shares the per-auction lock with the bid path, so a
// lot never ends underneath a bid that already passed validation.
type Sweeper struct {
	svc      *Service
	logger   observability.Logger
	interval time.Duration
}

func NewSweeper(svc *Service, logger observability.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, logger: logger, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			moved, err := s.svc.SweepOnce(ctx, now.UTC())
			if err != nil {
				s.logger.Error("sweep pass failed", err)
				continue
			}
			if moved > 0 {
				s.logger.WithField("transitions", moved).Info("sweep advanced auctions")
			}
		}
	}
}

// SweepOnce applies every due transition at the given instant and reports
// how many auctions moved. Re-running on an already-advanced auction is a
// no-op, and a lot locked by an in-flight bid is skipped until the next
// tick rather than waited on.
func (s *Service) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.auctions.GetDueAuctions(ctx, now)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, candidate := range due {
		advanced, err := s.sweepAuction(ctx, candidate.ID, now)
		if err != nil {
			s.logger.WithField("auction_id", candidate.ID).Error("sweep transition failed", err)
			continue
		}
		if advanced {
			moved++
		}
	}
	return moved, nil
}

func (s *Service) sweepAuction(ctx context.Context, auctionID uuid.UUID, now time.Time) (bool, error) {
	release, ok := s.locks.TryAcquire(auctionID)
	if !ok {
		return false, nil
	}
	defer release()

	var updated *domain.Auction
	var from domain.Status
	advanced := false

	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.auctions.GetAuctionForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		// Re-evaluate under the lock: an admin command may have advanced
		// the auction between the due query and here.
		target, due := a.DueStatus(now)
		if !due {
			return nil
		}
		from = a.Status
		if err := a.Transition(target); err != nil {
			return err
		}
		if err := s.auctions.UpdateAuctionStatus(ctx, tx, a.ID, a.Status); err != nil {
			return err
		}
		if err := s.insertEvent(ctx, tx, a, EventStatusChanged, uuid.New().String()); err != nil {
			return err
		}
		updated = a
		advanced = true
		return nil
	})
	if err != nil {
		// A concurrently deleted lot is not a sweep failure.
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !advanced {
		return false, nil
	}

	observability.SweepTransitions.WithLabelValues(string(updated.Status)).Inc()
	s.afterChange(ctx, updated)
	s.logger.WithField("auction_id", auctionID).WithField("from", string(from)).WithField("to", string(updated.Status)).Info("auction advanced")
	if updated.Status == domain.StatusEnded {
		s.locks.Forget(auctionID)
	}
	return true, nil
}
