package domain

import (
	"time"

	"github.com/google/uuid"
)

// incrementFloor is the smallest allowed bid step regardless of price level.
const incrementFloor = 500

// Bid is one entry in an auction's append-only ledger.
type Bid struct {
	ID         uuid.UUID
	AuctionID  uuid.UUID
	BidderID   uuid.UUID
	BidderName string
	Amount     int64
	PlacedAt   time.Time
}

func NewBid(auctionID uuid.UUID, bidder Bidder, amount int64) Bid {
	return Bid{
		ID:         uuid.New(),
		AuctionID:  auctionID,
		BidderID:   bidder.ID,
		BidderName: bidder.DisplayName,
		Amount:     amount,
		PlacedAt:   time.Now().UTC(),
	}
}

// MinIncrement is the step a new bid must add on top of the current price:
// 5% of the current price rounded up, never below the floor.
func MinIncrement(currentPrice int64) int64 {
	inc := (currentPrice + 19) / 20
	if inc < incrementFloor {
		inc = incrementFloor
	}
	return inc
}

// MinBid is the lowest acceptable next bid for the given current price.
func MinBid(currentPrice int64) int64 {
	return currentPrice + MinIncrement(currentPrice)
}

// MinBidFor is MinBid with the auction's own increment honoured: an
// admin-set IncrementAmount above the floor raises the step, never lowers it.
func MinBidFor(a *Auction) int64 {
	inc := MinIncrement(a.CurrentPrice)
	if a.IncrementAmount > inc {
		inc = a.IncrementAmount
	}
	return a.CurrentPrice + inc
}

// ValidateBid checks a proposed bid against the auction record. Rules run in
// a fixed order so a failing bid always reports the most specific reason:
// lifecycle status, time window, self-outbid, minimum amount. The window
// check runs even when the status is LIVE, so a bid cannot slip into an
// auction whose end time elapsed before the sweep caught up.
func ValidateBid(a *Auction, bidderID uuid.UUID, amount int64, now time.Time) error {
	if a.Status != StatusLive {
		return ErrAuctionNotLive
	}
	if now.Before(a.StartTime) || !now.Before(a.EndTime) {
		return ErrAuctionWindowClosed
	}
	if a.HighestBidder != nil && a.HighestBidder.ID == bidderID {
		return ErrAlreadyHighestBidder
	}
	if amount < MinBidFor(a) {
		return ErrBidTooLow
	}
	return nil
}
