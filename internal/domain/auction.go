package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an auction lot.
type Status string

const (
	StatusUpcoming Status = "UPCOMING"
	StatusLive     Status = "LIVE"
	StatusEnded    Status = "ENDED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusLive, StatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to target.
// UPCOMING -> ENDED is the early-cancellation path; ENDED is terminal.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusUpcoming:
		return target == StatusLive || target == StatusEnded
	case StatusLive:
		return target == StatusEnded
	}
	return false
}

// Bidder is the identity snapshot of the currently leading bidder.
type Bidder struct {
	ID          uuid.UUID
	DisplayName string
	Email       string
}

// ProductSnapshot is the catalog data denormalized onto the auction at
// creation time. The catalog is never consulted again afterwards.
type ProductSnapshot struct {
	ProductID string
	Name      string
	ImageURL  string
	Category  string
	ListPrice int64
}

// Auction is one lot: a single catalog product under the hammer.
// Amounts are whole currency units.
type Auction struct {
	ID              uuid.UUID
	Product         ProductSnapshot
	LotNumber       string
	BasePrice       int64
	MinEstimate     int64
	MaxEstimate     int64
	IncrementAmount int64
	CurrentPrice    int64
	HighestBidder   *Bidder
	StartTime       time.Time
	EndTime         time.Time
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAuction builds an UPCOMING auction with CurrentPrice seeded from BasePrice.
func NewAuction(product ProductSnapshot, lotNumber string, basePrice, minEstimate, maxEstimate, increment int64, startTime, endTime time.Time) (*Auction, error) {
	if lotNumber == "" {
		return nil, ErrInvalidInput
	}
	if basePrice < 0 || minEstimate < 0 || maxEstimate < 0 || increment < 0 {
		return nil, ErrInvalidInput
	}
	if !endTime.After(startTime) {
		return nil, ErrInvalidInput
	}
	now := time.Now().UTC()
	return &Auction{
		ID:              uuid.New(),
		Product:         product,
		LotNumber:       lotNumber,
		BasePrice:       basePrice,
		MinEstimate:     minEstimate,
		MaxEstimate:     maxEstimate,
		IncrementAmount: increment,
		CurrentPrice:    basePrice,
		StartTime:       startTime,
		EndTime:         endTime,
		Status:          StatusUpcoming,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Transition applies an explicit lifecycle command. Moving to the current
// status is a no-op so that re-applied commands and sweep re-runs stay
// idempotent. ENDED rejects everything with ErrAuctionEnded.
func (a *Auction) Transition(target Status) error {
	if !target.Valid() {
		return ErrInvalidInput
	}
	if a.Status == target {
		return nil
	}
	if a.Status == StatusEnded {
		return ErrAuctionEnded
	}
	if !a.Status.CanTransition(target) {
		return ErrInvalidTransition
	}
	a.Status = target
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// DueStatus returns the status the sweep should move the auction to at the
// given instant, and whether any move is due. An UPCOMING auction whose
// window has already fully elapsed goes straight to ENDED.
func (a *Auction) DueStatus(now time.Time) (Status, bool) {
	switch a.Status {
	case StatusUpcoming:
		if !now.Before(a.EndTime) {
			return StatusEnded, true
		}
		if !now.Before(a.StartTime) {
			return StatusLive, true
		}
	case StatusLive:
		if !now.Before(a.EndTime) {
			return StatusEnded, true
		}
	}
	return a.Status, false
}

// ApplyBid records an accepted bid on the record. Callers must have run
// ValidateBid under the auction's lock first.
func (a *Auction) ApplyBid(bidder Bidder, amount int64) {
	a.CurrentPrice = amount
	b := bidder
	a.HighestBidder = &b
	a.UpdatedAt = time.Now().UTC()
}
