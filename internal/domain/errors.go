package domain

import "errors"

// Validation failures: surfaced to the bidder verbatim, never retried.
var (
	ErrBidTooLow            = errors.New("bid below minimum required amount")
	ErrAlreadyHighestBidder = errors.New("bidder already holds the highest bid")
	ErrAuctionNotLive       = errors.New("auction is not live")
	ErrAuctionWindowClosed  = errors.New("auction window is closed")
)

// State failures: permanent, no retry.
var (
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrHasBids           = errors.New("auction has bids")
)

// Transient and boundary failures.
var (
	ErrBusy                 = errors.New("auction busy, retry")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
)
