package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinIncrement(t *testing.T) {
	tests := []struct {
		name         string
		currentPrice int64
		want         int64
	}{
		{name: "below the floor", currentPrice: 1000, want: 500},
		{name: "at the floor boundary", currentPrice: 10000, want: 500},
		{name: "just above the boundary rounds up", currentPrice: 10001, want: 501},
		{name: "five percent of a large price", currentPrice: 100000, want: 5000},
		{name: "rounding is always up", currentPrice: 10019, want: 501},
		{name: "zero price still has the floor", currentPrice: 0, want: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MinIncrement(tt.currentPrice))
		})
	}
}

func TestMinBid(t *testing.T) {
	assert.Equal(t, int64(1500), MinBid(1000))
	assert.Equal(t, int64(2000), MinBid(1500))
	assert.Equal(t, int64(105000), MinBid(100000))
}

func TestMinBidForHonoursAuctionIncrement(t *testing.T) {
	now := time.Now().UTC()
	a := testAuction(t, StatusLive, now.Add(-time.Hour), now.Add(time.Hour))

	// Computed increment at price 1000 is the 500 floor.
	assert.Equal(t, int64(1500), MinBidFor(a))

	// An admin-set increment above the floor raises the step.
	a.IncrementAmount = 750
	assert.Equal(t, int64(1750), MinBidFor(a))

	// One below it never lowers it.
	a.IncrementAmount = 100
	assert.Equal(t, int64(1500), MinBidFor(a))
}

func TestValidateBid(t *testing.T) {
	now := time.Now().UTC()
	alice := uuid.New()
	bob := uuid.New()

	liveAuction := func() *Auction {
		return testAuction(t, StatusLive, now.Add(-time.Hour), now.Add(time.Hour))
	}

	t.Run("first bid at the minimum is accepted", func(t *testing.T) {
		a := liveAuction()
		require.NoError(t, ValidateBid(a, alice, 1500, now))
	})

	t.Run("first bid below the minimum is rejected", func(t *testing.T) {
		a := liveAuction()
		assert.ErrorIs(t, ValidateBid(a, alice, 1499, now), ErrBidTooLow)
	})

	t.Run("leader cannot outbid themselves", func(t *testing.T) {
		a := liveAuction()
		a.ApplyBid(Bidder{ID: alice, DisplayName: "alice"}, 1500)
		assert.ErrorIs(t, ValidateBid(a, alice, 5000, now), ErrAlreadyHighestBidder)
	})

	t.Run("second bidder needs the raised minimum", func(t *testing.T) {
		a := liveAuction()
		a.ApplyBid(Bidder{ID: alice, DisplayName: "alice"}, 1500)
		assert.ErrorIs(t, ValidateBid(a, bob, 1999, now), ErrBidTooLow)
		require.NoError(t, ValidateBid(a, bob, 2000, now))
		require.NoError(t, ValidateBid(a, bob, 2200, now))
	})

	t.Run("upcoming auction rejects bids as not live", func(t *testing.T) {
		a := testAuction(t, StatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))
		assert.ErrorIs(t, ValidateBid(a, alice, 1500, now), ErrAuctionNotLive)
	})

	t.Run("ended auction rejects bids as not live", func(t *testing.T) {
		a := testAuction(t, StatusEnded, now.Add(-2*time.Hour), now.Add(-time.Hour))
		assert.ErrorIs(t, ValidateBid(a, alice, 1500, now), ErrAuctionNotLive)
	})

	t.Run("window check catches a live auction past its end", func(t *testing.T) {
		// The sweep has not caught up yet: status is still LIVE but the
		// window has elapsed. The bid must not slip in.
		a := testAuction(t, StatusLive, now.Add(-2*time.Hour), now.Add(-time.Second))
		assert.ErrorIs(t, ValidateBid(a, alice, 1500, now), ErrAuctionWindowClosed)
	})

	t.Run("window check precedes the amount check", func(t *testing.T) {
		a := testAuction(t, StatusLive, now.Add(-2*time.Hour), now.Add(-time.Second))
		assert.ErrorIs(t, ValidateBid(a, alice, 1, now), ErrAuctionWindowClosed)
	})

	t.Run("self-outbid check precedes the amount check", func(t *testing.T) {
		a := liveAuction()
		a.ApplyBid(Bidder{ID: alice, DisplayName: "alice"}, 1500)
		assert.ErrorIs(t, ValidateBid(a, alice, 1, now), ErrAlreadyHighestBidder)
	})

	t.Run("bid exactly at the end instant is rejected", func(t *testing.T) {
		a := testAuction(t, StatusLive, now.Add(-time.Hour), now)
		assert.ErrorIs(t, ValidateBid(a, alice, 1500, now), ErrAuctionWindowClosed)
	})
}
