package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovasilenko/coin-auctions/internal/auction"
	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/lock"
	"github.com/ovasilenko/coin-auctions/internal/observability"
	"github.com/ovasilenko/coin-auctions/internal/testhelpers"
)

type fixture struct {
	store    *testhelpers.MemoryStore
	catalog  *testhelpers.FakeCatalog
	notifier *testhelpers.RecorderNotifier
	audit    *testhelpers.RecorderAudit
	locks    *lock.Keyed
	svc      *auction.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testhelpers.NewMemoryStore(),
		catalog:  testhelpers.NewFakeCatalog(),
		notifier: &testhelpers.RecorderNotifier{},
		audit:    &testhelpers.RecorderAudit{},
		locks:    lock.NewKeyed(),
	}
	f.catalog.Products["coin-1921-morgan"] = domain.ProductSnapshot{
		ProductID: "coin-1921-morgan",
		Name:      "1921 Morgan Silver Dollar",
		Category:  "coins",
		ListPrice: 2500,
	}
	f.svc = auction.NewService(
		f.store, f.store, f.store, f.store,
		f.catalog, f.locks, f.notifier, testhelpers.NopCache{}, f.audit,
		observability.NewLogger(), 5*time.Second,
	)
	return f
}

func (f *fixture) seedAuction(t *testing.T, status domain.Status, start, end time.Time) *domain.Auction {
	t.Helper()
	a, err := domain.NewAuction(
		f.catalog.Products["coin-1921-morgan"],
		"LOT-"+uuid.NewString()[:8], 1000, 1500, 3000, 0, start, end,
	)
	require.NoError(t, err)
	a.Status = status
	f.store.Seed(a)
	return a
}

func (f *fixture) seedLive(t *testing.T) *domain.Auction {
	now := time.Now().UTC()
	return f.seedAuction(t, domain.StatusLive, now.Add(-time.Hour), now.Add(time.Hour))
}

func bidder(name string) domain.Bidder {
	return domain.Bidder{ID: uuid.New(), DisplayName: name, Email: name + "@example.com"}
}

func TestCreateAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cmd := auction.CreateAuctionCommand{
		ProductID:   "coin-1921-morgan",
		LotNumber:   "LOT-001",
		BasePrice:   1000,
		MinEstimate: 1500,
		MaxEstimate: 3000,
		StartTime:   now.Add(time.Hour),
		EndTime:     now.Add(2 * time.Hour),
	}

	a, err := f.svc.CreateAuction(ctx, uuid.New(), cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUpcoming, a.Status)
	assert.Equal(t, int64(1000), a.CurrentPrice)
	assert.Equal(t, "1921 Morgan Silver Dollar", a.Product.Name)
	assert.Contains(t, f.audit.Actions, "auction.created")

	stored, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "LOT-001", stored.LotNumber)

	t.Run("unknown product", func(t *testing.T) {
		cmd := cmd
		cmd.ProductID = "no-such-coin"
		cmd.LotNumber = "LOT-002"
		_, err := f.svc.CreateAuction(ctx, uuid.New(), cmd)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate lot number", func(t *testing.T) {
		_, err := f.svc.CreateAuction(ctx, uuid.New(), cmd)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestPlaceBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedLive(t)
	alice := bidder("alice")

	bid, updated, err := f.svc.PlaceBid(ctx, a.ID, alice, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bid.Amount)
	assert.Equal(t, int64(1500), updated.CurrentPrice)
	require.NotNil(t, updated.HighestBidder)
	assert.Equal(t, alice.ID, updated.HighestBidder.ID)

	// Record, ledger and event moved together.
	assert.Equal(t, 1, f.store.BidCount(a.ID))
	require.Len(t, f.store.Outbox, 1)
	assert.Equal(t, auction.EventBidAccepted, f.store.Outbox[0].EventType)
	assert.Equal(t, a.ID, f.store.Outbox[0].AggregateID)
	assert.Equal(t, 1, f.notifier.Count())
	assert.Contains(t, f.audit.Actions, "bid.accepted")

	t.Run("below raised minimum", func(t *testing.T) {
		_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("bob"), 1999)
		assert.ErrorIs(t, err, domain.ErrBidTooLow)
		assert.Equal(t, 1, f.store.BidCount(a.ID))
	})

	t.Run("leader cannot raise their own bid", func(t *testing.T) {
		_, _, err := f.svc.PlaceBid(ctx, a.ID, alice, 2500)
		assert.ErrorIs(t, err, domain.ErrAlreadyHighestBidder)
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, _, err := f.svc.PlaceBid(ctx, uuid.New(), bidder("bob"), 1500)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("upcoming auction", func(t *testing.T) {
		now := time.Now().UTC()
		upcoming := f.seedAuction(t, domain.StatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))
		_, _, err := f.svc.PlaceBid(ctx, upcoming.ID, bidder("bob"), 1500)
		assert.ErrorIs(t, err, domain.ErrAuctionNotLive)
	})
}

func TestPlaceBidRollsBackAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedLive(t)

	f.store.FailOutbox = true
	_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("alice"), 1500)
	require.Error(t, err)

	// The ledger append and price update preceded the failing event insert;
	// none of it may survive.
	assert.Equal(t, 0, f.store.BidCount(a.ID))
	reloaded, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reloaded.CurrentPrice)
	assert.Nil(t, reloaded.HighestBidder)
	assert.Empty(t, f.store.Outbox)
	assert.Equal(t, 0, f.notifier.Count())
}

func TestPlaceBidConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedLive(t)

	const bidders = 16
	var wg sync.WaitGroup
	results := make(chan error, bidders)

	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder(name), 1500)
			results <- err
		}(uuid.NewString())
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrBidTooLow)
	}

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, f.store.BidCount(a.ID))

	reloaded, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), reloaded.CurrentPrice)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	now := time.Now().UTC()

	t.Run("upcoming to live", func(t *testing.T) {
		a := f.seedAuction(t, domain.StatusUpcoming, now.Add(-time.Minute), now.Add(time.Hour))
		updated, err := f.svc.SetStatus(ctx, admin, a.ID, domain.StatusLive)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusLive, updated.Status)
		assert.Contains(t, f.audit.Actions, "auction.status_changed")
		require.NotEmpty(t, f.store.Outbox)
		assert.Equal(t, auction.EventStatusChanged, f.store.Outbox[len(f.store.Outbox)-1].EventType)
	})

	t.Run("repeated command is a no-op without events", func(t *testing.T) {
		a := f.seedLive(t)
		events := len(f.store.Outbox)
		notifications := f.notifier.Count()

		updated, err := f.svc.SetStatus(ctx, admin, a.ID, domain.StatusLive)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusLive, updated.Status)
		assert.Len(t, f.store.Outbox, events)
		assert.Equal(t, notifications, f.notifier.Count())
	})

	t.Run("upcoming cancelled straight to ended", func(t *testing.T) {
		a := f.seedAuction(t, domain.StatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))
		updated, err := f.svc.SetStatus(ctx, admin, a.ID, domain.StatusEnded)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusEnded, updated.Status)
	})

	t.Run("ended is terminal", func(t *testing.T) {
		a := f.seedAuction(t, domain.StatusEnded, now.Add(-2*time.Hour), now.Add(-time.Hour))
		_, err := f.svc.SetStatus(ctx, admin, a.ID, domain.StatusLive)
		assert.ErrorIs(t, err, domain.ErrAuctionEnded)
	})

	t.Run("live cannot rewind to upcoming", func(t *testing.T) {
		a := f.seedLive(t)
		_, err := f.svc.SetStatus(ctx, admin, a.ID, domain.StatusUpcoming)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestSweepOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	opening := f.seedAuction(t, domain.StatusUpcoming, now.Add(-time.Minute), now.Add(time.Hour))
	closing := f.seedAuction(t, domain.StatusLive, now.Add(-2*time.Hour), now.Add(-time.Minute))
	expired := f.seedAuction(t, domain.StatusUpcoming, now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	idle := f.seedAuction(t, domain.StatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))

	moved, err := f.svc.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	assertStatus := func(id uuid.UUID, want domain.Status) {
		t.Helper()
		a, err := f.svc.GetAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a.Status)
	}
	assertStatus(opening.ID, domain.StatusLive)
	assertStatus(closing.ID, domain.StatusEnded)
	assertStatus(expired.ID, domain.StatusEnded)
	assertStatus(idle.ID, domain.StatusUpcoming)

	// Every transition produced exactly one event.
	assert.Len(t, f.store.Outbox, 3)

	t.Run("second pass is a no-op", func(t *testing.T) {
		moved, err := f.svc.SweepOnce(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 0, moved)
		assert.Len(t, f.store.Outbox, 3)
	})

	t.Run("locked auction is skipped, not waited on", func(t *testing.T) {
		later := now.Add(90 * time.Minute)
		release, err := f.locks.Acquire(ctx, opening.ID)
		require.NoError(t, err)

		moved, err := f.svc.SweepOnce(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)
		assertStatus(opening.ID, domain.StatusLive)
		assertStatus(idle.ID, domain.StatusLive)

		release()

		moved, err = f.svc.SweepOnce(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)
		assertStatus(opening.ID, domain.StatusEnded)
	})
}

func TestUpdateAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("edits details and base before any bid", func(t *testing.T) {
		a := f.seedLive(t)
		base := int64(2000)
		inc := int64(750)
		updated, err := f.svc.UpdateAuction(ctx, a.ID, auction.UpdateAuctionCommand{
			BasePrice:       &base,
			IncrementAmount: &inc,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2000), updated.BasePrice)
		assert.Equal(t, int64(2000), updated.CurrentPrice)
		assert.Equal(t, int64(750), updated.IncrementAmount)
	})

	t.Run("base price frozen after first bid", func(t *testing.T) {
		a := f.seedLive(t)
		_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("alice"), 1500)
		require.NoError(t, err)

		base := int64(2000)
		_, err = f.svc.UpdateAuction(ctx, a.ID, auction.UpdateAuctionCommand{BasePrice: &base})
		assert.ErrorIs(t, err, domain.ErrHasBids)

		// Estimates stay editable.
		est := int64(5000)
		updated, err := f.svc.UpdateAuction(ctx, a.ID, auction.UpdateAuctionCommand{MaxEstimate: &est})
		require.NoError(t, err)
		assert.Equal(t, int64(5000), updated.MaxEstimate)
	})

	t.Run("ended auction is immutable", func(t *testing.T) {
		a := f.seedAuction(t, domain.StatusEnded, now.Add(-2*time.Hour), now.Add(-time.Hour))
		est := int64(5000)
		_, err := f.svc.UpdateAuction(ctx, a.ID, auction.UpdateAuctionCommand{MaxEstimate: &est})
		assert.ErrorIs(t, err, domain.ErrAuctionEnded)
	})

	t.Run("window must stay coherent", func(t *testing.T) {
		a := f.seedLive(t)
		end := now.Add(-3 * time.Hour)
		_, err := f.svc.UpdateAuction(ctx, a.ID, auction.UpdateAuctionCommand{EndTime: &end})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestDeleteAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("deletes a lot without bids", func(t *testing.T) {
		a := f.seedLive(t)
		require.NoError(t, f.svc.DeleteAuction(ctx, a.ID))
		_, err := f.svc.GetAuction(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("refuses once the ledger has entries", func(t *testing.T) {
		a := f.seedLive(t)
		_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("alice"), 1500)
		require.NoError(t, err)

		err = f.svc.DeleteAuction(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrHasBids)
	})
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedLive(t)

	_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("alice"), 1500)
	require.NoError(t, err)
	_, _, err = f.svc.PlaceBid(ctx, a.ID, bidder("bob"), 2000)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(ctx, uuid.New()))

	assert.Equal(t, 0, f.store.BidCount(a.ID))
	reloaded, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reloaded.CurrentPrice)
	assert.Nil(t, reloaded.HighestBidder)
	assert.Contains(t, f.audit.Actions, "admin.reset")
}

func TestListBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedLive(t)

	_, _, err := f.svc.PlaceBid(ctx, a.ID, bidder("alice"), 1500)
	require.NoError(t, err)
	_, _, err = f.svc.PlaceBid(ctx, a.ID, bidder("bob"), 2000)
	require.NoError(t, err)

	bids, err := f.svc.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, int64(1500), bids[0].Amount)
	assert.Equal(t, int64(2000), bids[1].Amount)

	t.Run("unknown auction", func(t *testing.T) {
		_, err := f.svc.ListBids(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestListAuctionsFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedLive(t)
	f.seedLive(t)
	f.seedAuction(t, domain.StatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))

	all, err := f.svc.ListAuctions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	live := domain.StatusLive
	filtered, err := f.svc.ListAuctions(ctx, &live)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}
